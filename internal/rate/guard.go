package rate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Reason  string
	RetryAt time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("tado rate limited: %s", e.Reason)
	}
	return fmt.Sprintf("tado rate limited: %s (retry at %s)", e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// Usage is a point-in-time view of observed quota consumption.
type Usage struct {
	Limit     int
	Remaining int
	Used      int
	ResetAt   time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Guard enforces the daily quota.
type Guard struct {
	decl Declaration

	mu         sync.Mutex
	remaining  int
	limit      int
	used       int
	hasHeaders bool
	resetAt    time.Time
	cooldown   time.Time
	lastStatus int
	bucket     *bucket
	cache      map[string]cacheEntry
}

// WrapHTTP wraps an http.Client with quota enforcement and returns the
// guard so callers can inspect budget state and serve cached responses.
func WrapHTTP(decl Declaration, base *http.Client) (*http.Client, *Guard) {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	guard := NewGuard(decl)
	client.Transport = &roundTripper{
		base:  transport,
		guard: guard,
	}
	return &client, guard
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:      decl,
		remaining: decl.DailyLimit(),
		limit:     decl.DailyLimit(),
		resetAt:   NextReset(time.Now()),
		cache:     make(map[string]cacheEntry),
	}
	if decl.HasLimits() {
		g.bucket = &bucket{
			capacity: decl.DailyLimit(),
			tokens:   float64(decl.DailyLimit()),
			last:     time.Now(),
		}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	bodyBytes, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	decision := rt.guard.ShouldCall(time.Now())
	if !decision.Allowed {
		if cached := rt.guard.cachedResponse(req, bodyBytes); cached != nil {
			return cached, nil
		}
		return nil, RateLimitError{
			Reason:  decision.Reason,
			RetryAt: decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	rt.guard.RecordResponse(resp.StatusCode, resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAt := rt.guard.Cooldown()
		resp.Body.Close()
		return nil, RateLimitError{Reason: "quota exhausted", RetryAt: retryAt}
	}

	resp, err = rt.guard.maybeCacheResponse(req, bodyBytes, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.decl.HasLimits() {
		return Decision{Allowed: false, Reason: "disabled"}
	}

	g.rollWindow(now)

	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	if g.hasHeaders {
		if g.remaining <= g.decl.Floor() {
			return Decision{Allowed: false, Reason: "budget", RetryAt: g.resetAt}
		}
		g.remaining--
		g.used++
		return Decision{Allowed: true}
	}

	if !consumeToken(g.bucket, 24*time.Hour) {
		retryAt := g.bucket.last.Add(24 * time.Hour / time.Duration(g.bucket.capacity))
		return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
	}
	g.used++
	return Decision{Allowed: true}
}

func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.rollWindow(now)

	g.lastStatus = status
	lastStatusGauge.Set(float64(status))

	mapping := g.decl.HeaderMapping()
	if quota := extractField(headers.Get(mapping.Policy), "q"); quota >= 0 {
		g.limit = quota
		quotaLimitGauge.Set(float64(quota))
	}
	if remaining := extractField(headers.Get(mapping.Current), "r"); remaining >= 0 {
		g.remaining = remaining
		g.hasHeaders = true
		remainingGauge.Set(float64(remaining))
	}

	if status == http.StatusTooManyRequests {
		retryAfter := headerInt(headers, mapping.RetryAfter)
		if retryAfter > 0 {
			g.cooldown = now.Add(time.Duration(retryAfter) * time.Second)
			retryAfterGauge.Set(float64(retryAfter))
		} else {
			// No Retry-After: the daily quota is gone until the reset.
			g.cooldown = g.resetAt
			retryAfterGauge.Set(time.Until(g.resetAt).Seconds())
		}
	}
}

// Cooldown reports when blocked calls may resume.
func (g *Guard) Cooldown() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cooldown.IsZero() {
		return g.resetAt
	}
	return g.cooldown
}

// Usage reports observed quota consumption for metrics and the HTTP API.
func (g *Guard) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindow(time.Now())
	return Usage{
		Limit:     g.limit,
		Remaining: g.remaining,
		Used:      g.used,
		ResetAt:   g.resetAt,
	}
}

// rollWindow resets counters when the daily window has passed. Callers
// must hold the mutex.
func (g *Guard) rollWindow(now time.Time) {
	if now.Before(g.resetAt) {
		return
	}
	g.resetAt = NextReset(now)
	g.used = 0
	g.remaining = g.decl.DailyLimit()
	g.hasHeaders = false
	if !g.cooldown.IsZero() && now.After(g.cooldown) {
		g.cooldown = time.Time{}
	}
}

func (g *Guard) cachedResponse(req *http.Request, body []byte) *http.Response {
	if g.decl.CacheTTL() <= 0 {
		return nil
	}
	key := cacheKey(req, body)
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return nil
	}
	return cloneResponse(req, entry.status, entry.header, entry.body)
}

func (g *Guard) maybeCacheResponse(req *http.Request, body []byte, resp *http.Response) (*http.Response, error) {
	if g.decl.CacheTTL() <= 0 || req.Method != http.MethodGet {
		return resp, nil
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	clone := cloneResponse(req, resp.StatusCode, resp.Header, buf)
	key := cacheKey(req, body)

	g.mu.Lock()
	g.cache[key] = cacheEntry{
		status:  resp.StatusCode,
		header:  clone.Header.Clone(),
		body:    buf,
		expires: time.Now().Add(g.decl.CacheTTL()),
	}
	g.mu.Unlock()

	return clone, nil
}

var fieldPattern = regexp.MustCompile(`(^|[;,\s])(q|r)=(\d+)`)

// extractField pulls a structured field value such as q=100 or r=42 out
// of a ratelimit header.
func extractField(header, field string) int {
	if header == "" {
		return -1
	}
	for _, match := range fieldPattern.FindAllStringSubmatch(header, -1) {
		if match[2] == field {
			value, err := strconv.Atoi(match[3])
			if err != nil {
				return -1
			}
			return value
		}
	}
	return -1
}

func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := h.Get(key)
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}

func consumeToken(b *bucket, window time.Duration) bool {
	now := time.Now()
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func cacheKey(req *http.Request, body []byte) string {
	hash := sha256.Sum256(body)
	return req.Method + " " + req.URL.String() + " " + hex.EncodeToString(hash[:])
}

func cloneResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}
