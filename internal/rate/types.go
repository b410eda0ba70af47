package rate

import "time"

// Quota tiers published by the vendor.
const (
	QuotaFreeTier   = 100
	QuotaAutoAssist = 20000
)

// Headers describes the vendor's rate-limit response headers.
//
// The rooms API reports the daily quota as structured fields inside two
// headers: "ratelimit-policy" carries q=<quota> and "ratelimit" carries
// r=<remaining>.
type Headers struct {
	Policy     string
	Current    string
	RetryAfter string
}

func StandardHeaders() Headers {
	return Headers{
		Policy:     "ratelimit-policy",
		Current:    "ratelimit",
		RetryAfter: "Retry-After",
	}
}

// Declaration defines the daily quota budget and header mapping.
type Declaration struct {
	dailyLimit  int
	budgetFloor int
	cacheTTL    time.Duration
	headers     Headers
}

// Daily creates a declaration with the given requests-per-day budget.
func Daily(limit int) Declaration {
	return Declaration{dailyLimit: limit, headers: StandardHeaders()}
}

// BudgetFloor reserves this many requests below which calls are refused,
// keeping headroom for interactive control commands.
func (d Declaration) BudgetFloor(floor int) Declaration {
	d.budgetFloor = floor
	return d
}

func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) DailyLimit() int         { return d.dailyLimit }
func (d Declaration) Floor() int              { return d.budgetFloor }
func (d Declaration) CacheTTL() time.Duration { return d.cacheTTL }
func (d Declaration) HeaderMapping() Headers  { return d.headers }
func (d Declaration) HasLimits() bool         { return d.dailyLimit > 0 }

// NextReset returns the next daily quota reset: 12:00 UTC, rolling to the
// following day once passed.
func NextReset(now time.Time) time.Time {
	now = now.UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC)
	if !now.Before(reset) {
		reset = reset.Add(24 * time.Hour)
	}
	return reset
}
