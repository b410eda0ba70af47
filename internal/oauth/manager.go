package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/oauth2"
)

const (
	Provider = "tado"
	Scope    = "offline_access"

	// Public device-linking client published by the vendor.
	ClientID = "1bb50063-6b0c-4d11-bd99-387f4a91cc46"

	TokenURL      = "https://login.tado.com/oauth2/token"
	DeviceAuthURL = "https://login.tado.com/oauth2/device_authorize"

	DefaultRefreshInterval = 10 * time.Minute

	// Access tokens are treated as stale this long before expiry.
	staleMargin = 30 * time.Second
)

var ErrScopeMismatch = errors.New("oauth scope mismatch")

// Endpoints allows tests and forks to point at a different login host.
type Endpoints struct {
	TokenURL      string
	DeviceAuthURL string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{TokenURL: TokenURL, DeviceAuthURL: DeviceAuthURL}
}

// Manager owns the refresh token and hands out cached access tokens.
type Manager struct {
	statePath  string
	endpoints  Endpoints
	blobStore  BlobStore
	httpClient *http.Client

	mu              sync.Mutex
	accessToken     string
	expiresAt       time.Time
	refreshToken    string
	scope           string
	clientID        string
	refreshInFlight bool
	config          *oauth2.Config
}

func NewManager(bootstrapPath, statePath string, endpoints Endpoints, blobStore BlobStore) (*Manager, error) {
	if bootstrapPath == "" {
		return nil, fmt.Errorf("bootstrap path is required")
	}
	bootstrap, err := LoadBootstrap(bootstrapPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return NewManagerFromBootstrap(bootstrap, statePath, endpoints, blobStore)
}

// NewManagerFromBootstrap creates a manager from an inline Bootstrap.
func NewManagerFromBootstrap(bootstrap Bootstrap, statePath string, endpoints Endpoints, blobStore BlobStore) (*Manager, error) {
	if statePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if endpoints.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if err := bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	m := &Manager{
		statePath:  statePath,
		endpoints:  endpoints,
		blobStore:  blobStore,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clientID:   bootstrap.ClientID,
		config: &oauth2.Config{
			ClientID: bootstrap.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: endpoints.TokenURL},
			Scopes:   strings.Fields(Scope),
		},
	}

	state, err := m.loadInitialState(bootstrap)
	if err != nil {
		return nil, err
	}

	m.refreshToken = state.RefreshToken
	m.scope = state.Scope

	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.StartWithInterval(ctx, DefaultRefreshInterval)
}

func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < staleMargin {
		threshold = staleMargin
	}
	m.refreshIfNeeded(ctx, threshold)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

// AccessToken returns the cached token. It never blocks on a network
// refresh; the background loop and TriggerRefresh keep the cache warm.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	_ = ctx

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && time.Until(m.expiresAt) > staleMargin {
		return m.accessToken, nil
	}

	tokenValid.Set(0)
	return "", fmt.Errorf("oauth token unavailable")
}

// TriggerRefresh drops the cached access token and refreshes in the
// background. Called when the vendor rejects the token with a 401, so
// the dead token is never handed out again while the refresh runs.
func (m *Manager) TriggerRefresh(ctx context.Context) {
	m.mu.Lock()
	m.accessToken = ""
	m.expiresAt = time.Time{}
	if m.refreshInFlight {
		m.mu.Unlock()
		return
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.refreshInFlight = false
			m.mu.Unlock()
		}()
		_ = m.refresh(ctx)
	}()
}

// RefreshNow refreshes synchronously. Used at startup so the first poll
// cycle has a token.
func (m *Manager) RefreshNow(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshInFlight {
		m.mu.Unlock()
		return nil
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshInFlight = false
		m.mu.Unlock()
	}()

	return m.refresh(ctx)
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	m.mu.Lock()
	need := m.accessToken == "" || time.Until(m.expiresAt) <= threshold
	if !need || m.refreshInFlight {
		m.mu.Unlock()
		return
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshInFlight = false
		m.mu.Unlock()
	}()

	_ = m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken})
	token, err := source.Token()
	if err != nil {
		refreshFailure.Inc()
		tokenValid.Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return fmt.Errorf("token refresh failed %d: %s", retrieveErr.Response.StatusCode, body)
		}
		return err
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	if token.RefreshToken != "" {
		// Tado rotates refresh tokens on every use.
		m.refreshToken = token.RefreshToken
	}
	m.mu.Unlock()

	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      m.clientID,
		RefreshToken:  m.refreshToken,
		Scope:         m.scope,
	}

	if err := WriteState(m.statePath, state); err != nil {
		refreshFailure.Inc()
		return fmt.Errorf("persist state: %w", err)
	}

	refreshSuccess.Inc()
	tokenValid.Set(1)

	if err := m.persistBlob(ctx, state); err != nil {
		remotePersistOK.Set(0)
		return nil
	}
	remotePersistOK.Set(1)
	return nil
}

func (m *Manager) loadInitialState(bootstrap Bootstrap) (State, error) {
	local, localErr := LoadState(m.statePath)
	if localErr == nil {
		if err := checkStateFile(m.statePath); err != nil {
			return State{}, err
		}
		if local.Scope != "" && local.Scope != Scope {
			scopeMismatch.Inc()
			return State{}, ErrScopeMismatch
		}
		if local.Scope == "" {
			local.Scope = Scope
		}
		local.ClientID = bootstrap.ClientID
		m.mirrorBlob(local)
		return local, nil
	}

	blob, blobErr := m.loadFromBlob(context.Background())
	if blobErr == nil {
		blob.ClientID = bootstrap.ClientID
		if blob.Scope == "" {
			blob.Scope = Scope
		}
		if blob.Scope != Scope {
			scopeMismatch.Inc()
			return State{}, ErrScopeMismatch
		}
		if err := WriteState(m.statePath, blob); err != nil {
			return State{}, err
		}
		m.mirrorBlob(blob)
		return blob, nil
	}

	if !errors.Is(blobErr, ErrBlobNotFound) {
		if !errors.Is(localErr, ErrStateNotFound) {
			return State{}, localErr
		}
		return State{}, blobErr
	}

	if bootstrap.RefreshToken == "" {
		return State{}, fmt.Errorf("bootstrap missing refresh_token; run tadoxd login")
	}

	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      bootstrap.ClientID,
		RefreshToken:  bootstrap.RefreshToken,
		Scope:         bootstrap.Scope,
	}
	if state.Scope == "" {
		state.Scope = Scope
	}
	if state.Scope != Scope {
		scopeMismatch.Inc()
		return State{}, ErrScopeMismatch
	}

	if err := WriteState(m.statePath, state); err != nil {
		return State{}, err
	}
	m.mirrorBlob(state)
	return state, nil
}

func (m *Manager) mirrorBlob(state State) {
	if err := m.persistBlob(context.Background(), state); err != nil {
		remotePersistOK.Set(0)
		return
	}
	remotePersistOK.Set(1)
}

func (m *Manager) loadFromBlob(ctx context.Context) (State, error) {
	if m.blobStore == nil {
		return State{}, ErrBlobNotFound
	}
	data, err := m.blobStore.Load(ctx)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (m *Manager) persistBlob(ctx context.Context, state State) error {
	if m.blobStore == nil {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return m.blobStore.Save(ctx, data)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
