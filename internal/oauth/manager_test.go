package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type memoryBlobStore struct {
	data []byte
}

func (m *memoryBlobStore) Load(_ context.Context) ([]byte, error) {
	if m.data == nil {
		return nil, ErrBlobNotFound
	}
	return m.data, nil
}

func (m *memoryBlobStore) Save(_ context.Context, data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}

func writeBootstrap(t *testing.T, dir string, bootstrap Bootstrap) string {
	t.Helper()
	path := filepath.Join(dir, "bootstrap.json")
	data, err := json.Marshal(bootstrap)
	if err != nil {
		t.Fatalf("marshal bootstrap: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write bootstrap: %v", err)
	}
	return path
}

func TestManagerRefreshRotatesToken(t *testing.T) {
	var refreshTokensSeen []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		for _, field := range strings.Split(string(body), "&") {
			if strings.HasPrefix(field, "refresh_token=") {
				refreshTokensSeen = append(refreshTokensSeen, strings.TrimPrefix(field, "refresh_token="))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at-1","refresh_token":"rt-2","expires_in":600,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	bootstrapPath := writeBootstrap(t, dir, Bootstrap{
		ClientID:     "client-id",
		RefreshToken: "rt-1",
	})

	blob := &memoryBlobStore{}
	endpoints := Endpoints{TokenURL: server.URL + "/token"}

	manager, err := NewManager(bootstrapPath, statePath, endpoints, blob)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := manager.AccessToken(context.Background()); err == nil {
		t.Fatalf("expected no token before refresh")
	}

	if err := manager.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	token, err := manager.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "at-1" {
		t.Fatalf("unexpected access token: %s", token)
	}

	if len(refreshTokensSeen) != 1 || refreshTokensSeen[0] != "rt-1" {
		t.Fatalf("unexpected refresh tokens sent: %v", refreshTokensSeen)
	}

	// The rotated refresh token must be persisted to file and blob.
	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.RefreshToken != "rt-2" {
		t.Fatalf("state not rotated: %s", state.RefreshToken)
	}
	if blob.data == nil || !strings.Contains(string(blob.data), "rt-2") {
		t.Fatalf("blob not mirrored: %s", blob.data)
	}

	info, err := os.Stat(statePath)
	if err != nil {
		t.Fatalf("stat state: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state file permissions: %v", info.Mode().Perm())
	}
}

func TestTriggerRefreshDropsRejectedToken(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at-1","refresh_token":"rt-2","expires_in":600,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	bootstrapPath := writeBootstrap(t, dir, Bootstrap{
		ClientID:     "client-id",
		RefreshToken: "rt-1",
	})

	manager, err := NewManager(bootstrapPath, filepath.Join(dir, "state.json"),
		Endpoints{TokenURL: server.URL + "/token"}, &memoryBlobStore{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := manager.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := manager.AccessToken(context.Background()); err != nil {
		t.Fatalf("access token: %v", err)
	}

	// the vendor rejected at-1 with a 401; the cache must not keep
	// serving it while the background refresh runs
	manager.TriggerRefresh(context.Background())

	if token, err := manager.AccessToken(context.Background()); err == nil {
		t.Fatalf("rejected token still served: %s", token)
	}
}

func TestManagerRecoversStateFromBlob(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	bootstrapPath := writeBootstrap(t, dir, Bootstrap{ClientID: "client-id"})

	blobState := State{
		SchemaVersion: SchemaVersion,
		ClientID:      "client-id",
		RefreshToken:  "rt-blob",
		Scope:         Scope,
	}
	payload, _ := json.Marshal(blobState)

	manager, err := NewManager(bootstrapPath, statePath, DefaultEndpoints(), &memoryBlobStore{data: payload})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_ = manager

	local, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if local.RefreshToken != "rt-blob" {
		t.Fatalf("blob state not written locally: %s", local.RefreshToken)
	}
}

func TestManagerRequiresLoginWithoutToken(t *testing.T) {
	dir := t.TempDir()
	bootstrapPath := writeBootstrap(t, dir, Bootstrap{ClientID: "client-id"})

	_, err := NewManager(bootstrapPath, filepath.Join(dir, "state.json"), DefaultEndpoints(), &memoryBlobStore{})
	if err == nil || !strings.Contains(err.Error(), "login") {
		t.Fatalf("expected login hint, got %v", err)
	}
}

func TestManagerRejectsScopeMismatch(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	bootstrapPath := writeBootstrap(t, dir, Bootstrap{ClientID: "client-id"})

	stale := State{
		SchemaVersion: SchemaVersion,
		ClientID:      "client-id",
		RefreshToken:  "rt-1",
		Scope:         "home.details",
	}
	if err := WriteState(statePath, stale); err != nil {
		t.Fatalf("write state: %v", err)
	}

	_, err := NewManager(bootstrapPath, statePath, DefaultEndpoints(), &memoryBlobStore{})
	if err != ErrScopeMismatch {
		t.Fatalf("expected scope mismatch, got %v", err)
	}
}
