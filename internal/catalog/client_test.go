package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream accepts one cookie/hash pair and serves the API methods.
type fakeUpstream struct {
	mu         sync.Mutex
	token      string
	hash       string
	pageHash   string
	pageOK     bool
	confirmed  bool
	rawRejects int
	calls      map[string]int
	apiCalls   int32
}

func newFakeUpstream(token, hash string) *fakeUpstream {
	return &fakeUpstream{token: token, hash: hash, calls: map[string]int{}}
}

func (f *fakeUpstream) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/page":
		f.mu.Lock()
		ok, hash := f.pageOK, f.pageHash
		f.mu.Unlock()
		if !ok {
			http.Error(w, "blocked", http.StatusServiceUnavailable)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "stel_ssid", Value: "fresh", MaxAge: 3600})
		_, _ = w.Write([]byte(`<script>var ajInit={"apiUrl":"\/api?hash=` + hash + `"}</script>`))
		return
	case "/api/tonkeeper/rawRequest":
		f.mu.Lock()
		f.calls["rawRequest"]++
		reject := f.rawRejects > 0
		if reject {
			f.rawRejects--
		}
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"body": map[string]any{"messages": []map[string]any{{
				"address": "EQlegacy", "amount": "5000000", "payload": "te6legacy",
			}}},
		})
		return
	}

	atomic.AddInt32(&f.apiCalls, 1)
	_ = r.ParseForm()
	method := r.PostForm.Get("method")

	f.mu.Lock()
	f.calls[method]++
	authorized := r.Header.Get("Cookie") == f.token && r.URL.Query().Get("hash") == f.hash
	confirmed := f.confirmed
	f.mu.Unlock()

	if !authorized {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Access denied"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "searchPremiumGiftRecipient":
		if r.PostForm.Get("query") == "ghost" {
			_, _ = w.Write([]byte(`{"error":"No Telegram users found."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"found": map[string]any{
				"recipient": "tok-" + r.PostForm.Get("query"),
				"name":      "Alice",
				"photo":     `<img src="https://cdn.example/a.jpg" />`,
			},
		})
	case "initGiftPremiumRequest":
		_, _ = w.Write([]byte(`{"req_id":"req-42","amount":"12.5"}`))
	case "getGiftPremiumLink":
		if r.PostForm.Get("transaction") == "1" {
			_, _ = w.Write([]byte(`{"ok":true,"transaction":{"messages":[{"address":"EQdest","amount":"7000000000","payload":"te6ccgEB"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"check_params":{"id":"req-42"}}`))
	case "checkReq":
		_ = json.NewEncoder(w).Encode(map[string]any{"confirmed": confirmed})
	default:
		_, _ = w.Write([]byte(`{"error":"unknown method"}`))
	}
}

type memPersister struct {
	cred  Credential
	ok    bool
	saved []Credential
}

func (m *memPersister) LoadCredential(ctx context.Context) (Credential, bool, error) {
	return m.cred, m.ok, nil
}

func (m *memPersister) SaveCredential(ctx context.Context, cred Credential) error {
	m.saved = append(m.saved, cred)
	return nil
}

func newTestClient(t *testing.T, up *fakeUpstream, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/api"
	cfg.PageURL = srv.URL + "/page"
	cfg.HTTPClient = srv.Client()
	return New(cfg)
}

func override(token, hash string) func() (Credential, bool) {
	return func() (Credential, bool) {
		return Credential{Token: token, Hash: hash}, true
	}
}

func TestInit_PrefersOverride(t *testing.T) {
	up := newFakeUpstream("good", "abcdef0123")
	p := &memPersister{cred: Credential{Token: "persisted", Hash: "abcdef9999"}, ok: true}
	c := newTestClient(t, up, Config{Override: override("good", "abcdef0123"), Persister: p})

	require.NoError(t, c.Init(context.Background()))

	cred, ok := c.Credential()
	require.True(t, ok)
	assert.Equal(t, "good", cred.Token)
	require.Len(t, p.saved, 1)
}

func TestInit_FallsBackToPersisted(t *testing.T) {
	up := newFakeUpstream("persisted", "abcdef9999")
	p := &memPersister{cred: Credential{Token: "persisted", Hash: "abcdef9999"}, ok: true}
	c := newTestClient(t, up, Config{Override: override("stale", "abcdef0123"), Persister: p})

	require.NoError(t, c.Init(context.Background()))

	cred, _ := c.Credential()
	assert.Equal(t, "persisted", cred.Token)
	assert.Empty(t, p.saved, "a persisted credential is not written back")
}

func TestInit_AcquiresAutomatically(t *testing.T) {
	up := newFakeUpstream("stel_ssid=fresh", "feedface01")
	up.pageOK = true
	up.pageHash = "feedface01"
	c := newTestClient(t, up, Config{AutoRefresh: true})

	require.NoError(t, c.Init(context.Background()))

	cred, ok := c.Credential()
	require.True(t, ok)
	assert.Equal(t, "stel_ssid=fresh", cred.Token)
	assert.Equal(t, "feedface01", cred.Hash)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)
}

func TestInit_FailureLeavesClientNotInitialized(t *testing.T) {
	up := newFakeUpstream("good", "abcdef0123")
	c := newTestClient(t, up, Config{Override: override("bad", "abcdef0123"), AutoRefresh: true})

	err := c.Init(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, c.Ready())

	before := atomic.LoadInt32(&up.apiCalls)
	_, err = c.SearchRecipient(context.Background(), "alice", 3)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.InitRequest(context.Background(), "tok", 3)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.ConfirmRequest(context.Background(), "req", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.CheckRequest(context.Background(), "req")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, before, atomic.LoadInt32(&up.apiCalls), "no credentialed calls once init failed")
}

func TestCall_RefreshesOnceOnAuthFailure(t *testing.T) {
	up := newFakeUpstream("old", "abcdef0123")
	current := Credential{Token: "old", Hash: "abcdef0123"}
	var mu sync.Mutex
	c := newTestClient(t, up, Config{Override: func() (Credential, bool) {
		mu.Lock()
		defer mu.Unlock()
		return current, true
	}})
	require.NoError(t, c.Init(context.Background()))

	// The upstream rotates the session; the operator supplies the new one.
	up.mu.Lock()
	up.token = "new"
	up.mu.Unlock()
	mu.Lock()
	current = Credential{Token: "new", Hash: "abcdef0123"}
	mu.Unlock()

	r, err := c.SearchRecipient(context.Background(), "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", r.Token)
	cred, _ := c.Credential()
	assert.Equal(t, "new", cred.Token)
}

func TestCall_RefreshFailureSurfacesOriginalError(t *testing.T) {
	up := newFakeUpstream("old", "abcdef0123")
	c := newTestClient(t, up, Config{Override: override("old", "abcdef0123")})
	require.NoError(t, c.Init(context.Background()))

	up.mu.Lock()
	up.token = "rotated"
	up.mu.Unlock()

	_, err := c.InitRequest(context.Background(), "tok", 3)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "initGiftPremiumRequest", apiErr.Method)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Access denied")
	assert.Equal(t, 1, up.count("initGiftPremiumRequest"), "no retry after a failed refresh")
}

func TestConfirmRequest_LegacyPathRefreshesOnAuthFailure(t *testing.T) {
	up := newFakeUpstream("good", "abcdef0123")
	c := newTestClient(t, up, Config{Override: override("good", "abcdef0123")})
	require.NoError(t, c.Init(context.Background()))

	up.mu.Lock()
	up.rawRejects = 1
	up.mu.Unlock()

	pay, err := c.ConfirmRequest(context.Background(), "req-42", nil)
	require.NoError(t, err)
	assert.Equal(t, "EQlegacy", pay.Address)
	assert.Equal(t, 2, up.count("rawRequest"), "one rejected attempt and one retry")

	up.mu.Lock()
	up.rawRejects = 2
	up.mu.Unlock()
	_, err = c.ConfirmRequest(context.Background(), "req-42", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, 4, up.count("rawRequest"), "retried only once")
}

func TestSearchRecipient(t *testing.T) {
	up := newFakeUpstream("good", "abcdef0123")
	c := newTestClient(t, up, Config{Override: override("good", "abcdef0123")})
	require.NoError(t, c.Init(context.Background()))

	r, err := c.SearchRecipient(context.Background(), "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Handle)
	assert.Equal(t, "Alice", r.DisplayName())
	assert.Equal(t, "https://cdn.example/a.jpg", r.PhotoURL)

	_, err = c.SearchRecipient(context.Background(), "ghost", 3)
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestRequestLifecycle(t *testing.T) {
	up := newFakeUpstream("good", "abcdef0123")
	c := newTestClient(t, up, Config{Override: override("good", "abcdef0123")})
	require.NoError(t, c.Init(context.Background()))
	ctx := context.Background()

	req, err := c.InitRequest(ctx, "tok-alice", 3)
	require.NoError(t, err)
	assert.Equal(t, "req-42", req.ID)
	assert.Equal(t, "12.5", req.Amount.String())

	pay, err := c.ConfirmRequest(ctx, req.ID, &Account{Address: "0:abc", Chain: "-239"})
	require.NoError(t, err)
	assert.Equal(t, &Payment{Address: "EQdest", AmountNano: 7000000000, Payload: "te6ccgEB"}, pay)

	legacy, err := c.ConfirmRequest(ctx, req.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "EQlegacy", legacy.Address)
	assert.Equal(t, uint64(5000000), legacy.AmountNano)

	ok, err := c.CheckRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	up.mu.Lock()
	up.confirmed = true
	up.mu.Unlock()
	ok, err = c.CheckRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckExpiry(t *testing.T) {
	up := newFakeUpstream("good", "abcdef0123")
	c := newTestClient(t, up, Config{Override: override("good", "abcdef0123")})
	require.NoError(t, c.Init(context.Background()))

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.mu.Lock()
	c.cred.ExpiresAt = now.Add(30 * 24 * time.Hour)
	c.mu.Unlock()

	before := up.count("searchPremiumGiftRecipient")
	require.NoError(t, c.CheckExpiry(context.Background()))
	assert.Equal(t, before, up.count("searchPremiumGiftRecipient"), "far from expiry, nothing happens")

	c.mu.Lock()
	c.cred.ExpiresAt = now.Add(3 * 24 * time.Hour)
	c.mu.Unlock()
	require.NoError(t, c.CheckExpiry(context.Background()))
	assert.Greater(t, up.count("searchPremiumGiftRecipient"), before)
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(&APIError{Status: http.StatusForbidden}))
	assert.False(t, IsAuthFailure(&APIError{Status: http.StatusTooManyRequests}))
	assert.True(t, IsAuthFailure(&ProviderError{Message: "Session expired, reload the page"}))
	assert.False(t, IsAuthFailure(errors.New("dial tcp: refused")))
}
