package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/domain"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func inboxPost(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "http://social.example/@alice/inbox", strings.NewReader(`{"type":`))
	req.RemoteAddr = remote
	return req
}

func TestRouterInboxLimitStricterThanGlobal(t *testing.T) {
	ts := newTestServerWith(t, RouterOptions{GlobalLimit: 100, InboxLimit: 1})

	// burst is twice the rate
	for i := 0; i < 2; i++ {
		if w := ts.do(inboxPost("192.0.2.10:1111")); w.Code == http.StatusTooManyRequests {
			t.Fatalf("Inbox post %d should pass the limiter", i+1)
		}
	}

	w := ts.do(inboxPost("192.0.2.10:1111"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 after the inbox burst, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
		t.Errorf("Unexpected body %s", w.Body.String())
	}

	read := httptest.NewRequest(http.MethodGet, "http://social.example/@alice", nil)
	read.RemoteAddr = "192.0.2.10:1111"
	if w := ts.do(read); w.Code != http.StatusOK {
		t.Errorf("Expected reads to stay under the global limit, got %d", w.Code)
	}

	if w := ts.do(inboxPost("192.0.2.11:1111")); w.Code == http.StatusTooManyRequests {
		t.Error("Expected another client to have its own inbox bucket")
	}
}

func TestRouterGlobalLimitCoversInbox(t *testing.T) {
	ts := newTestServerWith(t, RouterOptions{GlobalLimit: 1, InboxLimit: 100})

	for i := 0; i < 2; i++ {
		read := httptest.NewRequest(http.MethodGet, "http://social.example/@alice", nil)
		read.RemoteAddr = "192.0.2.20:1111"
		if w := ts.do(read); w.Code != http.StatusOK {
			t.Fatalf("Read %d: expected 200, got %d", i+1, w.Code)
		}
	}

	if w := ts.do(inboxPost("192.0.2.20:1111")); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected the global bucket to reject the inbox post, got %d", w.Code)
	}
}

func TestRouterBodyCapOnlyOnInbox(t *testing.T) {
	ts := newTestServer(t, false)
	big := bytes.Repeat([]byte("x"), maxInboxBody+1)

	read := httptest.NewRequest(http.MethodGet, "http://social.example/@alice", bytes.NewReader(big))
	if w := ts.do(read); w.Code != http.StatusOK {
		t.Errorf("Expected a read with a large body to pass, got %d", w.Code)
	}

	// unknown length, so only the MaxBytesReader can catch it
	chunked := httptest.NewRequest(http.MethodPost, "http://social.example/@alice/inbox", io.MultiReader(bytes.NewReader(big)))
	if chunked.ContentLength > 0 {
		t.Fatalf("Expected an unknown content length, got %d", chunked.ContentLength)
	}
	w := ts.do(chunked)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413 for an oversized inbox stream, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Request body too large") {
		t.Errorf("Unexpected body %s", w.Body.String())
	}
}

type fakeActors struct {
	actor *activitypub.ActorResponse
	err   error
	calls []string
}

func (f *fakeActors) FetchActor(ctx context.Context, actorURI string) (*activitypub.ActorResponse, error) {
	f.calls = append(f.calls, actorURI)
	if f.err != nil {
		return nil, f.err
	}
	return f.actor, nil
}

func signatureEngine(actors ActorFetcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.POST("/inbox", SignatureMiddleware(actors, log.New(io.Discard)), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("signer"))
	})
	return g
}

func signedPost(t *testing.T, signer *domain.User, keyID string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://social.example/inbox", bytes.NewReader(body))
	h, err := activitypub.SignedHeaders(signer, keyID, "social.example", "/inbox", body, time.Now())
	if err != nil {
		t.Fatalf("SignedHeaders failed: %v", err)
	}
	req.Header = h
	return req
}

func TestSignatureMiddleware(t *testing.T) {
	bob, err := domain.NewUser("bob", "Bob")
	if err != nil {
		t.Fatalf("Failed to create bob: %v", err)
	}
	mallory, err := domain.NewUser("mallory", "Mallory")
	if err != nil {
		t.Fatalf("Failed to create mallory: %v", err)
	}
	bobActor := &activitypub.ActorResponse{ID: "https://peer.example/@bob"}
	bobActor.PublicKey.PublicKeyPem = bob.PublicKey

	body := []byte(`{"type":"Follow","id":"m1","actor":"https://peer.example/@bob"}`)
	keyID := bob.KeyID("peer.example")

	tests := []struct {
		name      string
		actors    *fakeActors
		req       func() *http.Request
		status    int
		body      string
		fetchedBy string
	}{
		{
			name:   "missing signature",
			actors: &fakeActors{actor: bobActor},
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "http://social.example/inbox", bytes.NewReader(body))
			},
			status: http.StatusUnauthorized,
			body:   "Missing signature",
		},
		{
			name:      "actor fetch fails",
			actors:    &fakeActors{err: errors.New("connection refused")},
			req:       func() *http.Request { return signedPost(t, bob, keyID, body) },
			status:    http.StatusUnauthorized,
			body:      "Failed to verify actor",
			fetchedBy: "https://peer.example/@bob",
		},
		{
			name:      "signed by another key",
			actors:    &fakeActors{actor: bobActor},
			req:       func() *http.Request { return signedPost(t, mallory, keyID, body) },
			status:    http.StatusUnauthorized,
			body:      "Invalid signature",
			fetchedBy: "https://peer.example/@bob",
		},
		{
			name:   "body changed after signing",
			actors: &fakeActors{actor: bobActor},
			req: func() *http.Request {
				req := signedPost(t, bob, keyID, body)
				req.Body = io.NopCloser(strings.NewReader(`{"type":"Undo"}`))
				req.Header.Set("Digest", "SHA-256="+activitypub.Digest([]byte(`{"type":"Undo"}`)))
				return req
			},
			status:    http.StatusUnauthorized,
			body:      "Invalid signature",
			fetchedBy: "https://peer.example/@bob",
		},
		{
			name:      "valid signature",
			actors:    &fakeActors{actor: bobActor},
			req:       func() *http.Request { return signedPost(t, bob, keyID, body) },
			status:    http.StatusOK,
			body:      "https://peer.example/@bob",
			fetchedBy: "https://peer.example/@bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			signatureEngine(tt.actors).ServeHTTP(w, tt.req())

			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.body) {
				t.Errorf("Expected body to contain %q, got %s", tt.body, w.Body.String())
			}
			if tt.fetchedBy == "" && len(tt.actors.calls) != 0 {
				t.Errorf("Expected no actor fetch, got %v", tt.actors.calls)
			}
			if tt.fetchedBy != "" && (len(tt.actors.calls) != 1 || tt.actors.calls[0] != tt.fetchedBy) {
				t.Errorf("Expected one fetch of %s, got %v", tt.fetchedBy, tt.actors.calls)
			}
		})
	}
}

func TestPruneIdleLimiters(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		rl.getLimiter(fmt.Sprintf("10.0.0.%d", i))
	}

	now = now.Add(limiterIdle / 2)
	active := rl.getLimiter("10.0.0.1")

	now = now.Add(limiterIdle/2 + time.Second)
	rl.prune()

	rl.mu.Lock()
	count := len(rl.visitors)
	rl.mu.Unlock()
	if count != 1 {
		t.Errorf("Expected only the active limiter to survive, got %d", count)
	}
	if rl.getLimiter("10.0.0.1") != active {
		t.Error("Expected the active limiter to be kept")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not return after cancel")
	}
}

func TestRouterPrunersFollowContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := log.New(io.Discard)
	before := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		NewRouter(RouterOptions{Logger: logger})
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Fatalf("Expected no pruners without a context, goroutines went from %d to %d", before, n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		NewRouter(RouterOptions{Logger: logger, Context: ctx})
	}
	if n := runtime.NumGoroutine(); n < before+10 {
		t.Fatalf("Expected two pruners per router, goroutines went from %d to %d", before, n)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("Pruners still running after cancel: %d goroutines, started with %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
