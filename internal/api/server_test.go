package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/runcontrol"
	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/audit"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/ratelimit"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// apiTestProvider streams a canned reply, mirroring loopTestProvider in
// internal/agent/loop_test.go — no real LLM call behind it.
type apiTestProvider struct{}

func (apiTestProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "ack"}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}
func (apiTestProvider) Name() string          { return "api-test" }
func (apiTestProvider) Models() []agent.Model { return nil }
func (apiTestProvider) SupportsTools() bool   { return false }

func newTestServer(t *testing.T, mw Middleware) (*Server, sessions.Store, string) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	eventBus := bus.New(client, bus.Config{LogTTL: time.Hour, LogMaxEntries: 1000, SubscriberBufferSize: 64})

	sessionStore := sessions.NewMemoryStore()
	runStore := storage.NewMemoryAgentRunStore()
	loop := agent.NewAgenticLoop(apiTestProvider{}, agent.NewToolRegistry(), sessionStore, &agent.LoopConfig{})
	runs := runcontrol.New(loop, eventBus, runStore, "api-test-instance", slog.Default())

	server, err := New(Config{Host: "127.0.0.1", Port: 0}, sessionStore, runs, slog.Default(), mw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Stop(stopCtx)
	})

	addr := server.listener.Addr().String()
	return server, sessionStore, "http://" + addr
}

func TestHandleHealthz(t *testing.T) {
	_, _, baseURL := newTestServer(t, Middleware{})

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleStartAndMessages(t *testing.T) {
	_, sessionStore, baseURL := newTestServer(t, Middleware{})
	ctx := context.Background()

	session := &models.Session{ID: "thread-api-1", Channel: models.ChannelAPI}
	if err := sessionStore.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	body, _ := json.Marshal(startRequest{Content: "hello there"})
	resp, err := http.Post(baseURL+"/thread/"+session.ID+"/agent/start", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, data)
	}
	var started startResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if started.RunID == "" {
		t.Fatal("expected non-empty run_id")
	}

	// Give the run's asynchronous pump a moment to persist the inbound message.
	deadline := time.Now().Add(2 * time.Second)
	var history []byte
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/thread/" + session.ID + "/messages")
		if err != nil {
			t.Fatalf("GET messages: %v", err)
		}
		history, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		if bytes.Contains(history, []byte("hello there")) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected message history to contain inbound message, got %s", history)
}

func TestAuthMiddleware_RejectsMissingCredentials(t *testing.T) {
	authSvc := auth.NewService(auth.Config{APIKeys: []auth.APIKeyConfig{{Key: "secret-key", UserID: "u1"}}})
	_, _, baseURL := newTestServer(t, Middleware{Auth: authSvc})

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}
}

func TestAuthMiddleware_AcceptsValidAPIKey(t *testing.T) {
	authSvc := auth.NewService(auth.Config{APIKeys: []auth.APIKeyConfig{{Key: "secret-key", UserID: "u1"}}})
	_, _, baseURL := newTestServer(t, Middleware{Auth: authSvc})

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid api key, got %d", resp.StatusCode)
	}
}

func TestRateLimitMiddleware_RejectsOverBurst(t *testing.T) {
	// Authenticate with a fixed API key so rateLimitKey resolves to a
	// stable "user:<id>" bucket regardless of which local port the test
	// client's connection pooling happens to reuse.
	authSvc := auth.NewService(auth.Config{APIKeys: []auth.APIKeyConfig{{Key: "secret-key", UserID: "u1"}}})
	_, _, baseURL := newTestServer(t, Middleware{
		Auth:      authSvc,
		RateLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 1},
	})

	doRequest := func() int {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
		req.Header.Set("X-API-Key", "secret-key")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	var sawTooManyRequests bool
	for i := 0; i < 5; i++ {
		if doRequest() == http.StatusTooManyRequests {
			sawTooManyRequests = true
		}
	}
	if !sawTooManyRequests {
		t.Fatal("expected at least one request to be rate limited with burst size 1")
	}
}

func TestAuditMiddleware_LogsWithoutBlockingRequests(t *testing.T) {
	_, _, baseURL := newTestServer(t, Middleware{AuditCfg: audit.Config{Enabled: true}})

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
