package runcontrol_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/runcontrol"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// scriptedProvider streams a single canned completion, modeled on
// loopTestProvider in internal/agent/loop_test.go: a fixed slice of
// chunks replayed verbatim, with no real LLM call behind it.
type scriptedProvider struct {
	chunks []agent.CompletionChunk
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, len(p.chunks))
	for i := range p.chunks {
		c := p.chunks[i]
		ch <- &c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

// blockingProvider holds its completion channel open until release is
// closed, letting a test observe behavior while a run is still in flight.
type blockingProvider struct {
	release chan struct{}
}

func (p *blockingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	go func() {
		defer close(ch)
		select {
		case <-p.release:
			ch <- &agent.CompletionChunk{Text: "done", Done: true}
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (p *blockingProvider) Name() string          { return "blocking" }
func (p *blockingProvider) Models() []agent.Model { return nil }
func (p *blockingProvider) SupportsTools() bool   { return true }

func newTestController(t *testing.T, provider agent.LLMProvider) (*runcontrol.Controller, *sessions.MemoryStore, *storage.MemoryAgentRunStore) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	eventBus := bus.New(client, bus.Config{LogTTL: time.Hour, LogMaxEntries: 1000, SubscriberBufferSize: 64})

	sessionStore := sessions.NewMemoryStore()
	runStore := storage.NewMemoryAgentRunStore()

	loop := agent.NewAgenticLoop(provider, agent.NewToolRegistry(), sessionStore, &agent.LoopConfig{})
	loop.SetDefaultModel("test-model")

	controller := runcontrol.New(loop, eventBus, runStore, "test-instance", slog.Default())
	return controller, sessionStore, runStore
}

// TestStart_EventOrderMatchesScenarioOne drives a full run through a real
// Controller (backed by a miniredis event bus and in-memory stores) and
// asserts the exact event sequence required by the run lifecycle:
// status(running) first, assistant_delta events as the provider streams
// text, assistant_final with the accumulated content immediately before
// the terminal status(completed). This is the regression test for the
// ordering bugs previously missing status(running) and assistant_final.
func TestStart_EventOrderMatchesScenarioOne(t *testing.T) {
	provider := &scriptedProvider{chunks: []agent.CompletionChunk{
		{Text: "Hello"},
		{Text: ", world"},
		{Done: true},
	}}
	controller, sessionStore, _ := newTestController(t, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session := &models.Session{ID: "thread-1", Channel: models.ChannelAPI}
	if err := sessionStore.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	msg := &models.Message{Content: "hi there"}

	runID, err := controller.Start(ctx, session, msg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var events []*models.RunEvent
	for ev := range controller.Stream(ctx, runID, 0) {
		events = append(events, ev)
	}

	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}

	if events[0].Type != models.RunEventStatus || events[0].Status == nil || events[0].Status.State != models.RunStatusRunning {
		t.Fatalf("expected first event to be status(running), got %+v", events[0])
	}

	last := events[len(events)-1]
	if last.Type != models.RunEventStatus || last.Status == nil || last.Status.State != models.RunStatusCompleted {
		t.Fatalf("expected last event to be status(completed), got %+v", last)
	}

	secondToLast := events[len(events)-2]
	if secondToLast.Type != models.RunEventAssistantFinal {
		t.Fatalf("expected assistant_final immediately before status(completed), got %+v", secondToLast)
	}
	if secondToLast.AssistantFinal == nil || secondToLast.AssistantFinal.Content != "Hello, world" {
		t.Fatalf("expected assistant_final content %q, got %+v", "Hello, world", secondToLast.AssistantFinal)
	}

	var deltaCount int
	for _, ev := range events[1 : len(events)-2] {
		if ev.Type != models.RunEventAssistantDelta {
			t.Fatalf("expected only assistant_delta events between status(running) and assistant_final, got %+v", ev)
		}
		deltaCount++
	}
	if deltaCount != 2 {
		t.Fatalf("expected 2 assistant_delta events, got %d", deltaCount)
	}

	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			t.Fatalf("expected strictly increasing contiguous seq numbers, got %d then %d", events[i-1].Seq, events[i].Seq)
		}
	}
}

func TestStart_RejectsConcurrentRunOnSameThread(t *testing.T) {
	provider := &blockingProvider{release: make(chan struct{})}
	controller, sessionStore, _ := newTestController(t, provider)

	ctx := context.Background()
	session := &models.Session{ID: "thread-2", Channel: models.ChannelAPI}
	if err := sessionStore.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := controller.Start(ctx, session, &models.Message{Content: "first"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	// The first run's provider call is still blocked on p.release, so its
	// thread lock is still held: a second Start on the same thread must be
	// rejected per the spec's per-thread serialization guarantee.
	if _, err := controller.Start(ctx, session, &models.Message{Content: "second"}); err != runcontrol.ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning while first run is in flight, got %v", err)
	}

	close(provider.release)
}
