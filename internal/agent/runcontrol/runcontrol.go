// Package runcontrol implements the Run Controller: it starts a turn of
// the agentic loop for a thread, republishes the loop's ResponseChunk
// stream onto the streaming event bus as seq-numbered RunEvents, tracks
// the run as active with a heartbeat, and exposes cooperative stop.
package runcontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrAlreadyRunning is returned by Start when the thread already has an
// active run; a thread processes at most one run at a time (spec's
// Concurrency & Resource Model, per-thread serialization).
var ErrAlreadyRunning = errors.New("runcontrol: thread already has an active run")

// HeartbeatInterval is how often a running turn refreshes its active-run
// TTL entry. ReapInterval controls how often Reap scans for runs whose
// heartbeat has lapsed.
const (
	HeartbeatInterval = 10 * time.Second
	HeartbeatTTL      = 30 * time.Second
)

// Controller owns the wiring between the agentic loop, the event bus and
// run persistence. One Controller is shared by every run on a process.
type Controller struct {
	loop       *agent.AgenticLoop
	bus        *bus.Bus
	active     *bus.ActiveRuns
	runs       storage.AgentRunStore
	instanceID string
	log        *slog.Logger

	threadLocks *threadLockSet
}

// New builds a Controller. instanceID identifies this process in the
// active-run set and heartbeat keys; it should be stable for the
// process lifetime (e.g. hostname-pid) so a restart does not collide
// with runs a prior instance abandoned.
func New(loop *agent.AgenticLoop, b *bus.Bus, runs storage.AgentRunStore, instanceID string, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		loop:        loop,
		bus:         b,
		active:      bus.NewActiveRuns(b),
		runs:        runs,
		instanceID:  instanceID,
		log:         log,
		threadLocks: newThreadLockSet(),
	}
}

// Start begins a new run for the given thread and inbound message,
// returning immediately with the run's id once the loop goroutine has
// been launched. The run executes asynchronously; callers subscribe via
// Stream to observe it.
func (c *Controller) Start(ctx context.Context, session *models.Session, msg *models.Message) (runID string, err error) {
	unlock, ok := c.threadLocks.tryLock(session.ID)
	if !ok {
		return "", ErrAlreadyRunning
	}

	runID = uuid.New().String()
	run := &models.AgentRun{
		ID:         runID,
		ThreadID:   session.ID,
		Status:     models.RunStatusRunningDB,
		StartedAt:  time.Now(),
		InstanceID: c.instanceID,
	}
	if err := c.runs.Create(ctx, run); err != nil {
		unlock()
		return "", fmt.Errorf("runcontrol: persist run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := c.active.Add(runCtx, c.instanceID, runID, HeartbeatTTL); err != nil {
		unlock()
		cancel()
		return "", fmt.Errorf("runcontrol: register active run: %w", err)
	}

	chunks, err := c.loop.Run(runCtx, session, msg)
	if err != nil {
		unlock()
		cancel()
		_ = c.active.Remove(context.Background(), c.instanceID, runID)
		_ = c.runs.UpdateStatus(context.Background(), runID, models.RunStatusFailedDB, err.Error(), "")
		return "", err
	}

	c.append(ctx, runID, statusEvent(runID, models.RunStatusRunningDB, "", ""))

	control, cancelControl := c.bus.SubscribeControl(runCtx, runID)
	stopped := make(chan struct{})
	go c.watchControl(runCtx, cancel, control, stopped)

	go func() {
		defer unlock()
		defer cancel()
		defer cancelControl()
		defer close(stopped)
		defer func() { _ = c.active.Remove(context.Background(), c.instanceID, runID) }()
		c.pump(runCtx, runID, chunks)
	}()

	return runID, nil
}

// watchControl cancels the run context as soon as a stop/shutdown
// message arrives, implementing the level-triggered half of cancellation:
// the loop also polls ctx.Done() at iteration and tool boundaries.
func (c *Controller) watchControl(ctx context.Context, cancel context.CancelFunc, control <-chan bus.ControlMessage, stopped <-chan struct{}) {
	for {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-control:
			if !ok {
				return
			}
			if msg == bus.ControlStop || msg == bus.ControlShutdown {
				cancel()
				return
			}
		}
	}
}

// pump drains the loop's ResponseChunk channel, translates each chunk
// into a seq-numbered RunEvent and appends it to the bus, and persists
// the run's final status exactly once.
func (c *Controller) pump(ctx context.Context, runID string, chunks <-chan *agent.ResponseChunk) {
	bgCtx := context.Background()
	var finalStatus models.RunStatus = models.RunStatusCompletedDB
	var finalErr, finalKind string
	var finalContent strings.Builder
	var finalToolCalls []models.ToolCall

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-heartbeat.C:
				_ = c.active.Heartbeat(bgCtx, c.instanceID, runID, HeartbeatTTL)
			case <-ctx.Done():
				return
			}
		}
	}()

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			finalStatus = models.RunStatusFailedDB
			finalErr = chunk.Error.Error()
			finalKind = errorKind(chunk.Error)
			c.append(bgCtx, runID, errorEvent(runID, chunk.Error))
			continue
		}
		if chunk.Text != "" {
			finalContent.WriteString(chunk.Text)
			c.append(bgCtx, runID, deltaEvent(runID, chunk.Text))
		}
		if chunk.ToolEvent != nil && chunk.ToolEvent.Stage == models.ToolEventRequested {
			finalToolCalls = append(finalToolCalls, models.ToolCall{
				ID:    chunk.ToolEvent.ToolCallID,
				Name:  chunk.ToolEvent.ToolName,
				Input: chunk.ToolEvent.Input,
			})
			c.append(bgCtx, runID, toolCallEvent(runID, chunk.ToolEvent))
		}
		if chunk.ToolResult != nil {
			c.append(bgCtx, runID, toolResultEvent(runID, chunk.ToolResult))
		}
	}

	<-done

	if ctx.Err() != nil && finalStatus != models.RunStatusFailedDB {
		finalStatus = models.RunStatusStoppedDB
	}

	if finalStatus != models.RunStatusFailedDB {
		c.append(bgCtx, runID, assistantFinalEvent(runID, finalContent.String(), finalToolCalls))
	}

	if err := c.runs.UpdateStatus(bgCtx, runID, finalStatus, finalErr, finalKind); err != nil {
		c.log.Error("runcontrol: update run status failed", "run_id", runID, "error", err)
	}
	c.append(bgCtx, runID, statusEvent(runID, finalStatus, finalKind, finalErr))
}

func (c *Controller) append(ctx context.Context, runID string, build func(seq int64, now time.Time) *models.RunEvent) {
	seq, err := c.bus.NextSeq(ctx, runID)
	if err != nil {
		c.log.Error("runcontrol: allocate seq failed", "run_id", runID, "error", err)
		return
	}
	ev := build(seq, time.Now())
	if err := c.bus.Append(ctx, ev); err != nil {
		c.log.Error("runcontrol: append event failed", "run_id", runID, "error", err)
	}
}

// Stream exposes the bus's replay-then-live subscriber stream for a run.
func (c *Controller) Stream(ctx context.Context, runID string, fromSeq int64) <-chan *models.RunEvent {
	return c.bus.Stream(ctx, runID, fromSeq)
}

// Stop requests cooperative cancellation of a running turn. It is
// best-effort: a worker that has not yet subscribed to the control
// channel will only observe the stop on its next ctx.Done() check.
func (c *Controller) Stop(ctx context.Context, runID string) error {
	return c.bus.PublishControl(ctx, runID, bus.ControlStop)
}

// Reap scans this instance's active-run set for runs whose heartbeat
// key has expired (the owning goroutine crashed or the process died
// without cleanup) and marks them failed/abandoned.
func (c *Controller) Reap(ctx context.Context) error {
	members, err := c.active.Members(ctx, c.instanceID)
	if err != nil {
		return err
	}
	for _, runID := range members {
		alive, err := c.active.IsAlive(ctx, c.instanceID, runID)
		if err != nil || alive {
			continue
		}
		if err := c.runs.UpdateStatus(ctx, runID, models.RunStatusFailedDB, "run abandoned: heartbeat expired", string(models.RunStatusKindAbandoned)); err != nil {
			c.log.Error("runcontrol: reap update failed", "run_id", runID, "error", err)
			continue
		}
		seq, err := c.bus.NextSeq(ctx, runID)
		if err != nil {
			continue
		}
		_ = c.bus.Append(ctx, statusEvent(runID, models.RunStatusFailedDB, string(models.RunStatusKindAbandoned), "run abandoned: heartbeat expired")(seq, time.Now()))
		_ = c.active.Remove(ctx, c.instanceID, runID)
	}
	return nil
}

func errorKind(err error) string {
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		return string(loopErr.Phase)
	}
	return ""
}
