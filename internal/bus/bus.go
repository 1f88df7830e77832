// Package bus implements the per-run streaming event bus: an
// append-only log plus a pub/sub channel that together let any number
// of subscribers, on any process, replay and then live-tail a run's
// events in strict seq order.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrClosed is returned by Publish/Append when the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// Config controls log retention and subscriber buffering.
type Config struct {
	// LogTTL is how long a run's append-only log survives without new
	// writes. Default: 24h.
	LogTTL time.Duration

	// LogMaxEntries caps the log length; the oldest entries are trimmed
	// once exceeded. Default: 10000.
	LogMaxEntries int64

	// SubscriberBufferSize bounds the channel handed to subscribers.
	// Slow subscribers whose buffer fills are dropped, per the
	// no-blocking-producers backpressure policy; they are expected to
	// reconnect with from_seq and replay from the log.
	SubscriberBufferSize int
}

// DefaultConfig returns the spec defaults (bus.log_ttl_seconds=86400,
// bus.log_max_entries=10000).
func DefaultConfig() Config {
	return Config{
		LogTTL:               24 * time.Hour,
		LogMaxEntries:        10000,
		SubscriberBufferSize: 256,
	}
}

// Bus is the Redis-backed streaming event bus for agent runs. One Bus
// instance is shared by every run on a process; per-run state lives
// entirely in Redis keys so any instance can publish or subscribe to any
// run.
type Bus struct {
	client redis.UniversalClient
	config Config
}

// New creates a Bus backed by the given Redis client. If cfg is the
// zero value, DefaultConfig is used.
func New(client redis.UniversalClient, cfg Config) *Bus {
	if cfg.LogTTL <= 0 {
		cfg.LogTTL = DefaultConfig().LogTTL
	}
	if cfg.LogMaxEntries <= 0 {
		cfg.LogMaxEntries = DefaultConfig().LogMaxEntries
	}
	if cfg.SubscriberBufferSize <= 0 {
		cfg.SubscriberBufferSize = DefaultConfig().SubscriberBufferSize
	}
	return &Bus{client: client, config: cfg}
}

func logKey(runID string) string     { return "responses:" + runID }
func eventsChannel(runID string) string { return "run:" + runID + ":events" }
func controlChannel(runID string) string { return "run:" + runID + ":control" }
func seqKey(runID string) string     { return "responses:" + runID + ":seq" }

// NextSeq atomically allocates the next strictly-increasing sequence
// number for a run. Sequence numbers start at 1.
func (b *Bus) NextSeq(ctx context.Context, runID string) (int64, error) {
	return b.client.Incr(ctx, seqKey(runID)).Result()
}

// Append appends an event to the run's log and publishes it on the
// run's events channel, in that order, so that any subscriber racing
// the publish still finds the event in the log (step 1 of the
// subscriber protocol reads log length before subscribing).
func (b *Bus) Append(ctx context.Context, event *models.RunEvent) error {
	if event == nil {
		return errors.New("bus: nil event")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}

	key := logKey(event.RunID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -b.config.LogMaxEntries, -1)
	pipe.Expire(ctx, key, b.config.LogTTL)
	pipe.Expire(ctx, seqKey(event.RunID), b.config.LogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bus: append to log: %w", err)
	}

	if err := b.client.Publish(ctx, eventsChannel(event.RunID), payload).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Log returns the persisted events for a run with seq > fromSeq, in
// ascending seq order.
func (b *Bus) Log(ctx context.Context, runID string, fromSeq int64) ([]*models.RunEvent, error) {
	raw, err := b.client.LRange(ctx, logKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("bus: read log: %w", err)
	}
	events := make([]*models.RunEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.RunEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		if ev.Seq > fromSeq {
			events = append(events, &ev)
		}
	}
	return events, nil
}

// LogLength returns the current number of entries in the run's log,
// used by subscribers as the replay/live cutover point (step 1).
func (b *Bus) LogLength(ctx context.Context, runID string) (int64, error) {
	return b.client.LLen(ctx, logKey(runID)).Result()
}

// ControlMessage is published on a run's control channel.
type ControlMessage string

const (
	ControlStop     ControlMessage = "stop"
	ControlShutdown ControlMessage = "shutdown"
)

// PublishControl sends a control-channel message (stop/shutdown) to a
// run's worker. Delivery is best-effort pub/sub; a worker that has not
// yet subscribed will miss it, which is why workers also poll a level
// -triggered stop flag (see runcontrol.Controller.IsStopped).
func (b *Bus) PublishControl(ctx context.Context, runID string, msg ControlMessage) error {
	return b.client.Publish(ctx, controlChannel(runID), string(msg)).Err()
}

// SubscribeControl returns a channel of control messages for a run and
// a cancel function to stop the subscription.
func (b *Bus) SubscribeControl(ctx context.Context, runID string) (<-chan ControlMessage, func()) {
	sub := b.client.Subscribe(ctx, controlChannel(runID))
	out := make(chan ControlMessage, 4)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- ControlMessage(msg.Payload):
			default:
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}
