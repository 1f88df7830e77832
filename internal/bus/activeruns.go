package bus

import (
	"context"
	"fmt"
	"time"
)

// ActiveRuns tracks, per instance, the set of run_ids currently being
// worked by that instance's workers (KV/Cache component, spec §2 row A).
// Membership is refreshed by a heartbeat TTL key; a reaper elsewhere
// scans for expired heartbeats and fails abandoned runs.
type ActiveRuns struct {
	bus *Bus
}

// NewActiveRuns wraps a Bus's Redis client for active-run tracking.
func NewActiveRuns(b *Bus) *ActiveRuns {
	return &ActiveRuns{bus: b}
}

func activeRunsSetKey(instanceID string) string {
	return "active_runs:" + instanceID
}

func heartbeatKey(instanceID, runID string) string {
	return fmt.Sprintf("active_runs:%s:hb:%s", instanceID, runID)
}

// Add registers a run under an instance and sets its initial heartbeat
// TTL. SADD and the TTL key write are independent; Heartbeat refreshes
// the TTL and Remove clears both.
func (a *ActiveRuns) Add(ctx context.Context, instanceID, runID string, ttl time.Duration) error {
	pipe := a.bus.client.TxPipeline()
	pipe.SAdd(ctx, activeRunsSetKey(instanceID), runID)
	pipe.Set(ctx, heartbeatKey(instanceID, runID), "1", ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Heartbeat refreshes a run's TTL entry. Idempotent: calling it after
// the run already terminated is harmless (the key simply expires once
// Remove deletes it, or earlier if never refreshed again).
func (a *ActiveRuns) Heartbeat(ctx context.Context, instanceID, runID string, ttl time.Duration) error {
	return a.bus.client.Expire(ctx, heartbeatKey(instanceID, runID), ttl).Err()
}

// Remove clears a run from the active-run set and deletes its
// heartbeat key. Called once a run reaches a terminal status.
func (a *ActiveRuns) Remove(ctx context.Context, instanceID, runID string) error {
	pipe := a.bus.client.TxPipeline()
	pipe.SRem(ctx, activeRunsSetKey(instanceID), runID)
	pipe.Del(ctx, heartbeatKey(instanceID, runID))
	_, err := pipe.Exec(ctx)
	return err
}

// Members lists the runs an instance currently believes are active.
func (a *ActiveRuns) Members(ctx context.Context, instanceID string) ([]string, error) {
	return a.bus.client.SMembers(ctx, activeRunsSetKey(instanceID)).Result()
}

// IsAlive reports whether a run's heartbeat key has not expired.
func (a *ActiveRuns) IsAlive(ctx context.Context, instanceID, runID string) (bool, error) {
	n, err := a.bus.client.Exists(ctx, heartbeatKey(instanceID, runID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
