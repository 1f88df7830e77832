package bus_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
)

func TestActiveRuns_AddHeartbeatRemove(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	active := bus.NewActiveRuns(b)
	instanceID := "instance-1"

	if err := active.Add(ctx, instanceID, "run-a", time.Minute); err != nil {
		t.Fatalf("Add run-a: %v", err)
	}
	if err := active.Add(ctx, instanceID, "run-b", time.Minute); err != nil {
		t.Fatalf("Add run-b: %v", err)
	}

	members, err := active.Members(ctx, instanceID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "run-a" || members[1] != "run-b" {
		t.Fatalf("expected [run-a run-b], got %v", members)
	}

	alive, err := active.IsAlive(ctx, instanceID, "run-a")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if !alive {
		t.Fatal("expected run-a to be alive immediately after Add")
	}

	if err := active.Heartbeat(ctx, instanceID, "run-a", time.Minute); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if err := active.Remove(ctx, instanceID, "run-b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	members, err = active.Members(ctx, instanceID)
	if err != nil {
		t.Fatalf("Members after Remove: %v", err)
	}
	if len(members) != 1 || members[0] != "run-a" {
		t.Fatalf("expected only run-a to remain, got %v", members)
	}

	aliveAfterRemove, err := active.IsAlive(ctx, instanceID, "run-b")
	if err != nil {
		t.Fatalf("IsAlive after Remove: %v", err)
	}
	if aliveAfterRemove {
		t.Fatal("expected run-b to no longer be alive after Remove")
	}
}

func TestActiveRuns_IsAliveFalseForExpiredHeartbeat(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	active := bus.NewActiveRuns(b)

	if err := active.Add(ctx, "instance-2", "run-expiring", time.Millisecond); err != nil {
		t.Fatalf("Add: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	alive, err := active.IsAlive(ctx, "instance-2", "run-expiring")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if alive {
		t.Fatal("expected run-expiring's heartbeat key to have expired")
	}
}
