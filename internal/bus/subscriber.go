package bus

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Stream implements the subscriber protocol of spec §4.4:
//  1. read the current log length L
//  2. subscribe to the pub/sub channel
//  3. emit persisted events with seq in (fromSeq, L]
//  4. emit pub/sub events, de-duping anything with seq <= the last one
//     already emitted (the subscribe in step 2 may race the log writes)
//  5. stop after a terminal status event or when ctx is cancelled
//
// The returned channel is closed when the stream ends. Events are
// delivered in strictly ascending seq order with no gaps and no
// duplicates, for any fromSeq.
func (b *Bus) Stream(ctx context.Context, runID string, fromSeq int64) <-chan *models.RunEvent {
	out := make(chan *models.RunEvent, b.config.SubscriberBufferSize)

	go func() {
		defer close(out)

		length, err := b.LogLength(ctx, runID)
		if err != nil {
			return
		}

		sub := b.client.Subscribe(ctx, eventsChannel(runID))
		defer sub.Close()
		live := sub.Channel()

		lastSeq := fromSeq

		backlog, err := b.Log(ctx, runID, fromSeq)
		if err != nil {
			return
		}
		for _, ev := range backlog {
			if ev.Seq <= lastSeq {
				continue
			}
			if !deliver(ctx, out, ev) {
				return
			}
			lastSeq = ev.Seq
			if ev.IsTerminal() {
				return
			}
		}
		_ = length // length only bounds the backlog read conceptually; Log already filters by fromSeq

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-live:
				if !ok {
					return
				}
				var ev models.RunEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if ev.Seq <= lastSeq {
					continue // already emitted from the backlog read
				}
				if !deliver(ctx, out, &ev) {
					return
				}
				lastSeq = ev.Seq
				if ev.IsTerminal() {
					return
				}
			}
		}
	}()

	return out
}

func deliver(ctx context.Context, out chan<- *models.RunEvent, ev *models.RunEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
