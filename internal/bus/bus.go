// Package bus bridges the journal to external live subscribers,
// adding idle heartbeats on top of the journal's own fan-out (spec C11).
package bus

import (
	"sync"
	"time"

	"github.com/thinksuit/thinksuit/internal/journal"
)

// HeartbeatInterval is how often an idle subscriber receives a
// heartbeat (spec §4.11: "every 30 seconds when idle").
const HeartbeatInterval = 30 * time.Second

// Source is the subset of *journal.Journal the Bus depends on, so it
// can be swapped in tests.
type Source interface {
	Subscribe(sessionID string) (<-chan journal.Entry, func())
}

// Bus is a per-session multi-consumer broadcaster over a journal's
// subscription mechanism, adding a heartbeat entry when idle.
type Bus struct {
	source Source
}

// New constructs a Bus reading from source (normally a *journal.Journal).
func New(source Source) *Bus {
	return &Bus{source: source}
}

// Subscribe registers a consumer for sessionID. It forwards every
// journal entry and injects a heartbeat entry (event "system.heartbeat")
// whenever no real entry arrives within HeartbeatInterval. The returned
// func unsubscribes deterministically, releasing the underlying
// journal subscription and stopping the heartbeat ticker.
func (b *Bus) Subscribe(sessionID string) (<-chan journal.Entry, func()) {
	upstream, unsubUpstream := b.source.Subscribe(sessionID)
	out := make(chan journal.Entry, cap(upstream))
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		defer close(out)
		for {
			select {
			case e, ok := <-upstream:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-done:
					return
				}
				ticker.Reset(HeartbeatInterval)
			case <-ticker.C:
				select {
				case out <- journal.Entry{SessionID: sessionID, Event: "system.heartbeat", Time: time.Now().UTC()}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var closeOnce sync.Once
	unsubscribe := func() {
		closeOnce.Do(func() {
			close(done)
			unsubUpstream()
		})
	}
	return out, unsubscribe
}
