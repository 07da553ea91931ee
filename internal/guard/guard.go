// Package guard enforces at-most-once processing per message UID.
package guard

import (
	"context"
	"fmt"
	"sync"
)

// Ledger is the durable record of processed messages. A UID with a
// history entry is never reprocessed, even across restarts.
type Ledger interface {
	HistoryEntryExists(ctx context.Context, uid uint32) (bool, error)
}

// Guard combines a transient in-flight set (race protection within the
// process) with the durable history ledger. The in-flight set starts
// empty on every process start and is never persisted, so a crashed
// attempt cannot permanently block a message.
type Guard struct {
	ledger Ledger

	mu       sync.Mutex
	inflight map[uint32]struct{}
}

// New creates a guard backed by the given durable ledger.
func New(ledger Ledger) *Guard {
	return &Guard{
		ledger:   ledger,
		inflight: make(map[uint32]struct{}),
	}
}

// TryAcquire marks the UID as in-flight. It succeeds for at most one
// concurrent caller per UID; the winner must call Release when done.
func (g *Guard) TryAcquire(uid uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inflight[uid]; held {
		return false
	}
	g.inflight[uid] = struct{}{}
	return true
}

// Release clears the in-flight mark for the UID. Releasing a UID that
// is not held is a no-op.
func (g *Guard) Release(uid uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, uid)
}

// AlreadyProcessed reports whether the UID has a durable history entry.
func (g *Guard) AlreadyProcessed(ctx context.Context, uid uint32) (bool, error) {
	done, err := g.ledger.HistoryEntryExists(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("checking history for uid %d: %w", uid, err)
	}
	return done, nil
}
