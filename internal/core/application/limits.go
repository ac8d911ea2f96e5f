package application

import (
	"sync"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
)

const outboundWindow = 24 * time.Hour

type outboundEntry struct {
	amount int64
	at     time.Time
}

// outboundTracker keeps the outbound amounts of the last 24 hours, keyed by
// payment hash. Checking the limit and reserving happen under one lock.
type outboundTracker struct {
	mu      sync.Mutex
	limit   int64
	now     func() time.Time
	entries map[string]outboundEntry
}

func newOutboundTracker(limit int64, now func() time.Time) *outboundTracker {
	return &outboundTracker{
		limit:   limit,
		now:     now,
		entries: make(map[string]outboundEntry),
	}
}

// used must be called with the lock held.
func (t *outboundTracker) used(now time.Time) int64 {
	var total int64
	for id, entry := range t.entries {
		if now.Sub(entry.at) >= outboundWindow {
			delete(t.entries, id)
			continue
		}
		total += entry.amount
	}
	return total
}

func (t *outboundTracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used(t.now())
}

// Reserve books amount for the payment. A limit of zero disables the check.
func (t *outboundTracker) Reserve(id string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	used := t.used(now)
	if _, ok := t.entries[id]; ok {
		return domain.NewError(domain.PaymentInProgress, "payment %s is already in progress", id)
	}
	if t.limit > 0 && used+amount > t.limit {
		return domain.NewError(
			domain.DailyLimitExceeded,
			"payment of %d sat exceeds daily outbound limit of %d sat, %d sat already sent in the last 24h",
			amount, t.limit, used,
		)
	}
	t.entries[id] = outboundEntry{amount, now}
	return nil
}

// Settle replaces the reserved amount with the one actually sent.
func (t *outboundTracker) Settle(id string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		entry.at = t.now()
	}
	entry.amount = amount
	t.entries[id] = entry
}

func (t *outboundTracker) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Restore reloads an amount sent before a restart.
func (t *outboundTracker) Restore(id string, amount int64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.now().Sub(at) >= outboundWindow || amount <= 0 {
		return
	}
	t.entries[id] = outboundEntry{amount, at}
}
