package application

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestOutboundTracker(t *testing.T) {
	t.Run("rolling window", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1700000000, 0)}
		tracker := newOutboundTracker(1000, clock.Now)

		require.NoError(t, tracker.Reserve("a", 600))
		clock.Advance(12 * time.Hour)
		require.NoError(t, tracker.Reserve("b", 400))
		require.Equal(t, int64(1000), tracker.Used())

		err := tracker.Reserve("c", 1)
		require.ErrorIs(t, err, domain.ErrDailyLimitExceeded)

		clock.Advance(12 * time.Hour)
		require.Equal(t, int64(400), tracker.Used())
		require.NoError(t, tracker.Reserve("c", 600))
		require.Equal(t, int64(1000), tracker.Used())
	})

	t.Run("settle and release", func(t *testing.T) {
		tracker := newOutboundTracker(1000, time.Now)

		require.NoError(t, tracker.Reserve("a", 530))
		tracker.Settle("a", 501)
		require.Equal(t, int64(501), tracker.Used())

		require.NoError(t, tracker.Reserve("b", 499))
		tracker.Release("b")
		require.Equal(t, int64(501), tracker.Used())
	})

	t.Run("duplicate reservation", func(t *testing.T) {
		tracker := newOutboundTracker(0, time.Now)

		require.NoError(t, tracker.Reserve("a", 10))
		err := tracker.Reserve("a", 10)
		require.ErrorIs(t, err, domain.ErrPaymentInProgress)
	})

	t.Run("no limit", func(t *testing.T) {
		tracker := newOutboundTracker(0, time.Now)
		require.NoError(t, tracker.Reserve("a", 1_000_000_000))
	})

	t.Run("restore", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1700000000, 0)}
		tracker := newOutboundTracker(1000, clock.Now)

		tracker.Restore("old", 500, clock.Now().Add(-25*time.Hour))
		tracker.Restore("recent", 300, clock.Now().Add(-time.Hour))
		tracker.Restore("failed", 0, clock.Now())
		require.Equal(t, int64(300), tracker.Used())
	})

	t.Run("concurrent reservations", func(t *testing.T) {
		tracker := newOutboundTracker(1000, time.Now)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
			rejected int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := tracker.Reserve(fmt.Sprintf("p%d", i), 100)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					accepted++
					return
				}
				if errors.Is(err, domain.ErrDailyLimitExceeded) {
					rejected++
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, 10, accepted)
		require.Equal(t, 10, rejected)
		require.Equal(t, int64(1000), tracker.Used())
	})
}

func TestNormalizeMaxFee(t *testing.T) {
	sat := func(v int64) *int64 { return &v }
	pct := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		amount   int64
		maxFee   *int64
		percent  *float64
		expected int64
	}{
		{"default percent", 1000, nil, nil, 30},
		{"absolute", 1000, sat(5), nil, 5},
		{"percent", 1000, nil, pct(1), 10},
		{"percent rounds down", 999, nil, pct(1), 9},
		{"smaller of both, absolute", 1000, sat(5), pct(1), 5},
		{"smaller of both, percent", 1000, sat(50), pct(1), 10},
		{"zero percent", 1000, nil, pct(0), 0},
		{"fractional percent", 100_000, nil, pct(0.5), 500},
		{"float precision", 1000, nil, pct(0.7), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeMaxFee(tt.amount, tt.maxFee, tt.percent, 3)
			require.Equal(t, tt.expected, got)
		})
	}
}
