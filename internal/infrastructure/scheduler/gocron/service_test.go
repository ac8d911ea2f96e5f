package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	scheduler "github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

var schedulerTypes = map[string]func() ports.SchedulerService{
	"gocron": scheduler.NewScheduler,
}

func TestSchedulerService(t *testing.T) {
	for schedulerType, factory := range schedulerTypes {
		t.Run(schedulerType, func(t *testing.T) {
			testScheduler(t, factory)
		})
	}
}

func testScheduler(t *testing.T, newScheduler func() ports.SchedulerService) {
	t.Run("schedule every", func(t *testing.T) {
		svc := newScheduler()
		svc.Start()

		var runs atomic.Int32
		err := svc.ScheduleEvery(100*time.Millisecond, func() {
			runs.Add(1)
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return runs.Load() >= 2
		}, 5*time.Second, 50*time.Millisecond)

		svc.Stop()
		stoppedAt := runs.Load()
		time.Sleep(300 * time.Millisecond)
		require.LessOrEqual(t, runs.Load(), stoppedAt+1)
	})

	t.Run("runs do not overlap", func(t *testing.T) {
		svc := newScheduler()
		svc.Start()
		defer svc.Stop()

		var running, overlaps, runs atomic.Int32
		err := svc.ScheduleEvery(50*time.Millisecond, func() {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(200 * time.Millisecond)
			running.Add(-1)
			runs.Add(1)
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return runs.Load() >= 2
		}, 5*time.Second, 50*time.Millisecond)
		require.Zero(t, overlaps.Load())
	})

	t.Run("invalid interval", func(t *testing.T) {
		svc := newScheduler()
		err := svc.ScheduleEvery(0, func() {})
		require.ErrorContains(t, err, "invalid interval")
	})
}
