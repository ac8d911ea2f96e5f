package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleEvery runs fn every interval until Stop. Runs never overlap.
	ScheduleEvery(interval time.Duration, fn func()) error
}
