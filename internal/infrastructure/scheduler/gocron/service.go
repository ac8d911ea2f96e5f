package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
	mu        *sync.Mutex
	jobs      []*gocron.Job
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc, &sync.Mutex{}, nil}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduler.Stop()
	s.scheduler.Clear()
	s.jobs = nil
}

func (s *service) ScheduleEvery(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s, must be positive", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(fn)
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}
