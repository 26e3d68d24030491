package scheduler

import (
	"context"
	"time"

	"contractwatch/internal/ports"
)

// Interval drives a recurring job on a fixed period; the discovery pass runs
// on it. The job fires once immediately on start.
type Interval struct {
	period time.Duration
	stop   chan struct{}
}

var _ ports.Scheduler = (*Interval)(nil)

// NewInterval builds a driver with the given period.
func NewInterval(period time.Duration) *Interval {
	if period <= 0 {
		period = 30 * time.Minute
	}
	return &Interval{period: period}
}

// Start begins ticking.
func (s *Interval) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	go func(stop chan struct{}) {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}(s.stop)

	return nil
}

// Stop halts the ticker goroutine.
func (s *Interval) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}
