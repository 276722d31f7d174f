package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/pump"
)

// Schedules runs time-of-day doses from standard five-field cron specs.
type Schedules struct {
	cron    *cron.Cron
	client  *Client
	timeout time.Duration
}

// NewSchedules creates an empty schedule set. timeout bounds how long a job
// waits for the run loop, including the dose itself.
func NewSchedules(client *Client, timeout time.Duration, loc *time.Location) *Schedules {
	if loc == nil {
		loc = time.Local
	}
	return &Schedules{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		client:  client,
		timeout: timeout,
	}
}

// Add registers a dose at spec. name only appears in logs.
func (s *Schedules) Add(name, spec string) error {
	_, err := s.cron.AddFunc(spec, func() { s.dose(name) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return nil
}

// Len returns the number of registered schedules.
func (s *Schedules) Len() int { return len(s.cron.Entries()) }

// Next returns the next activation time across all schedules, or zero.
func (s *Schedules) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// Start runs the cron scheduler in its own goroutine.
func (s *Schedules) Start() { s.cron.Start() }

// Stop halts scheduling. The returned context ends once running jobs finish.
func (s *Schedules) Stop() context.Context { return s.cron.Stop() }

func (s *Schedules) dose(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ev, err := s.client.Dose(ctx, pump.TriggerSchedule)
	if err != nil {
		logging.Error("scheduled dose failed", "schedule", name, "error", err)
		return
	}
	logging.Info("scheduled dose complete", "schedule", name, "id", ev.ID, "duration", ev.Duration)
}

// ValidSpec reports whether spec parses as a standard cron expression.
func ValidSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
