// Package task runs periodic tasks from a single driving loop.
//
// The scheduler does not own a goroutine or timer. The caller invokes Run at
// its own cadence and every enabled task is told how much time has passed
// since it last ran. Tasks decide for themselves when enough time has
// accumulated to do work.
package task

import "time"

// Task is invoked with the time elapsed since its previous invocation.
type Task interface {
	TaskName() string
	RunTask(elapsed time.Duration)
}

type entry struct {
	task    Task
	enabled bool
	last    time.Time
}

// Scheduler tracks registered tasks and their enabled state.
// Not safe for concurrent use; it belongs to the run loop.
type Scheduler struct {
	now     func() time.Time
	entries []*entry
}

// NewScheduler creates a scheduler. now is used to stamp the moment a task
// gets enabled so its first elapsed value starts from there.
func NewScheduler(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{now: now}
}

// Add registers t in the disabled state. Adding the same task twice is a no-op.
func (s *Scheduler) Add(t Task) {
	if s.find(t) != nil {
		return
	}
	s.entries = append(s.entries, &entry{task: t})
}

// Remove unregisters t.
func (s *Scheduler) Remove(t Task) {
	for i, e := range s.entries {
		if e.task == t {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// SetEnabled starts or stops invocation of t. It returns false if t was
// never added. Re-enabling an enabled task keeps its elapsed accounting.
func (s *Scheduler) SetEnabled(t Task, enabled bool) bool {
	e := s.find(t)
	if e == nil {
		return false
	}
	if enabled && !e.enabled {
		e.last = s.now()
	}
	e.enabled = enabled
	return true
}

// Enabled reports whether t is currently invoked by Run.
func (s *Scheduler) Enabled(t Task) bool {
	e := s.find(t)
	return e != nil && e.enabled
}

// Run invokes every enabled task with the time since its previous run.
// A clock that steps backwards yields zero elapsed rather than a negative value.
func (s *Scheduler) Run(now time.Time) {
	due := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.enabled {
			due = append(due, e)
		}
	}

	for _, e := range due {
		if !e.enabled {
			continue
		}
		elapsed := now.Sub(e.last)
		if elapsed < 0 {
			elapsed = 0
		}
		e.last = now
		e.task.RunTask(elapsed)
	}
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int { return len(s.entries) }

func (s *Scheduler) find(t Task) *entry {
	for _, e := range s.entries {
		if e.task == t {
			return e
		}
	}
	return nil
}
