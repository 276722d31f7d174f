package task

import (
	"testing"
	"time"
)

type recordingTask struct {
	name    string
	elapsed []time.Duration
	onRun   func()
}

func (r *recordingTask) TaskName() string { return r.name }

func (r *recordingTask) RunTask(elapsed time.Duration) {
	r.elapsed = append(r.elapsed, elapsed)
	if r.onRun != nil {
		r.onRun()
	}
}

func TestDisabledTaskNotRun(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(func() time.Time { return start })
	task := &recordingTask{name: "dose"}
	s.Add(task)

	s.Run(start.Add(time.Second))
	if len(task.elapsed) != 0 {
		t.Errorf("disabled task ran %d times", len(task.elapsed))
	}
	if s.Enabled(task) {
		t.Error("new task should start disabled")
	}
}

func TestElapsedSinceEnable(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(func() time.Time { return start })
	task := &recordingTask{name: "dose"}
	s.Add(task)

	if !s.SetEnabled(task, true) {
		t.Fatal("SetEnabled returned false for a registered task")
	}

	s.Run(start.Add(1 * time.Second))
	s.Run(start.Add(3 * time.Second))
	s.Run(start.Add(3500 * time.Millisecond))

	want := []time.Duration{time.Second, 2 * time.Second, 500 * time.Millisecond}
	if len(task.elapsed) != len(want) {
		t.Fatalf("runs: got %v, want %v", task.elapsed, want)
	}
	for i := range want {
		if task.elapsed[i] != want[i] {
			t.Errorf("run %d: got %v, want %v", i, task.elapsed[i], want[i])
		}
	}
}

func TestReEnableKeepsAccounting(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(func() time.Time { return now })
	task := &recordingTask{name: "dose"}
	s.Add(task)
	s.SetEnabled(task, true)

	now = now.Add(5 * time.Second)
	s.SetEnabled(task, true)
	s.Run(now.Add(time.Second))

	if len(task.elapsed) != 1 || task.elapsed[0] != 6*time.Second {
		t.Errorf("got %v, want [6s]", task.elapsed)
	}
}

func TestDisableThenEnableRestartsAccounting(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(func() time.Time { return now })
	task := &recordingTask{name: "dose"}
	s.Add(task)
	s.SetEnabled(task, true)
	s.SetEnabled(task, false)

	now = now.Add(time.Minute)
	s.SetEnabled(task, true)
	s.Run(now.Add(time.Second))

	if len(task.elapsed) != 1 || task.elapsed[0] != time.Second {
		t.Errorf("got %v, want [1s]", task.elapsed)
	}
}

func TestClockStepBack(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(func() time.Time { return start })
	task := &recordingTask{name: "dose"}
	s.Add(task)
	s.SetEnabled(task, true)

	s.Run(start.Add(-time.Second))
	if len(task.elapsed) != 1 || task.elapsed[0] != 0 {
		t.Errorf("got %v, want [0s]", task.elapsed)
	}
}

func TestSetEnabledUnknownTask(t *testing.T) {
	s := NewScheduler(nil)
	if s.SetEnabled(&recordingTask{}, true) {
		t.Error("SetEnabled should report false for an unknown task")
	}
}

func TestTaskDisablingItselfDuringRun(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(func() time.Time { return start })
	a := &recordingTask{name: "a"}
	b := &recordingTask{name: "b"}
	a.onRun = func() { s.SetEnabled(b, false) }
	s.Add(a)
	s.Add(b)
	s.SetEnabled(a, true)
	s.SetEnabled(b, true)

	s.Run(start.Add(time.Second))

	if len(a.elapsed) != 1 {
		t.Errorf("a runs: got %d, want 1", len(a.elapsed))
	}
	if len(b.elapsed) != 0 {
		t.Errorf("b ran after being disabled: %v", b.elapsed)
	}
}

func TestAddTwiceAndRemove(t *testing.T) {
	s := NewScheduler(nil)
	task := &recordingTask{name: "dose"}
	s.Add(task)
	s.Add(task)
	if s.Len() != 1 {
		t.Errorf("len: got %d, want 1", s.Len())
	}
	s.Remove(task)
	if s.Len() != 0 {
		t.Errorf("len after remove: got %d, want 0", s.Len())
	}
}
