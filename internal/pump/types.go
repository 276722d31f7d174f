// Package pump implements a peristaltic dosing pump device: persisted
// configuration, a manual "Dose" action and a threshold-triggered control
// loop.
//
// The device holds no locks. Every entry point must be called from one
// goroutine at a time; the daemon funnels them through its run loop.
// Time, sleeping, storage, the actuator, the scheduler and the measurement
// source are all injected.
package pump

import (
	"time"

	"github.com/sweeney/pump-doser/internal/task"
)

// Storage persists the configuration file.
type Storage interface {
	Exists(path string) bool
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// TaskScheduler turns the control loop's invocation on and off.
type TaskScheduler interface {
	Add(t task.Task)
	SetEnabled(t task.Task, enabled bool) bool
}

// Measurements looks up the current value of a named measurement.
type Measurements interface {
	Lookup(parameter string) (float64, bool)
}

// Trigger records why a dose happened.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerAuto     Trigger = "auto"
	TriggerSchedule Trigger = "schedule"
)

// DoseEvent describes a completed dose.
type DoseEvent struct {
	ID       string
	Device   string
	Trigger  Trigger
	Speed    int
	Duration time.Duration
	Started  time.Time

	// Set for auto doses only.
	Parameter string
	Value     float64
	Threshold int
}

// Evaluation is the outcome of one control-loop check.
type Evaluation struct {
	Device    string
	Parameter string
	Found     bool
	Value     float64
	Threshold int
	ActiveLow bool
	Triggered bool
	Time      time.Time
}

// Observer is notified about configuration changes, doses and evaluations.
// Callbacks run synchronously on the caller's goroutine.
type Observer interface {
	ObserveConfig(device string, cfg Config)
	ObserveDose(ev DoseEvent)
	ObserveEvaluation(ev Evaluation)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) ObserveConfig(device string, cfg Config) {
	for _, obs := range o {
		obs.ObserveConfig(device, cfg)
	}
}

func (o Observers) ObserveDose(ev DoseEvent) {
	for _, obs := range o {
		obs.ObserveDose(ev)
	}
}

func (o Observers) ObserveEvaluation(ev Evaluation) {
	for _, obs := range o {
		obs.ObserveEvaluation(ev)
	}
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Config     func(device string, cfg Config)
	Dose       func(ev DoseEvent)
	Evaluation func(ev Evaluation)
}

func (f ObserverFuncs) ObserveConfig(device string, cfg Config) {
	if f.Config != nil {
		f.Config(device, cfg)
	}
}

func (f ObserverFuncs) ObserveDose(ev DoseEvent) {
	if f.Dose != nil {
		f.Dose(ev)
	}
}

func (f ObserverFuncs) ObserveEvaluation(ev Evaluation) {
	if f.Evaluation != nil {
		f.Evaluation(ev)
	}
}

// Action identifies a manual action code.
type Action struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// ActionDose is the only action a pump accepts.
const ActionDose = 0

// Description advertises the device to a dispatcher.
type Description struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	ActionQuantity int      `json:"actionQuantity"`
	Actions        []Action `json:"actions"`
}
