package pump

import (
	"time"

	"github.com/sweeney/pump-doser/internal/logging"
)

// TaskName identifies the control loop to the scheduler.
func (d *Device) TaskName() string {
	if d.cfg.TaskName != "" {
		return d.cfg.TaskName
	}
	return d.name
}

// RunTask is the control loop tick. elapsed is the time since the previous
// tick. Once the accumulated time reaches the configured period the
// accumulator is reset to zero, discarding any overshoot, and the monitored
// measurement is checked against the threshold.
func (d *Device) RunTask(elapsed time.Duration) {
	if !d.cfg.AutoEnabled {
		return
	}
	period := d.cfg.Period()
	if period <= 0 {
		return
	}

	d.accumulated += elapsed
	if d.accumulated < period {
		return
	}
	d.accumulated = 0
	d.evaluate()
}

// Accumulated returns the control loop's running total.
func (d *Device) Accumulated() time.Duration { return d.accumulated }

func (d *Device) evaluate() {
	cfg := d.cfg
	ev := Evaluation{
		Device:    d.name,
		Parameter: cfg.AutoParameter,
		Threshold: cfg.Threshold,
		ActiveLow: cfg.ActiveLow,
		Time:      d.now(),
	}
	if cfg.AutoParameter != "" && d.sensors != nil {
		ev.Value, ev.Found = d.sensors.Lookup(cfg.AutoParameter)
	}
	ev.Triggered = ev.Found && cfg.Triggers(ev.Value)

	logging.Debug("auto dose check", "device", d.name, "parameter", ev.Parameter,
		"found", ev.Found, "value", ev.Value, "threshold", ev.Threshold, "triggered", ev.Triggered)
	d.observer.ObserveEvaluation(ev)

	if ev.Triggered {
		d.dose(TriggerAuto, &ev)
	}
}

// EnableAuto turns the control loop on or off and tells the scheduler to
// start or stop invoking it.
func (d *Device) EnableAuto(enabled bool) {
	if enabled && !d.cfg.AutoEnabled {
		d.accumulated = 0
	}
	d.cfg.AutoEnabled = enabled

	if d.sched == nil {
		return
	}
	if !d.sched.SetEnabled(d, enabled) {
		logging.Warn("control loop not registered with scheduler", "device", d.name)
	}
}
