package pump

import (
	"github.com/google/uuid"

	"github.com/sweeney/pump-doser/internal/actuator"
	"github.com/sweeney/pump-doser/internal/logging"
)

const (
	responseSuccess       = `{"success": true}`
	responseUnknownAction = `{"success": false, "error": "unknown action"}`
)

// ReceiveAction handles a dispatcher action. Action 0 doses and ignores the
// payload. Other codes are rejected without touching the pump.
func (d *Device) ReceiveAction(action int, payload string) (bool, string) {
	switch action {
	case ActionDose:
		d.dose(TriggerManual, nil)
		return true, responseSuccess
	default:
		logging.Warn("unknown action", "device", d.name, "action", action)
		return false, responseUnknownAction
	}
}

// Dose runs the pump once with the given trigger and returns the event.
func (d *Device) Dose(trigger Trigger) DoseEvent {
	return d.dose(trigger, nil)
}

// dose drives the pump at the configured speed for the configured time and
// then returns it to neutral. It blocks for the whole dose.
func (d *Device) dose(trigger Trigger, cause *Evaluation) DoseEvent {
	cfg := d.cfg
	ev := DoseEvent{
		ID:       uuid.NewString(),
		Device:   d.name,
		Trigger:  trigger,
		Speed:    cfg.PumpSpeed,
		Duration: cfg.DoseDuration(),
		Started:  d.now(),
	}
	if cause != nil {
		ev.Parameter = cause.Parameter
		ev.Value = cause.Value
		ev.Threshold = cause.Threshold
	}

	logging.Info("dosing pump", "device", d.name, "trigger", string(trigger),
		"speed", cfg.PumpSpeed, "doseTime", cfg.DoseTime)

	if err := d.act.Write(cfg.PumpSpeed); err != nil {
		logging.Warn("pump drive failed", "device", d.name, "error", err)
	}
	d.sleep(ev.Duration)
	if err := d.act.Write(actuator.Neutral); err != nil {
		logging.Warn("pump stop failed", "device", d.name, "error", err)
	}

	d.observer.ObserveDose(ev)
	return ev
}
