// Package mqtt connects a pump to an MQTT broker: dose, evaluation, config
// and lifecycle events go out; actions, config updates and sensor
// measurements come in.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pump-doser/internal/pump"
)

// DefaultPrefix is the root of every pump topic.
const DefaultPrefix = "pump"

// DefaultSensorPrefix is the root of measurement topics: <prefix>/<sensor>/<parameter>.
const DefaultSensorPrefix = "sensors"

// Topics holds the resolved topic names for one device.
type Topics struct {
	Events      string
	System      string
	Config      string
	Evaluations string
	Action      string
	ConfigSet   string

	// SensorPrefix is matched as SensorPrefix/+/+.
	SensorPrefix string
}

// NewTopics derives the topic set for device under prefix.
func NewTopics(prefix, device, sensorPrefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if sensorPrefix == "" {
		sensorPrefix = DefaultSensorPrefix
	}
	base := prefix + "/" + device
	return Topics{
		Events:       base + "/events",
		System:       base + "/system",
		Config:       base + "/config",
		Evaluations:  base + "/evaluations",
		Action:       base + "/action",
		ConfigSet:    base + "/config/set",
		SensorPrefix: sensorPrefix,
	}
}

// SensorFilter is the subscription filter for measurements.
func (t Topics) SensorFilter() string {
	return t.SensorPrefix + "/+/+"
}

// Publisher publishes pump events to MQTT.
type Publisher interface {
	// PublishDose sends a completed dose. Errors should be logged, not fatal.
	PublishDose(ev pump.DoseEvent) error

	// PublishEvaluation sends a control-loop check.
	PublishEvaluation(ev pump.Evaluation) error

	// PublishConfig sends the current configuration document, retained.
	PublishConfig(doc []byte) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DosePayload is the events topic message.
type DosePayload struct {
	Dose DoseBody `json:"dose"`
}

// DoseBody contains the dose details.
type DoseBody struct {
	Timestamp  string   `json:"timestamp"`
	ID         string   `json:"id"`
	Device     string   `json:"device"`
	Trigger    string   `json:"trigger"`
	Speed      int      `json:"speed"`
	DurationMs int64    `json:"durationMs"`
	Parameter  string   `json:"parameter,omitempty"`
	Value      *float64 `json:"value,omitempty"`
	Threshold  *int     `json:"threshold,omitempty"`
}

// FormatDosePayload creates the JSON payload for a dose. Measurement fields
// are only present for auto doses.
func FormatDosePayload(ev pump.DoseEvent) ([]byte, error) {
	body := DoseBody{
		Timestamp:  ev.Started.UTC().Format(time.RFC3339),
		ID:         ev.ID,
		Device:     ev.Device,
		Trigger:    string(ev.Trigger),
		Speed:      ev.Speed,
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Trigger == pump.TriggerAuto {
		value, threshold := ev.Value, ev.Threshold
		body.Parameter = ev.Parameter
		body.Value = &value
		body.Threshold = &threshold
	}
	return json.Marshal(DosePayload{Dose: body})
}

// EvaluationPayload is the evaluations topic message.
type EvaluationPayload struct {
	Evaluation EvaluationBody `json:"evaluation"`
}

// EvaluationBody contains one control-loop check.
type EvaluationBody struct {
	Timestamp string  `json:"timestamp"`
	Device    string  `json:"device"`
	Parameter string  `json:"parameter"`
	Found     bool    `json:"found"`
	Value     float64 `json:"value"`
	Threshold int     `json:"threshold"`
	ActiveLow bool    `json:"activeLow"`
	Triggered bool    `json:"triggered"`
}

// FormatEvaluationPayload creates the JSON payload for an evaluation.
func FormatEvaluationPayload(ev pump.Evaluation) ([]byte, error) {
	return json.Marshal(EvaluationPayload{Evaluation: EvaluationBody{
		Timestamp: ev.Time.UTC().Format(time.RFC3339),
		Device:    ev.Device,
		Parameter: ev.Parameter,
		Found:     ev.Found,
		Value:     ev.Value,
		Threshold: ev.Threshold,
		ActiveLow: ev.ActiveLow,
		Triggered: ev.Triggered,
	}})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
