package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string          `json:"event,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Device         string          `json:"device"`
	Ready          bool            `json:"ready"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	StartTime      string          `json:"start_time"`
	Timestamp      string          `json:"timestamp"`
	MQTT           MQTTStatus      `json:"mqtt"`
	Pump           PumpJSON        `json:"pump"`
	Doses          CountsJSON      `json:"dose_counts"`
	LastDose       *DoseJSON       `json:"last_dose,omitempty"`
	LastEvaluation *EvaluationJSON `json:"last_evaluation,omitempty"`
	NextSchedule   string          `json:"next_schedule,omitempty"`
	Network        *NetworkJSON    `json:"network,omitempty"`
	Config         ConfigJSON      `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// PumpJSON is the device configuration as shown on the status page.
type PumpJSON struct {
	Speed         int    `json:"speed"`
	DoseMs        int    `json:"dose_ms"`
	Pin           int    `json:"pin"`
	Threshold     int    `json:"threshold"`
	AutoParameter string `json:"auto_parameter"`
	AutoEnabled   bool   `json:"auto_enabled"`
	ActiveLow     bool   `json:"active_low"`
	TaskName      string `json:"task_name"`
	TaskPeriodMs  int    `json:"task_period_ms"`
}

// CountsJSON is the JSON representation of dose counts.
type CountsJSON struct {
	Manual   int `json:"manual"`
	Auto     int `json:"auto"`
	Schedule int `json:"schedule"`
	Total    int `json:"total"`
}

// DoseJSON describes the most recent dose.
type DoseJSON struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Timestamp  string `json:"timestamp"`
	DurationMs int64  `json:"duration_ms"`
}

// EvaluationJSON describes the most recent control-loop check.
type EvaluationJSON struct {
	Parameter string  `json:"parameter"`
	Found     bool    `json:"found"`
	Value     float64 `json:"value"`
	Triggered bool    `json:"triggered"`
	Timestamp string  `json:"timestamp"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64    `json:"tick_ms"`
	HeartbeatMs int64    `json:"heartbeat_ms"`
	Broker      string   `json:"broker"`
	HTTPPort    string   `json:"http_port"`
	DataDir     string   `json:"data_dir"`
	Schedules   []string `json:"schedules,omitempty"`
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	p := snap.Pump
	inner := StatusInner{
		Device:        snap.Device,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     rfc3339(snap.StartTime),
		Timestamp:     rfc3339(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Pump: PumpJSON{
			Speed:         p.PumpSpeed,
			DoseMs:        p.DoseTime,
			Pin:           p.Pin,
			Threshold:     p.Threshold,
			AutoParameter: p.AutoParameter,
			AutoEnabled:   p.AutoEnabled,
			ActiveLow:     p.ActiveLow,
			TaskName:      p.TaskName,
			TaskPeriodMs:  p.TaskPeriod,
		},
		Doses: CountsJSON{
			Manual:   snap.Counts.Manual,
			Auto:     snap.Counts.Auto,
			Schedule: snap.Counts.Schedule,
			Total:    snap.Counts.Total(),
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			DataDir:     snap.Config.DataDir,
			Schedules:   snap.Config.Schedules,
		},
	}
	if d := snap.LastDose; d != nil {
		inner.LastDose = &DoseJSON{
			ID:         d.ID,
			Trigger:    string(d.Trigger),
			Timestamp:  rfc3339(d.Started),
			DurationMs: d.Duration.Milliseconds(),
		}
	}
	if e := snap.LastEvaluation; e != nil {
		inner.LastEvaluation = &EvaluationJSON{
			Parameter: e.Parameter,
			Found:     e.Found,
			Value:     e.Value,
			Triggered: e.Triggered,
			Timestamp: rfc3339(e.Time),
		}
	}
	if !snap.NextSchedule.IsZero() {
		inner.NextSchedule = rfc3339(snap.NextSchedule)
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
