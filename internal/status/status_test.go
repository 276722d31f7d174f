package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pump-doser/internal/pump"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	cfg := Config{TickMs: 100, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker("alk", start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Device != "alk" {
		t.Errorf("Device: got %q, want alk", snap.Device)
	}
	if snap.Config.TickMs != 100 {
		t.Errorf("Config.TickMs: got %d, want 100", snap.Config.TickMs)
	}
	if snap.Ready {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.LastDose != nil || snap.LastEvaluation != nil {
		t.Error("expected no dose or evaluation initially")
	}
}

func TestObserverUpdatesSnapshot(t *testing.T) {
	tr := NewTracker("alk", start, Config{})

	cfg := pump.DefaultConfig("alk", 4)
	tr.ObserveConfig("alk", cfg)
	tr.ObserveDose(pump.DoseEvent{ID: "a", Trigger: pump.TriggerManual})
	tr.ObserveDose(pump.DoseEvent{ID: "b", Trigger: pump.TriggerAuto})
	tr.ObserveDose(pump.DoseEvent{ID: "c", Trigger: pump.TriggerSchedule})
	tr.ObserveDose(pump.DoseEvent{ID: "d", Trigger: pump.TriggerAuto})
	tr.ObserveEvaluation(pump.Evaluation{Parameter: "alk", Found: true, Value: 7})

	snap := tr.Snapshot()
	if snap.Pump != cfg {
		t.Errorf("Pump: got %+v, want %+v", snap.Pump, cfg)
	}
	want := DoseCounts{Manual: 1, Auto: 2, Schedule: 1}
	if snap.Counts != want {
		t.Errorf("Counts: got %+v, want %+v", snap.Counts, want)
	}
	if snap.Counts.Total() != 4 {
		t.Errorf("Total: got %d, want 4", snap.Counts.Total())
	}
	if snap.LastDose == nil || snap.LastDose.ID != "d" {
		t.Errorf("LastDose: got %+v, want id d", snap.LastDose)
	}
	if snap.LastEvaluation == nil || snap.LastEvaluation.Value != 7 {
		t.Errorf("LastEvaluation: got %+v", snap.LastEvaluation)
	}
}

func TestSetters(t *testing.T) {
	tr := NewTracker("alk", start, Config{})

	tr.SetReady(true)
	tr.SetMQTTConnected(true)
	next := start.Add(time.Hour)
	tr.SetNextSchedule(next)
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if !snap.Ready {
		t.Error("expected Ready=true")
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	if !snap.NextSchedule.Equal(next) {
		t.Errorf("NextSchedule: got %v, want %v", snap.NextSchedule, next)
	}
	if snap.Network == nil || snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network: got %+v", snap.Network)
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUsesClock(t *testing.T) {
	tr := NewTracker("alk", start, Config{})
	tr.SetClock(func() time.Time { return start.Add(15 * time.Minute) })

	snap := tr.Snapshot()
	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker("alk", start, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker("alk", start, Config{})
	tr.ObserveDose(pump.DoseEvent{ID: "first", Trigger: pump.TriggerManual})

	snap1 := tr.Snapshot()

	tr.ObserveDose(pump.DoseEvent{ID: "second", Trigger: pump.TriggerManual})

	if snap1.LastDose.ID != "first" {
		t.Error("snapshot should be a copy; LastDose was modified")
	}
	if snap1.Counts.Manual != 1 {
		t.Error("snapshot should be a copy; Counts was modified")
	}
}

func fullSnapshot() Snapshot {
	return Snapshot{
		Device:        "alk",
		Pump:          pump.DefaultConfig("alk", 4),
		Ready:         true,
		Counts:        DoseCounts{Manual: 5, Auto: 2},
		LastDose:      &pump.DoseEvent{ID: "x", Trigger: pump.TriggerAuto, Started: start.Add(time.Minute), Duration: 2 * time.Second},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{TickMs: 100, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPPort: ":80"},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(fullSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Device != "alk" {
		t.Errorf("Device: got %q, want alk", s.Device)
	}
	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.Pump.Speed != 180 || s.Pump.DoseMs != 2000 || s.Pump.TaskPeriodMs != 10000 {
		t.Errorf("Pump: got %+v", s.Pump)
	}
	if s.Doses.Manual != 5 || s.Doses.Total != 7 {
		t.Errorf("Doses: got %+v", s.Doses)
	}
	if s.LastDose == nil || s.LastDose.DurationMs != 2000 || s.LastDose.Timestamp != "2026-01-01T00:01:00Z" {
		t.Errorf("LastDose: got %+v", s.LastDose)
	}
	if s.LastEvaluation != nil {
		t.Errorf("expected no LastEvaluation, got %+v", s.LastEvaluation)
	}
	if s.NextSchedule != "" {
		t.Errorf("expected empty NextSchedule, got %q", s.NextSchedule)
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(fullSnapshot(), "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(time.Second)}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if _, exists := status["network"]; exists {
		t.Error("network should be omitted when unknown")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetworkAndEvaluation(t *testing.T) {
	snap := fullSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"}
	snap.LastEvaluation = &pump.Evaluation{Parameter: "alk", Found: true, Value: 7.4, Triggered: true, Time: start}
	snap.NextSchedule = start.Add(8 * time.Hour)

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Network == nil || parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network: got %+v", parsed.Status.Network)
	}
	if e := parsed.Status.LastEvaluation; e == nil || !e.Triggered || e.Value != 7.4 {
		t.Errorf("LastEvaluation: got %+v", e)
	}
	if parsed.Status.NextSchedule != "2026-01-01T08:00:00Z" {
		t.Errorf("NextSchedule: got %q", parsed.Status.NextSchedule)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker("alk", time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.ObserveDose(pump.DoseEvent{Trigger: pump.TriggerManual})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
