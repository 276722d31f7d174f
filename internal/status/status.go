// Package status provides a thread-safe status tracker for the pump-doser daemon.
// It is read by HTTP handlers and MQTT heartbeats while the run loop writes it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pump-doser/internal/pump"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	DataDir     string
	Schedules   []string
}

// DoseCounts counts completed doses per trigger since startup.
type DoseCounts struct {
	Manual   int
	Auto     int
	Schedule int
}

// Total returns the sum of all triggers.
func (c DoseCounts) Total() int {
	return c.Manual + c.Auto + c.Schedule
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Device         string
	Pump           pump.Config
	Ready          bool
	Counts         DoseCounts
	LastDose       *pump.DoseEvent
	LastEvaluation *pump.Evaluation
	NextSchedule   time.Time
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
// It implements pump.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker for device with the given start time and config.
func NewTracker(device string, startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Device:    device,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetReady marks the device as initialized.
func (t *Tracker) SetReady(ready bool) {
	t.mu.Lock()
	t.snap.Ready = ready
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetNextSchedule records the next cron activation. Zero means none.
func (t *Tracker) SetNextSchedule(next time.Time) {
	t.mu.Lock()
	t.snap.NextSchedule = next
	t.mu.Unlock()
}

func (t *Tracker) ObserveConfig(_ string, cfg pump.Config) {
	t.mu.Lock()
	t.snap.Pump = cfg
	t.mu.Unlock()
}

func (t *Tracker) ObserveDose(ev pump.DoseEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Trigger {
	case pump.TriggerAuto:
		t.snap.Counts.Auto++
	case pump.TriggerSchedule:
		t.snap.Counts.Schedule++
	default:
		t.snap.Counts.Manual++
	}
	t.snap.LastDose = &ev
}

func (t *Tracker) ObserveEvaluation(ev pump.Evaluation) {
	t.mu.Lock()
	t.snap.LastEvaluation = &ev
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
