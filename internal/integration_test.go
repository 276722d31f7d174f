package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/pump-doser/internal/actor"
	"github.com/sweeney/pump-doser/internal/actuator"
	"github.com/sweeney/pump-doser/internal/history"
	"github.com/sweeney/pump-doser/internal/mqtt"
	"github.com/sweeney/pump-doser/internal/pump"
	"github.com/sweeney/pump-doser/internal/sensor"
	"github.com/sweeney/pump-doser/internal/status"
	"github.com/sweeney/pump-doser/internal/storage"
	"github.com/sweeney/pump-doser/internal/task"
	"github.com/sweeney/pump-doser/internal/web"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type rig struct {
	dev       *pump.Device
	act       *actuator.Fake
	store     *storage.Storage
	sched     *task.Scheduler
	sensors   *sensor.Store
	tracker   *status.Tracker
	history   *history.Store
	publisher *mqtt.FakePublisher
	topics    mqtt.Topics
}

// newRig wires a device the way the daemon does, on fakes.
func newRig(t *testing.T) *rig {
	t.Helper()

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 100)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	r := &rig{
		act:       actuator.NewFake(),
		store:     storage.NewMemory(),
		sched:     task.NewScheduler(func() time.Time { return startTime }),
		sensors:   sensor.NewStore(),
		tracker:   status.NewTracker("alk", startTime, status.Config{}),
		history:   hist,
		publisher: mqtt.NewFakePublisher(),
		topics:    mqtt.NewTopics("pump", "alk", "sensors"),
	}
	observers := pump.Observers{r.tracker, r.history, mqtt.NewNotifier(r.publisher)}
	r.dev = pump.NewDevice(pump.Options{
		Name:         "alk",
		Pin:          4,
		ConfigFile:   "alk.json",
		Storage:      r.store,
		Actuator:     r.act,
		Scheduler:    r.sched,
		Measurements: r.sensors,
		Observer:     observers,
		Sleep:        func(time.Duration) {},
		Now:          func() time.Time { return startTime },
	})
	if err := r.dev.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r
}

// TestIntegrationMQTTFlow drives the device from MQTT messages: a config
// update enables the control loop, sensor readings decide whether it doses,
// and a manual action doses on request.
func TestIntegrationMQTTFlow(t *testing.T) {
	r := newRig(t)
	router := mqtt.NewRouter(r.topics, mqtt.Handlers{
		Action: func(action int, payload string) {
			if ok, resp := r.dev.ReceiveAction(action, payload); !ok {
				t.Errorf("action %d rejected: %s", action, resp)
			}
		},
		SetConfig: func(blob string) {
			if err := r.dev.SetConfig(blob); err != nil {
				t.Errorf("SetConfig: %v", err)
			}
		},
		Measurement: r.sensors.Publish,
	}, func() time.Time { return startTime })

	router.Handle(r.topics.ConfigSet, []byte(`{"pumpSpeed":150,"doseTime":1500,"pin":7,`+
		`"threshold":8,"autoParameter":"kh","autoEnabled":true,"activeLow":true,`+
		`"taskName":"alk","taskPeriod":1000}`))

	if got := r.act.Pin; got != 7 {
		t.Errorf("actuator pin: got %d, want 7", got)
	}
	saved, err := r.store.ReadFile(pump.ConfigPath("alk.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	if !strings.Contains(string(saved), `"pumpSpeed":150`) {
		t.Errorf("saved config: %s", saved)
	}

	// Above threshold: evaluate but do not dose.
	router.Handle("sensors/probe/kh", []byte("8.4"))
	r.sched.Run(startTime.Add(time.Second))
	if n := len(r.publisher.Doses); n != 0 {
		t.Fatalf("doses after high reading: got %d, want 0", n)
	}
	if n := len(r.publisher.Evaluations); n != 1 {
		t.Fatalf("evaluations: got %d, want 1", n)
	}

	// Below threshold: the next period doses.
	router.Handle("sensors/probe/kh", []byte(`{"value":7.6}`))
	r.sched.Run(startTime.Add(2 * time.Second))
	if n := len(r.publisher.Doses); n != 1 {
		t.Fatalf("doses after low reading: got %d, want 1", n)
	}
	auto := r.publisher.Doses[0]
	if auto.Trigger != pump.TriggerAuto || auto.Speed != 150 || auto.Duration != 1500*time.Millisecond {
		t.Errorf("auto dose: got %+v", auto)
	}

	// Manual dose over MQTT.
	router.Handle(r.topics.Action, []byte(`{"action":0,"payload":""}`))
	if n := len(r.publisher.Doses); n != 2 {
		t.Fatalf("doses after action: got %d, want 2", n)
	}

	// The pump is stopped after every dose.
	if got := r.act.Value; got != actuator.Neutral {
		t.Errorf("final actuator value: got %d, want %d", got, actuator.Neutral)
	}

	snap := r.tracker.Snapshot()
	if snap.Counts.Auto != 1 || snap.Counts.Manual != 1 {
		t.Errorf("dose counts: got %+v", snap.Counts)
	}
	if snap.Pump.PumpSpeed != 150 {
		t.Errorf("tracked speed: got %d, want 150", snap.Pump.PumpSpeed)
	}

	entries, err := r.history.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history entries: got %d, want 2", len(entries))
	}
	if entries[0].Trigger != string(pump.TriggerManual) || entries[1].Trigger != string(pump.TriggerAuto) {
		t.Errorf("history order: got %q then %q", entries[0].Trigger, entries[1].Trigger)
	}
	if entries[1].Parameter != "kh" || entries[1].Value != 7.6 {
		t.Errorf("auto entry: got %+v", entries[1])
	}

	if len(r.publisher.Configs) == 0 {
		t.Fatal("expected retained config publications")
	}
	var doc map[string]any
	if err := json.Unmarshal(r.publisher.Configs[len(r.publisher.Configs)-1], &doc); err != nil {
		t.Fatalf("decode config doc: %v", err)
	}
	if doc["Name"] != "alk" {
		t.Errorf("config doc Name: got %v, want alk", doc["Name"])
	}
}

// TestIntegrationHTTPThroughRunLoop exercises the web API with requests
// executed by a goroutine standing in for the daemon's run loop.
func TestIntegrationHTTPThroughRunLoop(t *testing.T) {
	r := newRig(t)

	dispatcher := actor.NewDispatcher(4)
	client := actor.NewClient(dispatcher, r.dev)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case req := <-dispatcher.Requests():
				req.Run()
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-stopped
		dispatcher.Close()
	})

	srv := httptest.NewServer(web.New(web.Options{
		Tracker: r.tracker,
		Pump:    client,
		History: r.history,
		Timeout: 5 * time.Second,
	}).Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/pump/config",
		strings.NewReader(`{"pumpSpeed":170,"doseTime":250,"pin":4,"threshold":50,`+
			`"autoParameter":"","autoEnabled":false,"activeLow":true,"taskName":"alk","taskPeriod":10000}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT config status: got %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp, err = http.Post(srv.URL+"/api/pump/actions/0", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST action: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST action status: got %d (%s)", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/api/pump/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	var entries []history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	resp.Body.Close()
	if len(entries) != 1 || entries[0].Speed != 170 || entries[0].DurationMs != 250 {
		t.Errorf("history: got %+v", entries)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	blob, err := client.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if !strings.HasPrefix(blob, `{"Name":"alk"`) {
		t.Errorf("config document: %s", blob)
	}
}
