// Command pump-doser runs a peristaltic dosing pump: manual doses over HTTP
// and MQTT, scheduled doses, and threshold-triggered doses driven by sensor
// measurements.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/pump-doser/internal/actor"
	"github.com/sweeney/pump-doser/internal/actuator"
	"github.com/sweeney/pump-doser/internal/config"
	"github.com/sweeney/pump-doser/internal/history"
	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/metrics"
	"github.com/sweeney/pump-doser/internal/mqtt"
	"github.com/sweeney/pump-doser/internal/pump"
	"github.com/sweeney/pump-doser/internal/sensor"
	"github.com/sweeney/pump-doser/internal/status"
	"github.com/sweeney/pump-doser/internal/storage"
	"github.com/sweeney/pump-doser/internal/task"
	"github.com/sweeney/pump-doser/internal/web"
)

func main() {
	cfg, printConfig, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logging.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	if err := run(cfg, printConfig); err != nil {
		logging.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the optional YAML file and applies explicitly set flags
// on top of it.
func parseFlags(args []string, out io.Writer) (config.Config, bool, error) {
	def := config.Default()
	fs := flag.NewFlagSet("pump-doser", flag.ContinueOnError)
	fs.SetOutput(out)

	configPath := fs.String("config", "", "YAML configuration file (optional)")
	name := fs.String("name", def.Device.Name, "Device name, used in topics and the status page")
	pin := fs.Int("pin", def.Device.Pin, "GPIO line driving the pump")
	chip := fs.String("chip", def.Device.Chip, "GPIO chip")
	dataDir := fs.String("data-dir", def.DataDir, "Directory for settings and history")
	broker := fs.String("broker", def.MQTT.Broker, "MQTT broker address (empty to disable)")
	httpAddr := fs.String("http", def.HTTPAddr, "HTTP address (empty to disable)")
	tick := fs.Duration("tick", def.Tick, "Scheduler tick interval")
	heartbeat := fs.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	dev := fs.Bool("dev", def.DevMode, "Log actuator output instead of driving GPIO")
	printConfig := fs.Bool("print-config", false, "Print the pump configuration and exit")

	if err := fs.Parse(args); err != nil {
		return def, false, err
	}

	cfg := def
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return def, false, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Device.Name = *name
		case "pin":
			cfg.Device.Pin = *pin
		case "chip":
			cfg.Device.Chip = *chip
		case "data-dir":
			cfg.DataDir = *dataDir
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "tick":
			cfg.Tick = *tick
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "dev":
			cfg.DevMode = *dev
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, *printConfig, nil
}

func newActuator(cfg config.Config) (actuator.Actuator, func() error, error) {
	if cfg.DevMode {
		a := actuator.NewLogging()
		return a, a.Close, nil
	}
	s, err := actuator.NewServo(cfg.Device.Chip)
	if err != nil {
		return nil, nil, fmt.Errorf("init actuator: %w", err)
	}
	return s, s.Close, nil
}

func run(cfg config.Config, printConfig bool) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	act, closeActuator, err := newActuator(cfg)
	if err != nil {
		return err
	}
	defer closeActuator()

	sched := task.NewScheduler(time.Now)
	sensors := sensor.NewStore()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(cfg.Device.Name, time.Now(), status.Config{
		TickMs:      cfg.Tick.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTPAddr,
		DataDir:     cfg.DataDir,
		Schedules:   cfg.ScheduleSpecs(),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	observers := pump.Observers{tracker, recorder}

	var doses *history.Store
	if path := cfg.HistoryPath(); path != "" {
		doses, err = history.Open(path, cfg.History.Retain)
		if err != nil {
			return err
		}
		defer doses.Close()
		observers = append(observers, doses)
	}

	// observers is extended below once MQTT is up; the device only reads it
	// from the run loop, which has not started yet.
	device := pump.NewDevice(pump.Options{
		Name:         cfg.Device.Name,
		Pin:          cfg.Device.Pin,
		ConfigFile:   cfg.Device.ConfigFile,
		Storage:      storage.NewOS(cfg.DataDir),
		Actuator:     act,
		Scheduler:    sched,
		Measurements: sensors,
		Observer:     &observers,
	})

	dispatcher := actor.NewDispatcher(16)
	defer dispatcher.Close()
	client := actor.NewClient(dispatcher, device)

	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" && !printConfig {
		topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Device.Name, cfg.MQTT.SensorPrefix)
		router := mqtt.NewRouter(topics, mqttHandlers(client, sensors, cfg.Timeout), time.Now)
		rc, err := mqtt.NewRealClient(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.ClientID(),
			Topics:     topics,
			Router:     router,
			BufferSize: cfg.MQTT.BufferSize,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rc.Close()
		publisher, mqttStatus = rc, rc

		notifier := mqtt.NewNotifier(rc)
		notifier.Evaluations = cfg.MQTT.PublishEvaluations
		observers = append(observers, notifier)
	}

	if err := device.Initialize(); err != nil {
		if !degraded(err) {
			return fmt.Errorf("initialize pump: %w", err)
		}
		logging.Warn("pump running degraded", "error", err)
	}
	tracker.SetReady(true)

	if printConfig {
		fmt.Println(device.GetConfig())
		return nil
	}

	schedules := actor.NewSchedules(client, cfg.Timeout, time.Local)
	for _, s := range cfg.Schedules {
		if err := schedules.Add(s.Name, s.Cron); err != nil {
			return err
		}
	}
	schedules.Start()
	defer schedules.Stop()
	tracker.SetNextSchedule(schedules.Next())

	// Publish startup event with full status snapshot
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logging.Warn("failed to publish startup event", "error", err)
	}

	if cfg.HTTPAddr != "" {
		opts := web.Options{
			Addr:    cfg.HTTPAddr,
			Tracker: tracker,
			Pump:    client,
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Timeout: cfg.Timeout,
		}
		if doses != nil {
			opts.History = doses
		}
		srv := web.New(opts)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logging.Info("http server listening", "addr", cfg.HTTPAddr)
	}

	logging.Info("started", "device", cfg.Device.Name, "pin", cfg.Device.Pin,
		"tick", cfg.Tick, "broker", cfg.MQTT.Broker, "heartbeat", cfg.Heartbeat,
		"schedules", schedules.Len())

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("sd_notify ready failed", "error", err)
	}

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = serve(loop{
		scheduler:  sched,
		requests:   dispatcher.Requests(),
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		schedules:  schedules,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
	}, dispatcher, ticker.C, sigCh)

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

// degraded reports whether an Initialize error still left the device running
// on a valid configuration. Only bind and persist failures qualify.
func degraded(err error) bool {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if !degraded(e) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, pump.ErrBind) || errors.Is(err, pump.ErrPersist)
}

// mqttHandlers forwards inbound MQTT messages to the run loop. They run on
// paho's goroutines.
func mqttHandlers(client *actor.Client, sensors *sensor.Store, timeout time.Duration) mqtt.Handlers {
	return mqtt.Handlers{
		Action: func(action int, payload string) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ok, resp, err := client.Action(ctx, action, payload)
			if err != nil {
				logging.Warn("mqtt action not delivered", "action", action, "error", err)
				return
			}
			logging.Info("mqtt action", "action", action, "ok", ok, "response", resp)
		},
		SetConfig: func(blob string) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := client.SetConfig(ctx, blob); err != nil {
				logging.Warn("mqtt config update failed", "error", err)
			}
		},
		Measurement: sensors.Publish,
	}
}

// scheduleInfo reports the next cron activation.
type scheduleInfo interface {
	Next() time.Time
}

// loop holds the run loop's collaborators.
type loop struct {
	scheduler  *task.Scheduler
	requests   <-chan *actor.Request
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	schedules  scheduleInfo
	heartbeat  time.Duration
	now        func() time.Time
}

// serve runs the loop and closes the dispatcher as soon as it returns.
// Callers still waiting on the loop then fail with actor.ErrClosed.
func serve(l loop, d *actor.Dispatcher, tick <-chan time.Time, sig <-chan os.Signal) error {
	err := runLoop(l, tick, sig)
	d.Close()
	return err
}

// runLoop owns the device. Scheduler ticks and dispatched requests both run
// here, one at a time, until a signal arrives.
func runLoop(l loop, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := l.now()

	for {
		select {
		case s := <-sig:
			logging.Info("shutting down", "signal", s.String())
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				l.refreshConnection()
				event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := l.publisher.PublishSystem(event); err != nil {
				logging.Warn("failed to publish shutdown event", "error", err)
			}
			return nil

		case req := <-l.requests:
			req.Run()

		case <-tick:
			t := l.now()
			l.scheduler.Run(t)

			if l.heartbeat > 0 && t.Sub(lastHeartbeat) >= l.heartbeat {
				lastHeartbeat = t
				l.sendHeartbeat(t)
			}
			l.refreshConnection()
		}
	}
}

func (l loop) refreshConnection() {
	if l.tracker != nil && l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l loop) sendHeartbeat(t time.Time) {
	hbEvent := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "HEARTBEAT",
	}
	if l.tracker != nil {
		l.refreshConnection()
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		if l.schedules != nil {
			l.tracker.SetNextSchedule(l.schedules.Next())
		}
		snap := l.tracker.Snapshot()
		logging.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second).String(),
			"doses", snap.Counts.Total())
		hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(hbEvent); err != nil {
		logging.Warn("heartbeat publish error", "error", err)
	}
}

// nopPublisher stands in when MQTT is disabled.
type nopPublisher struct{}

func (nopPublisher) PublishDose(pump.DoseEvent) error        { return nil }
func (nopPublisher) PublishEvaluation(pump.Evaluation) error { return nil }
func (nopPublisher) PublishConfig([]byte) error              { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error    { return nil }
func (nopPublisher) Close() error                            { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
