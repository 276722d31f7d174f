// Package config loads the daemon configuration from YAML.
//
// Command-line flags override file values; see cmd/pump-doser.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Device    DeviceConfig  `yaml:"device"`
	DataDir   string        `yaml:"data_dir"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	HTTPAddr  string        `yaml:"http"`
	Tick      time.Duration `yaml:"tick"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Timeout   time.Duration `yaml:"request_timeout"`
	History   HistoryConfig `yaml:"history"`
	Schedules []Schedule    `yaml:"schedules"`

	// DevMode logs actuator output instead of driving GPIO.
	DevMode bool `yaml:"dev_mode"`
}

// DeviceConfig identifies the pump and its output line.
type DeviceConfig struct {
	Name       string `yaml:"name"`
	Pin        int    `yaml:"pin"`
	ConfigFile string `yaml:"config_file"`
	Chip       string `yaml:"chip"`
}

// MQTTConfig configures the broker connection. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	ClientID           string `yaml:"client_id"`
	TopicPrefix        string `yaml:"topic_prefix"`
	SensorPrefix       string `yaml:"sensor_prefix"`
	PublishEvaluations bool   `yaml:"publish_evaluations"`
	BufferSize         int    `yaml:"buffer_size"`
}

// HistoryConfig configures the dose log. An empty File disables it.
type HistoryConfig struct {
	File   string `yaml:"file"`
	Retain int    `yaml:"retain"`
}

// Schedule is a cron-driven dose.
type Schedule struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Name:       "DFPump",
			Pin:        18,
			ConfigFile: "DFPump.json",
			Chip:       "gpiochip0",
		},
		DataDir: "/var/lib/pump-doser",
		MQTT: MQTTConfig{
			Broker:             "tcp://localhost:1883",
			TopicPrefix:        "pump",
			SensorPrefix:       "sensors",
			PublishEvaluations: true,
			BufferSize:         100,
		},
		HTTPAddr:  ":80",
		Tick:      100 * time.Millisecond,
		Heartbeat: 15 * time.Minute,
		Timeout:   30 * time.Second,
		History: HistoryConfig{
			File:   "history.db",
			Retain: 1000,
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ClientID returns the MQTT client id, derived from the device name when unset.
func (c Config) ClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "pump-doser-" + c.Device.Name
}

// HistoryPath resolves the history file against DataDir. Empty means disabled.
func (c Config) HistoryPath() string {
	if c.History.File == "" || filepath.IsAbs(c.History.File) {
		return c.History.File
	}
	return filepath.Join(c.DataDir, c.History.File)
}

// ScheduleSpecs returns "name: cron" strings for display.
func (c Config) ScheduleSpecs() []string {
	specs := make([]string, 0, len(c.Schedules))
	for _, s := range c.Schedules {
		specs = append(specs, s.Name+": "+s.Cron)
	}
	return specs
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	switch {
	case c.Device.Name == "":
		errs = append(errs, errors.New("device.name is required"))
	case strings.ContainsAny(c.Device.Name, "/+# "):
		errs = append(errs, fmt.Errorf("device.name %q must not contain '/', '+', '#' or spaces", c.Device.Name))
	}
	if c.Device.Pin < 0 {
		errs = append(errs, fmt.Errorf("device.pin must be >= 0, got %d", c.Device.Pin))
	}
	if strings.Contains(c.Device.ConfigFile, "/") {
		errs = append(errs, fmt.Errorf("device.config_file %q must be a file name", c.Device.ConfigFile))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must be >= 0, got %v", c.Heartbeat))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %v", c.Timeout))
	}
	if c.History.Retain < 0 {
		errs = append(errs, fmt.Errorf("history.retain must be >= 0, got %d", c.History.Retain))
	}
	if c.MQTT.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("mqtt.buffer_size must be >= 0, got %d", c.MQTT.BufferSize))
	}

	seen := make(map[string]bool)
	for i, s := range c.Schedules {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d] %q: %w", i, s.Name, err))
		}
	}

	return errors.Join(errs...)
}
