package pump

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"time"
)

// ConfigDir is the directory holding actuator settings files.
const ConfigDir = "/settings/act"

// DefaultConfigFile is used when no file name is supplied.
const DefaultConfigFile = "DFPump.json"

// Built-in defaults applied on first start.
const (
	DefaultPumpSpeed  = 180
	DefaultDoseTime   = 2000
	DefaultThreshold  = 50
	DefaultActiveLow  = true
	DefaultTaskPeriod = 10000
)

var (
	// ErrParse means the configuration blob is not a JSON object.
	ErrParse = errors.New("pump: invalid configuration JSON")

	// ErrInvalidConfig means the blob parsed but violates an invariant.
	ErrInvalidConfig = errors.New("pump: invalid configuration")

	// ErrBind means the new configuration was applied but the actuator
	// could not be attached to its pin.
	ErrBind = errors.New("pump: actuator binding failed")

	// ErrLoad means a stored configuration exists but could not be read.
	ErrLoad = errors.New("pump: stored configuration unreadable")

	// ErrPersist means the configuration was applied in memory but could
	// not be written to storage.
	ErrPersist = errors.New("pump: configuration not persisted")
)

// Config is the persisted, tunable pump state.
type Config struct {
	PumpSpeed     int    `json:"pumpSpeed"`
	DoseTime      int    `json:"doseTime"`
	Pin           int    `json:"pin"`
	Threshold     int    `json:"threshold"`
	AutoParameter string `json:"autoParameter"`
	AutoEnabled   bool   `json:"autoEnabled"`
	ActiveLow     bool   `json:"activeLow"`
	TaskName      string `json:"taskName"`
	TaskPeriod    int    `json:"taskPeriod"`
}

// DefaultConfig returns the built-in configuration for a device.
func DefaultConfig(name string, pin int) Config {
	return Config{
		PumpSpeed:     DefaultPumpSpeed,
		DoseTime:      DefaultDoseTime,
		Pin:           pin,
		Threshold:     DefaultThreshold,
		AutoParameter: "",
		AutoEnabled:   false,
		ActiveLow:     DefaultActiveLow,
		TaskName:      name,
		TaskPeriod:    DefaultTaskPeriod,
	}
}

// DoseDuration is DoseTime as a duration.
func (c Config) DoseDuration() time.Duration {
	return time.Duration(c.DoseTime) * time.Millisecond
}

// Period is TaskPeriod as a duration.
func (c Config) Period() time.Duration {
	return time.Duration(c.TaskPeriod) * time.Millisecond
}

// Triggers reports whether value satisfies the threshold condition.
func (c Config) Triggers(value float64) bool {
	threshold := float64(c.Threshold)
	if c.ActiveLow {
		return value < threshold
	}
	return value > threshold
}

// Validate checks the invariants that a configuration must satisfy before
// it is applied.
func (c Config) Validate() error {
	var problems []string
	if c.DoseTime < 0 {
		problems = append(problems, fmt.Sprintf("doseTime must be >= 0, got %d", c.DoseTime))
	}
	if c.Pin < 0 {
		problems = append(problems, fmt.Sprintf("pin must be >= 0, got %d", c.Pin))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return nil
}

// ParseConfig decodes a configuration blob. Only a blob that is not a JSON
// object fails. Fields are read leniently: a missing field or one of the
// wrong type takes its zero value, numbers are truncated toward zero, and
// numbers outside the 32-bit range read as 0. Unknown fields are ignored.
func ParseConfig(blob []byte) (Config, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Config{}, fmt.Errorf("%w: expected a JSON object", ErrParse)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return Config{
		PumpSpeed:     intField(fields, "pumpSpeed"),
		DoseTime:      intField(fields, "doseTime"),
		Pin:           intField(fields, "pin"),
		Threshold:     intField(fields, "threshold"),
		AutoParameter: stringField(fields, "autoParameter"),
		AutoEnabled:   boolField(fields, "autoEnabled"),
		ActiveLow:     boolField(fields, "activeLow"),
		TaskName:      stringField(fields, "taskName"),
		TaskPeriod:    intField(fields, "taskPeriod"),
	}, nil
}

func field(fields map[string]json.RawMessage, key string) any {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func intField(fields map[string]json.RawMessage, key string) int {
	switch v := field(fields, key).(type) {
	case float64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0
		}
		return int(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func boolField(fields map[string]json.RawMessage, key string) bool {
	switch v := field(fields, key).(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return false
}

func stringField(fields map[string]json.RawMessage, key string) string {
	if v, ok := field(fields, key).(string); ok {
		return v
	}
	return ""
}

// configDocument is the getConfig view: the device name followed by the
// configuration fields.
type configDocument struct {
	Name string `json:"Name"`
	Config
}

// MarshalConfig encodes cfg together with the device name.
func MarshalConfig(name string, cfg Config) ([]byte, error) {
	return json.Marshal(configDocument{Name: name, Config: cfg})
}

// ConfigPath returns where a device's configuration file lives.
func ConfigPath(file string) string {
	if file == "" {
		file = DefaultConfigFile
	}
	return path.Join(ConfigDir, file)
}
