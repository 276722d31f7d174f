// Package sensor holds the measurements published by the sensor subsystem.
package sensor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Measurement is one published (parameter, value) reading.
type Measurement struct {
	Sensor    string
	Parameter string
	Value     float64
	Time      time.Time
}

// Store keeps the latest value per (sensor, parameter) in first-publication
// order. It is safe for concurrent use: sensor feeds write while consumers read.
type Store struct {
	mu      sync.RWMutex
	samples []Measurement
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Publish records m, replacing the previous value from the same sensor and
// parameter without changing its position.
func (s *Store) Publish(m Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.samples {
		if s.samples[i].Sensor == m.Sensor && s.samples[i].Parameter == m.Parameter {
			s.samples[i] = m
			return
		}
	}
	s.samples = append(s.samples, m)
}

// Lookup returns the value of the first measurement whose parameter equals
// name exactly. An empty name never matches.
func (s *Store) Lookup(name string) (float64, bool) {
	if name == "" {
		return 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.samples {
		if m.Parameter == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Snapshot returns a copy of all measurements in order.
func (s *Store) Snapshot() []Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Measurement, len(s.samples))
	copy(out, s.samples)
	return out
}

// RemoveSensor drops every measurement published by sensor and returns how
// many were removed.
func (s *Store) RemoveSensor(sensor string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.samples[:0]
	removed := 0
	for _, m := range s.samples {
		if m.Sensor == sensor {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.samples = kept
	return removed
}

// ErrBadPayload is returned by ParseValue for payloads that carry no number.
var ErrBadPayload = errors.New("sensor: payload is not a number")

// ParseValue decodes a measurement payload: either a bare number ("7.92")
// or a JSON object with a numeric "value" field.
func ParseValue(payload []byte) (float64, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return 0, ErrBadPayload
	}

	if p[0] == '{' {
		var doc struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal(p, &doc); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if doc.Value == nil {
			return 0, fmt.Errorf("%w: missing value", ErrBadPayload)
		}
		return *doc.Value, nil
	}

	v, err := strconv.ParseFloat(string(p), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPayload, p)
	}
	return v, nil
}
