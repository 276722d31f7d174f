// Package actuator drives the pump's servo-style speed input.
// The real implementation toggles a Linux GPIO character device line.
// The fake implementation records calls for tests.
package actuator

import (
	"errors"
	"time"
)

// Drive values follow hobby-servo conventions: 0 and 180 are full speed in
// opposite directions, Neutral stops a continuous-rotation pump.
const (
	MinValue = 0
	MaxValue = 180
	Neutral  = 90
)

// Servo signal timing (50 Hz frame, 500–2500µs pulse).
const (
	Period   = 20 * time.Millisecond
	MinPulse = 500 * time.Microsecond
	MaxPulse = 2500 * time.Microsecond
)

var (
	ErrInvalidPin  = errors.New("actuator: invalid pin")
	ErrPinInUse    = errors.New("actuator: pin in use")
	ErrNotAttached = errors.New("actuator: not attached")
)

// Actuator is the pump drive.
type Actuator interface {
	// Attach binds the actuator to a hardware output. Any existing binding
	// must be released with Detach first.
	Attach(pin int) error

	// Detach releases the current binding. Detaching an unbound actuator is
	// not an error.
	Detach() error

	// Write sets the drive value. Values outside MinValue..MaxValue are clamped.
	Write(value int) error
}

// Clamp limits a drive value to MinValue..MaxValue.
func Clamp(value int) int {
	if value < MinValue {
		return MinValue
	}
	if value > MaxValue {
		return MaxValue
	}
	return value
}

// PulseWidth maps a drive value to the servo pulse width.
func PulseWidth(value int) time.Duration {
	v := Clamp(value)
	return MinPulse + (MaxPulse-MinPulse)*time.Duration(v)/MaxValue
}
