//go:build !linux

package actuator

import "errors"

var errUnsupported = errors.New("actuator: gpio not supported on this platform (requires Linux)")

// Servo is not available on non-Linux platforms.
type Servo struct{}

// NewServo returns an error on non-Linux platforms.
func NewServo(chipName string) (*Servo, error) {
	return nil, errUnsupported
}

func (s *Servo) Attach(pin int) error  { return errUnsupported }
func (s *Servo) Detach() error         { return nil }
func (s *Servo) Write(value int) error { return errUnsupported }
func (s *Servo) Close() error          { return nil }
