package actuator

import "fmt"

// Fake is a test double that records every call in order.
type Fake struct {
	// Pin is the currently attached pin, -1 when detached.
	Pin int

	// Value is the last value written.
	Value int

	// Calls records calls in order: "attach:5", "detach", "write:180".
	Calls []string

	// Writes contains every written value (clamped).
	Writes []int

	// Busy pins are reported as held by another consumer.
	Busy map[int]bool

	// AttachError, if set, will be returned by Attach.
	AttachError error

	// WriteError, if set, will be returned by Write.
	WriteError error
}

// NewFake creates a detached Fake resting at Neutral.
func NewFake() *Fake {
	return &Fake{Pin: -1, Value: Neutral}
}

// Attach records the binding.
func (f *Fake) Attach(pin int) error {
	f.Calls = append(f.Calls, fmt.Sprintf("attach:%d", pin))
	if f.AttachError != nil {
		return f.AttachError
	}
	if pin < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	if f.Pin >= 0 {
		return fmt.Errorf("%w: already attached to pin %d", ErrPinInUse, f.Pin)
	}
	if f.Busy[pin] {
		return fmt.Errorf("%w: %d", ErrPinInUse, pin)
	}
	f.Pin = pin
	return nil
}

// Detach clears the binding.
func (f *Fake) Detach() error {
	f.Calls = append(f.Calls, "detach")
	f.Pin = -1
	return nil
}

// Write records the value.
func (f *Fake) Write(value int) error {
	f.Calls = append(f.Calls, fmt.Sprintf("write:%d", value))
	if f.WriteError != nil {
		return f.WriteError
	}
	if f.Pin < 0 {
		return ErrNotAttached
	}
	f.Value = Clamp(value)
	f.Writes = append(f.Writes, f.Value)
	return nil
}

// Attached reports whether a pin is bound.
func (f *Fake) Attached() bool {
	return f.Pin >= 0
}

// Reset clears recorded calls but keeps the binding.
func (f *Fake) Reset() {
	f.Calls = nil
	f.Writes = nil
}
