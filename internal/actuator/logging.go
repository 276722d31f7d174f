package actuator

import (
	"fmt"
	"sync"

	"github.com/sweeney/pump-doser/internal/logging"
)

// Logging is an actuator for running without pump hardware (dev mode).
// It keeps the attach/detach contract and logs every drive change.
type Logging struct {
	mu  sync.Mutex
	pin int
}

// NewLogging creates a detached Logging actuator.
func NewLogging() *Logging {
	return &Logging{pin: -1}
}

func (l *Logging) Attach(pin int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pin < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	if l.pin >= 0 {
		return fmt.Errorf("%w: already attached to pin %d", ErrPinInUse, l.pin)
	}
	l.pin = pin
	logging.Info("actuator attached", "pin", pin, "mode", "dev")
	return nil
}

func (l *Logging) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pin >= 0 {
		logging.Info("actuator detached", "pin", l.pin, "mode", "dev")
	}
	l.pin = -1
	return nil
}

func (l *Logging) Write(value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pin < 0 {
		return ErrNotAttached
	}
	logging.Info("actuator write", "pin", l.pin, "value", Clamp(value), "pulse", PulseWidth(value).String())
	return nil
}

func (l *Logging) Close() error { return l.Detach() }
