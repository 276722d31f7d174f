//go:build linux

package actuator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "pump-doser"

// Servo drives a pump from a GPIO line using a software generated servo
// signal. Pulse timing is best effort; peristaltic pumps tolerate jitter.
type Servo struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	line  *gpiocdev.Line
	pin   int
	pulse atomic.Int64 // nanoseconds
	stop  chan struct{}
	done  chan struct{}
}

// NewServo opens the named GPIO chip (e.g. "gpiochip0").
func NewServo(chipName string) (*Servo, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &Servo{chip: chip, pin: -1}, nil
}

// Attach requests the line as an output and starts the pulse train at Neutral.
// The kernel rejects lines already requested by another consumer.
func (s *Servo) Attach(pin int) error {
	if pin < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.line != nil {
		return fmt.Errorf("%w: already attached to pin %d", ErrPinInUse, s.pin)
	}

	line, err := s.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}

	s.pulse.Store(int64(PulseWidth(Neutral)))
	s.line = line
	s.pin = pin
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.drive(line, s.stop, s.done)
	return nil
}

func (s *Servo) drive(line *gpiocdev.Line, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			line.SetValue(0)
			return
		case <-ticker.C:
			line.SetValue(1)
			time.Sleep(time.Duration(s.pulse.Load()))
			line.SetValue(0)
		}
	}
}

// Write updates the pulse width used from the next frame on.
func (s *Servo) Write(value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.line == nil {
		return ErrNotAttached
	}
	s.pulse.Store(int64(PulseWidth(value)))
	return nil
}

// Detach stops the pulse train and returns the line to an input so the pump
// controller sees no signal.
func (s *Servo) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.line == nil {
		return nil
	}

	close(s.stop)
	<-s.done

	var errs []error
	if err := s.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", s.pin, err))
	}
	if err := s.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", s.pin, err))
	}
	s.line = nil
	s.pin = -1

	if len(errs) > 0 {
		return fmt.Errorf("detach errors: %v", errs)
	}
	return nil
}

// Close detaches and releases the chip.
func (s *Servo) Close() error {
	detachErr := s.Detach()
	if err := s.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return detachErr
}
