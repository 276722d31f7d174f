package mqtt

import (
	"github.com/sweeney/pump-doser/internal/pump"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	Doses       []pump.DoseEvent
	Evaluations []pump.Evaluation

	// Configs contains every published configuration document.
	Configs [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishDose(ev pump.DoseEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Doses = append(f.Doses, ev)
	return nil
}

func (f *FakePublisher) PublishEvaluation(ev pump.Evaluation) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Evaluations = append(f.Evaluations, ev)
	return nil
}

func (f *FakePublisher) PublishConfig(doc []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Configs = append(f.Configs, doc)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{Connected: f.Connected}
}
