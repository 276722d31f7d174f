package actor

import (
	"context"

	"github.com/sweeney/pump-doser/internal/pump"
)

// Device is the part of a pump the outer surfaces may touch.
type Device interface {
	ReceiveAction(action int, payload string) (bool, string)
	GetConfig() string
	SetConfig(blob string) error
	Config() pump.Config
	Dose(trigger pump.Trigger) pump.DoseEvent
}

// Client calls a Device through a Dispatcher.
type Client struct {
	dispatcher *Dispatcher
	device     Device
}

// NewClient creates a client for dev.
func NewClient(d *Dispatcher, dev Device) *Client {
	return &Client{dispatcher: d, device: dev}
}

// Action forwards a numeric action and its payload.
func (c *Client) Action(ctx context.Context, action int, payload string) (bool, string, error) {
	var (
		ok   bool
		resp string
	)
	err := c.dispatcher.Do(ctx, func() {
		ok, resp = c.device.ReceiveAction(action, payload)
	})
	return ok, resp, err
}

// GetConfig returns the device's configuration document.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	var blob string
	err := c.dispatcher.Do(ctx, func() { blob = c.device.GetConfig() })
	return blob, err
}

// Config returns a copy of the device's configuration.
func (c *Client) Config(ctx context.Context) (pump.Config, error) {
	var cfg pump.Config
	err := c.dispatcher.Do(ctx, func() { cfg = c.device.Config() })
	return cfg, err
}

// SetConfig applies blob. The device's own error is returned when the
// request ran.
func (c *Client) SetConfig(ctx context.Context, blob string) error {
	var setErr error
	if err := c.dispatcher.Do(ctx, func() { setErr = c.device.SetConfig(blob) }); err != nil {
		return err
	}
	return setErr
}

// Dose runs one dose with the given trigger.
func (c *Client) Dose(ctx context.Context, trigger pump.Trigger) (pump.DoseEvent, error) {
	var ev pump.DoseEvent
	err := c.dispatcher.Do(ctx, func() { ev = c.device.Dose(trigger) })
	return ev, err
}
