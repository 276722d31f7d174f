// Package actor serializes access to a device.
//
// The device itself holds no locks. HTTP handlers, MQTT callbacks and cron
// jobs submit closures to a Dispatcher, and the daemon's run loop executes
// them one at a time alongside the scheduler tick.
package actor

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the run loop has stopped accepting work.
var ErrClosed = errors.New("actor: dispatcher closed")

// Request is a unit of work waiting for the run loop.
type Request struct {
	fn   func()
	done chan struct{}
}

// Run executes the request and releases its submitter.
func (r *Request) Run() {
	defer close(r.done)
	r.fn()
}

// Dispatcher queues requests for a single consuming goroutine.
type Dispatcher struct {
	reqs      chan *Request
	closed    chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher whose queue holds up to buf pending
// requests before submitters block.
func NewDispatcher(buf int) *Dispatcher {
	return &Dispatcher{
		reqs:   make(chan *Request, buf),
		closed: make(chan struct{}),
	}
}

// Requests is drained by the run loop.
func (d *Dispatcher) Requests() <-chan *Request { return d.reqs }

// Close stops accepting requests. Pending submitters return ErrClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}

// Do submits fn and waits for the run loop to execute it.
//
// If ctx ends after fn was queued, Do returns ctx.Err() but fn may still run
// later; callers must not share state with fn after an error.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	req := &Request{fn: fn, done: make(chan struct{})}

	select {
	case <-d.closed:
		return ErrClosed
	default:
	}

	select {
	case d.reqs <- req:
	case <-d.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-d.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
