// Package scheduler determines the order in which requests are sent to an
// AMBE chip. The chip sends exactly one response per request, in the same
// order requests were received, and has a small input buffer, so a
// scheduler's job is to keep every channel's pipeline full without
// overrunning that buffer.
package scheduler

import (
	"context"

	"ambego/packet"
)

// ResponseCallback is invoked once for every request submitted, with either
// the chip's response or the error that prevented one from arriving.
type ResponseCallback func(resp *packet.Packet, err error)

// Scheduler accepts requests and invokes a callback when the corresponding
// response arrives.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// SubmitAsync does not wait for the response. MultiQueueScheduler
	// leaves the write to its run loop goroutine; FifoScheduler writes
	// inline and relies on the device's Send returning once the bytes are
	// handed to the transport.
	SubmitAsync(p *packet.Packet, callback ResponseCallback)
}

// Submit is a blocking convenience wrapper around SubmitAsync: it submits p
// and waits for either its response or ctx to be done.
func Submit(ctx context.Context, s Scheduler, p *packet.Packet) (*packet.Packet, error) {
	type result struct {
		resp *packet.Packet
		err  error
	}

	done := make(chan result, 1)
	s.SubmitAsync(p, func(resp *packet.Packet, err error) {
		done <- result{resp, err}
	})

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
