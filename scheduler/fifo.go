package scheduler

import (
	"context"
	"fmt"
	"sync"

	"ambego/ambeerr"
	"ambego/device"
	"ambego/packet"
)

// FifoScheduler is the simplest possible scheduler: it sends packets to a
// TaggingDevice in the order they arrive and relies on the device to tag
// each response with the request's tag, so requests and responses never
// need to be correlated by order alone. Grounded on the original
// FifoScheduler.
type FifoScheduler struct {
	device device.TaggingDevice

	mu        sync.Mutex
	tag       int32
	submitted map[int32]ResponseCallback
	quit      bool
	terminated chan struct{}
}

// NewFifoScheduler creates a scheduler that drives d.
func NewFifoScheduler(d device.TaggingDevice) *FifoScheduler {
	return &FifoScheduler{device: d}
}

// Start subscribes to the device's response callback. Call once before any
// SubmitAsync.
func (s *FifoScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.quit = false
	s.tag = 0
	s.submitted = make(map[int32]ResponseCallback)
	s.terminated = make(chan struct{})
	s.mu.Unlock()

	s.device.SetCallback(s.recv)
	return nil
}

// Stop waits for every outstanding request to complete, then unsubscribes
// from the device.
func (s *FifoScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	empty := len(s.submitted) == 0
	if !empty {
		s.quit = true
	}
	terminated := s.terminated
	s.mu.Unlock()

	if !empty {
		select {
		case <-terminated:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.device.SetCallback(nil)
	return nil
}

// SubmitAsync writes the packet to the device immediately (the device's
// own Send is responsible for not blocking past the point of handing the
// bytes to the transport) and records the callback under a fresh tag.
func (s *FifoScheduler) SubmitAsync(p *packet.Packet, callback ResponseCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tag++
	tag := s.tag

	if err := s.device.Send(tag, p.Data()); err != nil {
		callback(nil, fmt.Errorf("%w: %v", ambeerr.ErrDeviceSendFailed, err))
		return
	}

	s.submitted[tag] = callback
}

func (s *FifoScheduler) recv(tag int32, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callback, ok := s.submitted[tag]
	if !ok {
		// A response with an unrecognized tag can only mean a protocol
		// violation on the remote end; there is no request to deliver it
		// to, so it is dropped.
		return
	}
	delete(s.submitted, tag)

	resp, err := packet.Parse(raw, s.device.UsesParity(), false)
	callback(resp, err)

	if s.quit && len(s.submitted) == 0 {
		close(s.terminated)
	}
}
