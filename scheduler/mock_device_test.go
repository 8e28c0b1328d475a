package scheduler

import (
	"context"
	"sync"

	"ambego/device"
)

// mockTaggingDevice is an in-memory TaggingDevice: calling Send(tag, pkt)
// immediately schedules a caller-controlled reply via respond, instead of
// an actual chip echoing it back.
type mockTaggingDevice struct {
	mu         sync.Mutex
	cb         device.TaggedCallback
	usesParity bool
	sent       []sentTagged
	failSend   error
}

type sentTagged struct {
	tag  int32
	data []byte
}

func (d *mockTaggingDevice) Start(ctx context.Context) error { return nil }
func (d *mockTaggingDevice) Stop() error                                        { return nil }
func (d *mockTaggingDevice) Channels() int                                      { return 1 }
func (d *mockTaggingDevice) UsesParity() bool                                   { return d.usesParity }
func (d *mockTaggingDevice) SetUsesParity(v bool)                               { d.usesParity = v }

func (d *mockTaggingDevice) SetCallback(recv device.TaggedCallback) device.TaggedCallback {
	old := d.cb
	d.cb = recv
	return old
}

func (d *mockTaggingDevice) Send(tag int32, packet []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSend != nil {
		return d.failSend
	}
	d.sent = append(d.sent, sentTagged{tag, append([]byte{}, packet...)})
	return nil
}

// respond invokes the registered callback as if the device had echoed a
// response for tag.
func (d *mockTaggingDevice) respond(tag int32, data []byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(tag, data)
	}
}

// mockFifoDevice is an in-memory FifoDevice for MultiQueueScheduler tests.
type mockFifoDevice struct {
	mu         sync.Mutex
	cb         device.FifoCallback
	usesParity bool
	sent       [][]byte
	failSend   error
}

func (d *mockFifoDevice) Start(ctx context.Context) error { return nil }
func (d *mockFifoDevice) Stop() error                                        { return nil }
func (d *mockFifoDevice) Channels() int                                      { return 3 }
func (d *mockFifoDevice) UsesParity() bool                                   { return d.usesParity }
func (d *mockFifoDevice) SetUsesParity(v bool)                               { d.usesParity = v }

func (d *mockFifoDevice) SetCallback(recv device.FifoCallback) device.FifoCallback {
	old := d.cb
	d.cb = recv
	return old
}

func (d *mockFifoDevice) Send(packet []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSend != nil {
		return d.failSend
	}
	d.sent = append(d.sent, append([]byte{}, packet...))
	return nil
}

func (d *mockFifoDevice) respond(data []byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (d *mockFifoDevice) lastSent() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		return nil
	}
	return d.sent[len(d.sent)-1]
}

func (d *mockFifoDevice) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}
