package scheduler

import (
	"context"
	"fmt"

	"ambego/ambeerr"
	"ambego/device"
	"ambego/packet"
)

// QueuesPerChannel is the number of per-channel queues the chip's two CPU
// cores per channel require: one for SPEECH/CONTROL work, one for CHANNEL
// (decompress) work.
const QueuesPerChannel = 2

// MaxChannels is the largest channel count any AMBE-family chip in this
// family supports (AMBE-3003).
const MaxChannels = 3

// state is one unit of work moving through the scheduler's internal queue:
// either a freshly submitted request (hasCallback true, pkt the request) or
// a response just received from the device (hasCallback false, pkt/err the
// response).
type state struct {
	pkt         *packet.Packet
	err         error
	callback    ResponseCallback
	hasCallback bool
}

// MultiQueueScheduler is the admission-controlled scheduler for a
// FifoDevice with N channels, each backed by its own pair of CPU cores.
// It keeps one queue per (channel, operation-type) pair plus a
// high-priority device-wide control queue, and round-robins among the
// per-channel queues while respecting the chip's small input buffer.
// Grounded statement-for-statement on the original MultiQueueScheduler.
type MultiQueueScheduler struct {
	device   device.FifoDevice
	channels int

	process *syncQueue[state]

	deviceQueue  []state
	channelQueue [][]state

	submitted        []state
	submittedByType  [3]int
	submittedByQueue []int

	done chan error
}

// NewMultiQueueScheduler creates a scheduler for a device with the given
// number of channels (0 < channels <= MaxChannels).
func NewMultiQueueScheduler(d device.FifoDevice, channels int) (*MultiQueueScheduler, error) {
	if channels <= 0 || channels > MaxChannels {
		return nil, fmt.Errorf("%w: invalid number of channels: %d", ambeerr.ErrInvalidConfiguration, channels)
	}

	queues := channels * QueuesPerChannel
	return &MultiQueueScheduler{
		device:           d,
		channels:         channels,
		process:          newSyncQueue[state](),
		channelQueue:     make([][]state, queues),
		submittedByQueue: make([]int, queues),
	}, nil
}

// Start subscribes to the device and launches the scheduling loop.
func (s *MultiQueueScheduler) Start(ctx context.Context) error {
	s.device.SetCallback(s.recv)
	s.done = make(chan error, 1)
	go s.run()
	return nil
}

// Stop drains every request queued before the call, then unsubscribes from
// the device. It submits a zero-length sentinel packet and waits for the
// run loop to process it, the same termination handshake the original
// implementation uses.
func (s *MultiQueueScheduler) Stop(ctx context.Context) error {
	sentinel := packet.New(packet.Control)
	if _, err := Submit(ctx, s, sentinel); err != nil {
		return err
	}

	select {
	case err := <-s.done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.device.SetCallback(nil)
	return nil
}

// SubmitAsync enqueues a new request; admission and ordering are decided
// entirely by the run loop.
func (s *MultiQueueScheduler) SubmitAsync(p *packet.Packet, callback ResponseCallback) {
	s.process.push(state{pkt: p, callback: callback, hasCallback: true})
}

// recv is invoked by the device's own reader goroutine whenever a packet
// arrives; it is never called concurrently with itself.
func (s *MultiQueueScheduler) recv(raw []byte) {
	resp, err := packet.Parse(raw, s.device.UsesParity(), false)
	s.process.push(state{pkt: resp, err: err})
}

func (s *MultiQueueScheduler) typeIndex(p *packet.Packet) int {
	switch p.Type() {
	case packet.Channel:
		return 1
	case packet.Speech, packet.Control:
		return 0
	default:
		return 0
	}
}

func (s *MultiQueueScheduler) queueIndex(p *packet.Packet) int {
	channel := p.Channel()
	if channel == -1 {
		return -1
	}
	return QueuesPerChannel*channel + s.typeIndex(p)
}

// canSend reports whether request can be handed to the device without
// overrunning its four-slot input buffer or its two-slot-per-core pipeline.
// Faithfully ported, including the original's `i > 0` (not `i >= 0`) guard
// on the per-queue cap, which means queue index 0 (channel 0's
// SPEECH/CONTROL queue) is never subject to the 2-in-flight cap that every
// other queue gets.
func (s *MultiQueueScheduler) canSend(p *packet.Packet) bool {
	if len(s.submitted) >= len(s.channelQueue)+4 {
		return false
	}
	if s.submittedByType[s.typeIndex(p)] >= s.channels+2 {
		return false
	}
	i := s.queueIndex(p)
	if i > 0 && s.submittedByQueue[i] >= 2 {
		return false
	}
	return true
}

func (s *MultiQueueScheduler) run() {
	next := 0
	quit := false
	queued := 0
	var terminated ResponseCallback
	haveTerminated := false

	for !quit || queued > 0 || len(s.submitted) > 0 {
		st := s.process.pop()

		switch {
		case st.hasCallback && st.pkt.PayloadLength() == 0:
			// An empty packet submitted locally (only Stop does this) is
			// the sentinel asking the loop to quit once everything queued
			// before it has drained.
			quit = true
			terminated = st.callback
			haveTerminated = true

		case st.hasCallback:
			i := s.queueIndex(st.pkt)
			if i == -1 {
				s.deviceQueue = append(s.deviceQueue, st)
			} else {
				s.channelQueue[i] = append(s.channelQueue[i], st)
			}
			queued++

		default:
			if len(s.submitted) > 0 {
				head := s.submitted[0]
				s.submitted = s.submitted[1:]

				if i := s.queueIndex(head.pkt); i != -1 {
					s.submittedByType[s.typeIndex(head.pkt)]--
					s.submittedByQueue[i]--
				}
				if head.hasCallback {
					head.callback(st.pkt, st.err)
				}
			}
		}

		// Drain the high-priority device-wide control queue first.
		for len(s.deviceQueue) > 0 {
			req := s.deviceQueue[0]
			if !s.canSend(req.pkt) {
				break
			}
			if err := s.device.Send(req.pkt.Data()); err != nil {
				s.fail(req, err)
				s.done <- fmt.Errorf("%w: %v", ambeerr.ErrDeviceSendFailed, err)
				return
			}
			s.submitted = append(s.submitted, req)
			s.deviceQueue = s.deviceQueue[1:]
			queued--
		}

		// Round-robin the per-channel queues, restarting the scan budget
		// every time a send succeeds so a hot channel can't starve under a
		// single pass.
		queues := len(s.channelQueue)
		j := 0
		for j < queues && queued > 0 {
			if len(s.channelQueue[next]) == 0 {
				j++
				next = (next + 1) % queues
				continue
			}

			req := s.channelQueue[next][0]
			if !s.canSend(req.pkt) {
				j++
				next = (next + 1) % queues
				continue
			}

			if err := s.device.Send(req.pkt.Data()); err != nil {
				s.fail(req, err)
				s.done <- fmt.Errorf("%w: %v", ambeerr.ErrDeviceSendFailed, err)
				return
			}

			s.submittedByType[s.typeIndex(req.pkt)]++
			s.submittedByQueue[s.queueIndex(req.pkt)]++
			s.submitted = append(s.submitted, req)
			s.channelQueue[next] = s.channelQueue[next][1:]
			queued--
			j = 0
			next = (next + 1) % queues
		}
	}

	if haveTerminated {
		terminated(nil, nil)
	}
	s.done <- nil
}

func (s *MultiQueueScheduler) fail(req state, err error) {
	if req.hasCallback {
		req.callback(nil, fmt.Errorf("%w: %v", ambeerr.ErrDeviceSendFailed, err))
	}
}
