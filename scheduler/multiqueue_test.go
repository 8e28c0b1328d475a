package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ambego/packet"
)

func channelRequest(typ packet.Type, channel uint8) *packet.Packet {
	p := packet.New(typ)
	p.AppendChannelField(channel)
	p.Finalize(false)
	return p
}

func channelResponse(typ packet.Type, channel uint8) []byte {
	p := packet.New(typ)
	p.AppendChannelField(channel)
	return p.Finalize(false)
}

func newTestMultiQueue(t require.TestingT, channels int) (*MultiQueueScheduler, *mockFifoDevice) {
	dev := &mockFifoDevice{}
	s, err := NewMultiQueueScheduler(dev, channels)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	return s, dev
}

func TestNewMultiQueueSchedulerRejectsInvalidChannelCount(t *testing.T) {
	dev := &mockFifoDevice{}
	_, err := NewMultiQueueScheduler(dev, 0)
	assert.Error(t, err)
	_, err = NewMultiQueueScheduler(dev, MaxChannels+1)
	assert.Error(t, err)
}

func TestMultiQueueSchedulerRoundTrip(t *testing.T) {
	s, dev := newTestMultiQueue(t, 1)

	done := make(chan struct{})
	var gotResp *packet.Packet
	var gotErr error
	s.SubmitAsync(channelRequest(packet.Speech, 0), func(resp *packet.Packet, err error) {
		gotResp, gotErr = resp, err
		close(done)
	})

	waitForSent(t, dev, 1)
	dev.respond(channelResponse(packet.Speech, 0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
	require.NoError(t, gotErr)
	assert.Equal(t, packet.Speech, gotResp.Type())

	require.NoError(t, s.Stop(context.Background()))
}

// canSend never admits more than QueuesPerChannel*channels+4 packets (the
// number of channel queues plus 4) in flight at once, matching the chip's
// fixed input buffer depth.
func TestMultiQueueSchedulerRespectsDeviceWideCap(t *testing.T) {
	s, dev := newTestMultiQueue(t, 1)

	for i := 0; i < 20; i++ {
		s.SubmitAsync(channelRequest(packet.Speech, 0), func(resp *packet.Packet, err error) {})
	}

	time.Sleep(50 * time.Millisecond)

	n := dev.sentCount()
	// channels=1 -> channelQueue has 2 entries -> cap is 2+4 = 6
	assert.LessOrEqualf(t, n, 6, "scheduler admitted %d packets at once, want <= 6", n)

	for i := 0; i < 20; i++ {
		waitForSent(t, dev, i+1)
		dev.respond(channelResponse(packet.Speech, 0))
	}
	require.NoError(t, s.Stop(context.Background()))
}

// Queue index 0 (channel 0's SPEECH/CONTROL queue) is exempt from the
// per-queue 2-in-flight cap because of the preserved `i > 0` guard in
// canSend; every other per-channel queue is capped at 2.
func TestMultiQueueSchedulerQueueZeroExemptFromPerQueueCap(t *testing.T) {
	s, dev := newTestMultiQueue(t, 2)

	for i := 0; i < 10; i++ {
		s.SubmitAsync(channelRequest(packet.Speech, 0), func(resp *packet.Packet, err error) {})
	}
	time.Sleep(50 * time.Millisecond)

	assert.Greater(t, dev.sentCount(), 2, "queue 0 should not be capped at 2 in-flight like the other queues")

	for i := 0; i < 10; i++ {
		waitForSent(t, dev, i+1)
		dev.respond(channelResponse(packet.Speech, 0))
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestMultiQueueSchedulerPerQueueCapOnNonZeroQueue(t *testing.T) {
	s, dev := newTestMultiQueue(t, 1)

	for i := 0; i < 10; i++ {
		s.SubmitAsync(channelRequest(packet.Channel, 0), func(resp *packet.Packet, err error) {})
	}
	time.Sleep(50 * time.Millisecond)

	assert.LessOrEqualf(t, dev.sentCount(), 2, "channel queue index 1 should be capped at 2 in-flight")

	for i := 0; i < 10; i++ {
		waitForSent(t, dev, i+1)
		dev.respond(channelResponse(packet.Channel, 0))
	}
	require.NoError(t, s.Stop(context.Background()))
}

func waitForSent(t *testing.T, dev *mockFifoDevice, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if dev.sentCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("device never received %d packets, got %d", n, dev.sentCount())
}

// No matter how many requests are submitted across however many channels,
// the scheduler never lets more packets sit "submitted" at once than the
// device-wide cap allows, and every request eventually gets a response.
func TestMultiQueueSchedulerPropertyAllRequestsComplete(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		channels := rapid.IntRange(1, MaxChannels).Draw(t, "channels")
		s, dev := newTestMultiQueue(t, channels)
		defer s.Stop(context.Background())

		n := rapid.IntRange(1, 15).Draw(t, "n")
		var mu sync.Mutex
		completed := 0
		for i := 0; i < n; i++ {
			ch := uint8(rapid.IntRange(0, channels-1).Draw(t, "ch"))
			typ := packet.Speech
			if rapid.Bool().Draw(t, "isChannel") {
				typ = packet.Channel
			}
			s.SubmitAsync(channelRequest(typ, ch), func(resp *packet.Packet, err error) {
				mu.Lock()
				completed++
				mu.Unlock()
			})
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			sent := dev.sentCount()
			mu.Lock()
			inFlight := sent - completed
			mu.Unlock()
			assert.LessOrEqual(t, inFlight, QueuesPerChannel*channels+4)
			if sent > 0 {
				for i := 0; i < sent; i++ {
					dev.respond(channelResponse(packet.Speech, 0))
				}
			}
			mu.Lock()
			done := completed >= n
			mu.Unlock()
			if done {
				break
			}
			time.Sleep(time.Millisecond)
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, n, completed)
	})
}
