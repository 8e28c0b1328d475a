package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ambego/ambeerr"
	"ambego/packet"
)

func controlRequest() *packet.Packet {
	p := packet.New(packet.Control)
	p.AppendField(packet.FieldReady)
	p.Finalize(false)
	return p
}

func controlResponse() []byte {
	p := packet.New(packet.Control)
	p.AppendField(packet.FieldReady)
	return p.Finalize(false)
}

func TestFifoSchedulerRoundTrip(t *testing.T) {
	dev := &mockTaggingDevice{}
	s := NewFifoScheduler(dev)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	done := make(chan struct{})
	var gotErr error
	var gotResp *packet.Packet
	s.SubmitAsync(controlRequest(), func(resp *packet.Packet, err error) {
		gotResp, gotErr = resp, err
		close(done)
	})

	require.Equal(t, 1, len(dev.sent))
	dev.respond(dev.sent[0].tag, controlResponse())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}

	require.NoError(t, gotErr)
	require.NotNil(t, gotResp)
	assert.Equal(t, packet.Control, gotResp.Type())

	require.NoError(t, s.Stop(ctx))
}

func TestFifoSchedulerTagsAreDistinctAndIncreasing(t *testing.T) {
	dev := &mockTaggingDevice{}
	s := NewFifoScheduler(dev)
	require.NoError(t, s.Start(context.Background()))

	for i := 0; i < 5; i++ {
		s.SubmitAsync(controlRequest(), func(resp *packet.Packet, err error) {})
	}

	require.Equal(t, 5, len(dev.sent))
	for i := 1; i < len(dev.sent); i++ {
		assert.Greater(t, dev.sent[i].tag, dev.sent[i-1].tag)
	}
}

func TestFifoSchedulerSendFailureInvokesCallbackOnceWithoutRegistering(t *testing.T) {
	dev := &mockTaggingDevice{failSend: errors.New("write failed")}
	s := NewFifoScheduler(dev)
	require.NoError(t, s.Start(context.Background()))

	calls := 0
	var gotErr error
	s.SubmitAsync(controlRequest(), func(resp *packet.Packet, err error) {
		calls++
		gotErr = err
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, gotErr, ambeerr.ErrDeviceSendFailed)
	assert.Equal(t, 0, len(s.submitted))
}

func TestFifoSchedulerUnknownTagResponseIsDropped(t *testing.T) {
	dev := &mockTaggingDevice{}
	s := NewFifoScheduler(dev)
	require.NoError(t, s.Start(context.Background()))

	assert.NotPanics(t, func() {
		dev.respond(9999, controlResponse())
	})
}

func TestFifoSchedulerStopWaitsForOutstanding(t *testing.T) {
	dev := &mockTaggingDevice{}
	s := NewFifoScheduler(dev)
	require.NoError(t, s.Start(context.Background()))

	s.SubmitAsync(controlRequest(), func(resp *packet.Packet, err error) {})
	require.Equal(t, 1, len(dev.sent))

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before outstanding request resolved")
	case <-time.After(50 * time.Millisecond):
	}

	dev.respond(dev.sent[0].tag, controlResponse())

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after response arrived")
	}
}

func TestFifoSchedulerStopRespectsContextDeadline(t *testing.T) {
	dev := &mockTaggingDevice{}
	s := NewFifoScheduler(dev)
	require.NoError(t, s.Start(context.Background()))

	s.SubmitAsync(controlRequest(), func(resp *packet.Packet, err error) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Every response the device ever delivers is handed to exactly the
// callback registered for its tag, regardless of how many requests are
// in flight at once.
func TestFifoSchedulerPropertyResponsesMatchTags(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dev := &mockTaggingDevice{}
		s := NewFifoScheduler(dev)
		require.NoError(t, s.Start(context.Background()))

		n := rapid.IntRange(1, 20).Draw(t, "n")
		received := make([]bool, n)
		for i := 0; i < n; i++ {
			idx := i
			s.SubmitAsync(controlRequest(), func(resp *packet.Packet, err error) {
				received[idx] = true
			})
		}

		order := rapid.Permutation(indices(n)).Draw(t, "order")
		for _, i := range order {
			dev.respond(dev.sent[i].tag, controlResponse())
		}

		for i, got := range received {
			assert.Truef(t, got, "callback %d never invoked", i)
		}
	})
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
