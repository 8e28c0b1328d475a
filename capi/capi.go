// Package capi implements the connection-management and compress/decompress
// logic behind the C ABI facade (cmd/capi), grounded on
// original_source/capi.h / capi.cc. It is kept free of cgo so it can be
// built and tested with the normal Go toolchain; cmd/capi is the thin cgo
// shim that exports it.
package capi

import (
	"context"
	"fmt"
	"time"

	"ambego/ambeerr"
	"ambego/api"
	devrpc "ambego/device/rpc"
	"ambego/manager"
	"ambego/scheduler"
)

// FrameSize is the only sample count ambe_compress accepts per call,
// matching original_source/api.h's AudioFrame / FRAME_SIZE.
const FrameSize = 160

// Client is one open AMBE connection: a dialed gRPC channel bound to a
// single server-assigned channel, with its own scheduler and API facade.
// ambe_open/ambe_close/ambe_compress/ambe_decompress each operate on one.
type Client struct {
	device   *devrpc.RpcDevice
	sched    *scheduler.FifoScheduler
	api      *api.API
	deadline time.Duration
}

// Open dials uri (which must be a "grpc:" URI, as in the original), sets
// the given rate on the channel the server assigns, and initializes it for
// both encoding and decoding. deadline bounds every subsequent Compress and
// Decompress call.
func Open(uri, rate string, deadline time.Duration) (*Client, error) {
	u, err := manager.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != manager.SchemeGRPC {
		return nil, fmt.Errorf("%w: only gRPC devices are supported", ambeerr.ErrInvalidConfiguration)
	}

	r, err := api.ParseRate(rate)
	if err != nil {
		return nil, err
	}

	dev, err := devrpc.Dial(u.Authority)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := dev.Start(ctx); err != nil {
		return nil, err
	}

	sched := scheduler.NewFifoScheduler(dev)
	if err := sched.Start(ctx); err != nil {
		dev.Stop()
		return nil, err
	}

	a := api.New(dev, sched, dev.UsesParity())
	channel := uint8(dev.Channel())

	if err := a.Rate(ctx, channel, r); err != nil {
		sched.Stop(ctx)
		dev.Stop()
		return nil, err
	}
	if err := a.Init(ctx, channel, true, true); err != nil {
		sched.Stop(ctx)
		dev.Stop()
		return nil, err
	}

	return &Client{device: dev, sched: sched, api: a, deadline: deadline}, nil
}

// Close stops the scheduler and the underlying RPC stream in that order,
// mirroring ambe_close's scheduler-then-device teardown.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	ctx := context.Background()
	schedErr := c.sched.Stop(ctx)
	devErr := c.device.Stop()
	if schedErr != nil {
		return schedErr
	}
	return devErr
}

// Compress encodes exactly FrameSize samples on this client's channel,
// returning the packed bits and the bit count, or context.DeadlineExceeded
// if the chip has not responded within the client's deadline.
func (c *Client) Compress(samples []int16) (bits []byte, count int, err error) {
	if len(samples) != FrameSize {
		return nil, 0, fmt.Errorf("%w: only %d-sample frames are supported", ambeerr.ErrInvalidConfiguration, FrameSize)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.deadline)
	defer cancel()
	return c.api.Compress(ctx, uint8(c.device.Channel()), samples)
}

// Decompress decodes count AMBE bits on this client's channel, returning
// the resulting speech samples, or context.DeadlineExceeded if the chip
// has not responded within the client's deadline.
func (c *Client) Decompress(bits []byte, count int) ([]int16, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.deadline)
	defer cancel()
	return c.api.Decompress(ctx, uint8(c.device.Channel()), bits, count)
}
