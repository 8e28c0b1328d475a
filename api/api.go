// Package api exposes the AMBE chip's packet-level commands as ordinary
// Go methods: build a request packet, submit it to a scheduler, and
// interpret the response, hiding the packet framing and field layout
// from callers.
package api

import (
	"context"
	"fmt"

	"ambego/ambeerr"
	"ambego/device"
	"ambego/packet"
	"ambego/scheduler"
)

// API drives a single AMBE device through its scheduler. It is safe for
// concurrent use except where noted (ParityMode and Reset mutate shared
// device state and must not race with other requests).
type API struct {
	Device    device.Device
	Scheduler scheduler.Scheduler

	// CheckParity, when true, verifies a response's trailing parity
	// field (if the device currently uses parity) before interpreting
	// it, matching the original client's check_parity constructor flag.
	CheckParity bool
}

// New returns an API driving d through s. Start and Stop the scheduler
// separately; API does not own the scheduler's lifecycle.
func New(d device.Device, s scheduler.Scheduler, checkParity bool) *API {
	return &API{Device: d, Scheduler: s, CheckParity: checkParity}
}

func (a *API) verifyParity(resp *packet.Packet) error {
	if !a.CheckParity || !a.Device.UsesParity() {
		return nil
	}
	ok, err := resp.CheckParity()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invalid packet parity", ambeerr.ErrInvalidResponse)
	}
	return nil
}

func (a *API) submit(ctx context.Context, req *packet.Packet) (*packet.Packet, error) {
	resp, err := scheduler.Submit(ctx, a.Scheduler, req)
	if err != nil {
		return nil, err
	}
	if err := a.verifyParity(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func parseControlStatus(resp *packet.Packet, want packet.FieldType) error {
	tag, status, err := resp.StatusAt(0)
	if err != nil {
		return err
	}
	if tag != want {
		return fmt.Errorf("%w: expected status for field %#x, got %#x", ambeerr.ErrInvalidResponse, want, tag)
	}
	if status != 0 {
		return fmt.Errorf("%w: request for field %#x failed with status %d", ambeerr.ErrChipCommandFailed, want, status)
	}
	return nil
}

func parseChannelStatus(resp *packet.Packet, channel uint8, want packet.FieldType) error {
	ackTag, ackStatus, err := resp.StatusAt(0)
	if err != nil {
		return err
	}
	if ackTag != packet.FieldChannel0+packet.FieldType(channel) {
		return fmt.Errorf("%w: response is for the wrong channel", ambeerr.ErrInvalidResponse)
	}
	if ackStatus != 0 {
		return fmt.Errorf("%w: channel select failed", ambeerr.ErrChipCommandFailed)
	}

	tag, status, err := resp.StatusAt(statusFieldSize)
	if err != nil {
		return err
	}
	if tag != want {
		return fmt.Errorf("%w: expected status for field %#x, got %#x", ambeerr.ErrInvalidResponse, want, tag)
	}
	if status != 0 {
		return fmt.Errorf("%w: request for field %#x failed with status %d", ambeerr.ErrChipCommandFailed, want, status)
	}
	return nil
}

// statusFieldSize mirrors packet's own unexported constant: a
// StatusField is a one-byte tag plus a one-byte status.
const statusFieldSize = 2

// HardReset pulses the device's UART break line (only serial
// FifoDevices implementing device.HardResetInterface support this) and
// waits for the chip to announce READY. Must not be called concurrently
// with other requests: it temporarily installs its own device callback.
func (a *API) HardReset(ctx context.Context) error {
	resettable, ok := a.Device.(device.HardResetInterface)
	if !ok {
		return fmt.Errorf("%w: device does not support hard reset", ambeerr.ErrInvalidConfiguration)
	}
	fifo, ok := a.Device.(device.FifoDevice)
	if !ok {
		return fmt.Errorf("%w: hard reset requires a FifoDevice", ambeerr.ErrInvalidConfiguration)
	}

	ready := make(chan struct{}, 1)
	prev := fifo.SetCallback(func(raw []byte) {
		resp, err := packet.Parse(raw, a.Device.UsesParity(), false)
		if err != nil {
			return
		}
		if tag, ferr := resp.FieldAt(0); ferr == nil && tag == packet.FieldReady {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer fifo.SetCallback(prev)

	if err := resettable.Reset(ctx); err != nil {
		return err
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SoftReset flushes any partially-received packet the chip might be
// sitting on by sending a burst of zero bytes (matching DVSI's own
// Linux client), then sends a RESET control packet with parity forced
// on, since parity state is otherwise unknown after a reset.
func (a *API) SoftReset(ctx context.Context) error {
	fifo, ok := a.Device.(device.FifoDevice)
	if !ok {
		return fmt.Errorf("%w: soft reset requires a FifoDevice", ambeerr.ErrInvalidConfiguration)
	}

	zero := make([]byte, 10)
	for i := 0; i < 3500; i++ {
		if err := fifo.Send(zero); err != nil {
			return fmt.Errorf("%w: %v", ambeerr.ErrDeviceSendFailed, err)
		}
	}

	req := packet.New(packet.Control)
	req.AppendField(packet.FieldReset)
	req.Finalize(true)

	resp, err := scheduler.Submit(ctx, a.Scheduler, req)
	if err != nil {
		return err
	}
	tag, err := resp.FieldAt(0)
	if err != nil {
		return err
	}
	if tag != packet.FieldReady {
		return fmt.Errorf("%w: expected READY after reset, got field %#x", ambeerr.ErrInvalidResponse, tag)
	}
	return nil
}

// Reset performs a hard or soft reset and then marks the device as
// using parity again, matching the chip's post-reset default.
func (a *API) Reset(ctx context.Context, hard bool) error {
	var err error
	if hard {
		err = a.HardReset(ctx)
	} else {
		err = a.SoftReset(ctx)
	}
	if err != nil {
		return err
	}
	a.Device.SetUsesParity(true)
	return nil
}

// ParityMode enables or disables trailing parity fields on every packet
// from this point on. It reconfigures the device's parity expectation
// before the request is even sent, so that the response (whose framing
// depends on the new setting) parses correctly; this means ParityMode
// must not be called concurrently with any other in-flight request.
func (a *API) ParityMode(ctx context.Context, enabled bool) error {
	req := packet.New(packet.Control)
	req.AppendParityModeField(enabled)
	req.Finalize(a.Device.UsesParity())

	a.Device.SetUsesParity(enabled)

	resp, err := a.submit(ctx, req)
	if err != nil {
		return err
	}
	return parseControlStatus(resp, packet.FieldParityMode)
}

// Compand enables or disables companding and selects A-law vs Mu-law.
func (a *API) Compand(ctx context.Context, enabled, alaw bool) error {
	req := packet.New(packet.Control)
	req.AppendCompandField(enabled, alaw)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return err
	}
	return parseControlStatus(resp, packet.FieldCompand)
}

func (a *API) setMode(ctx context.Context, channel uint8, field packet.FieldType, nsE, cpS, cpE, dtxE, tdE, tsE bool) error {
	req := packet.New(packet.Control)
	req.AppendChannelField(channel)
	req.AppendModeField(field, nsE, cpS, cpE, dtxE, tdE, tsE)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return err
	}
	return parseControlStatus(resp, field)
}

// Ecmode sets the encoder's noise-suppression/companding/DTX/tone flags
// for channel.
func (a *API) Ecmode(ctx context.Context, channel uint8, nsE, cpS, cpE, dtxE, tdE, tsE bool) error {
	return a.setMode(ctx, channel, packet.FieldEcmode, nsE, cpS, cpE, dtxE, tdE, tsE)
}

// Dcmode sets the decoder's noise-suppression/companding/DTX/tone flags
// for channel.
func (a *API) Dcmode(ctx context.Context, channel uint8, nsE, cpS, cpE, dtxE, tdE, tsE bool) error {
	return a.setMode(ctx, channel, packet.FieldDcmode, nsE, cpS, cpE, dtxE, tdE, tsE)
}

// Ratet selects a coding rate by index into the chip's built-in rate
// table for channel.
func (a *API) Ratet(ctx context.Context, channel uint8, index uint8) error {
	req := packet.New(packet.Control)
	req.AppendChannelField(channel)
	req.AppendRatetField(index)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return err
	}
	return parseChannelStatus(resp, channel, packet.FieldRatet)
}

// Ratep selects a custom coding rate via six rate control words for
// channel.
func (a *API) Ratep(ctx context.Context, channel uint8, rcw [6]uint16) error {
	req := packet.New(packet.Control)
	req.AppendChannelField(channel)
	req.AppendRatepField(rcw)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return err
	}
	return parseChannelStatus(resp, channel, packet.FieldRatep)
}

// Rate selects r, dispatching to Ratet or Ratep depending on how r was
// constructed.
func (a *API) Rate(ctx context.Context, channel uint8, r Rate) error {
	switch r.Kind {
	case RateT:
		return a.Ratet(ctx, channel, r.Index)
	case RateP:
		return a.Ratep(ctx, channel, r.RCW)
	default:
		return fmt.Errorf("%w: unsupported rate kind", ambeerr.ErrInvalidConfiguration)
	}
}

// Init enables the encoder and/or decoder for channel. Must be called
// before the first Compress/Decompress on a freshly reset channel.
func (a *API) Init(ctx context.Context, channel uint8, encoder, decoder bool) error {
	req := packet.New(packet.Control)
	req.AppendChannelField(channel)
	req.AppendInitField(encoder, decoder)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return err
	}
	return parseChannelStatus(resp, channel, packet.FieldInit)
}

// Prodid returns the chip's product identification string.
func (a *API) Prodid(ctx context.Context) (string, error) {
	return a.stringQuery(ctx, packet.FieldProdid)
}

// Verstring returns the chip's firmware version string.
func (a *API) Verstring(ctx context.Context) (string, error) {
	return a.stringQuery(ctx, packet.FieldVerstring)
}

func (a *API) stringQuery(ctx context.Context, field packet.FieldType) (string, error) {
	req := packet.New(packet.Control)
	req.AppendField(field)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return "", err
	}
	tag, err := resp.FieldAt(0)
	if err != nil {
		return "", err
	}
	if tag != field {
		return "", fmt.Errorf("%w: expected field %#x, got %#x", ambeerr.ErrInvalidResponse, field, tag)
	}
	return resp.StringAt(0)
}

// Compress asks the chip to encode samples (one 20 ms frame) on channel
// and returns the resulting AMBE-compressed bits and bit count.
func (a *API) Compress(ctx context.Context, channel uint8, samples []int16) (bits []byte, count int, err error) {
	req := packet.New(packet.Speech)
	req.AppendChannelField(channel)
	req.AppendSpchdField(samples)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Bits()
}

// Decompress asks the chip to decode count AMBE bits (packed in bits)
// on channel and returns the resulting speech samples.
func (a *API) Decompress(ctx context.Context, channel uint8, bits []byte, count int) ([]int16, error) {
	req := packet.New(packet.Channel)
	req.AppendChannelField(channel)
	req.AppendChandField(count, bits)
	req.Finalize(a.Device.UsesParity())

	resp, err := a.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Samples()
}
