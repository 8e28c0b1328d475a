// Package ambeerr collects the sentinel error values shared across the
// driver. Every layer wraps one of these with fmt.Errorf("...: %w", ...) so
// callers can classify a failure with errors.Is regardless of which layer
// it surfaced from.
package ambeerr

import "errors"

var (
	// ErrMalformedPacket means data read off a transport did not decode
	// into a structurally valid packet (bad start byte, length mismatch,
	// unknown type, bad parity).
	ErrMalformedPacket = errors.New("ambe: malformed packet")

	// ErrInvalidPayload means a packet decoded structurally but a field
	// expected at a given payload offset was missing or the wrong shape.
	ErrInvalidPayload = errors.New("ambe: invalid payload")

	// ErrInvalidResponse means the chip's response did not match what the
	// request expected (wrong field tag, wrong channel).
	ErrInvalidResponse = errors.New("ambe: invalid response")

	// ErrChipCommandFailed means the chip returned a non-zero status for a
	// control request.
	ErrChipCommandFailed = errors.New("ambe: chip command failed")

	// ErrDeviceSendFailed means a write to the underlying transport failed.
	// Per the FifoDevice/TaggingDevice contract this is treated as fatal:
	// MultiQueueScheduler's run loop exits when it observes one, while
	// FifoScheduler reports it to the failed request's callback.
	ErrDeviceSendFailed = errors.New("ambe: device send failed")

	// ErrDeviceLinkLost means the underlying transport's read side
	// terminated unexpectedly (not as part of an orderly Stop).
	ErrDeviceLinkLost = errors.New("ambe: device link lost")

	// ErrNoChannelsLeft means DeviceManager.AcquireChannel found no free
	// channel on any registered device.
	ErrNoChannelsLeft = errors.New("ambe: no channels left")

	// ErrInvalidConfiguration means a URI, CLI flag, or rate specification
	// could not be parsed or was out of range.
	ErrInvalidConfiguration = errors.New("ambe: invalid configuration")
)
