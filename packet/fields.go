package packet

// FieldType identifies the tag byte that precedes every field in a packet's
// payload. Names and numeric values are ported verbatim from the chip's wire
// protocol.
type FieldType uint8

const (
	FieldSpchd        FieldType = 0x00 // carries speech samples
	FieldChand        FieldType = 0x01 // carries AMBE channel bits
	FieldEcmode       FieldType = 0x05 // encoder cmode flags for current channel
	FieldDcmode       FieldType = 0x06 // decoder cmode flags for current channel
	FieldRatet        FieldType = 0x09 // select rate from table for current channel
	FieldRatep        FieldType = 0x0a // select custom rate for current channel
	FieldInit         FieldType = 0x0b // initialize encoder and/or decoder for current channel
	FieldLowpower     FieldType = 0x10 // enable or disable low-power mode
	FieldChanfmt      FieldType = 0x15 // sets the format of the output Channel packet
	FieldSpchfmt      FieldType = 0x16 // sets the format of the output Speech packet
	FieldParity       FieldType = 0x2f // per-packet parity field
	FieldProdid       FieldType = 0x30 // query for product identification
	FieldVerstring    FieldType = 0x31 // query for product version string
	FieldCompand      FieldType = 0x32 // companding on/off and a-law/mu-law selection
	FieldReset        FieldType = 0x33 // reset the device using hardware configuration pins
	FieldResetSoftCfg FieldType = 0x34 // reset the device with software configuration
	FieldHalt         FieldType = 0x35 // lowest power mode
	FieldGetcfg       FieldType = 0x36 // query configuration pin state at power-up or reset
	FieldReadcfg      FieldType = 0x37 // query current state of configuration pins
	FieldReady        FieldType = 0x39 // device is ready to receive packets
	FieldParityMode   FieldType = 0x3f // enable/disable parity fields
	FieldChannel0     FieldType = 0x40 // subsequent fields are for channel 0
	FieldChannel1     FieldType = 0x41 // subsequent fields are for channel 1
	FieldChannel2     FieldType = 0x42 // subsequent fields are for channel 2
	FieldDelayNus     FieldType = 0x49 // delay next control field processing, microseconds
	FieldDelayNns     FieldType = 0x4a // delay next control field processing, nanoseconds
	FieldGain         FieldType = 0x4b // set input/output gain
	FieldRtsThresh    FieldType = 0x4e // set flow control thresholds
)

// channelField byte size: just the tag.
const channelFieldSize = 1

// statusFieldSize: tag + status byte.
const statusFieldSize = 2

// parityFieldSize: tag + parity value byte.
const parityFieldSize = 2

func channelFieldType(channel uint8) FieldType {
	return FieldChannel0 + FieldType(channel)
}

// modeFieldParams reproduces the chip firmware's documented bit layout for
// ECMODE/DCMODE flags, including the fact that the params byte is only 8
// bits wide: bits placed at position 8 and above are silently discarded by
// the truncation to uint8, so only ns_e (bit 6) and cp_s (bit 7) actually
// survive in the wire byte. See packet_test.go for the preserved behavior.
func modeFieldParams(nsE, cpS, cpE, dtxE, tdE, tsE bool) uint8 {
	var v int
	if nsE {
		v |= 1 << 6
	}
	if cpS {
		v |= 1 << 7
	}
	if cpE {
		v |= 1 << 8
	}
	if dtxE {
		v |= 1 << 11
	}
	if tdE {
		v |= 1 << 12
	}
	if tsE {
		v |= 1 << 14
	}
	return uint8(v)
}

func compandFieldParam(enabled, alaw bool) uint8 {
	var v uint8
	if enabled {
		v |= 1
	}
	if alaw {
		v |= 2
	}
	return v
}

func initFieldParams(encoder, decoder bool) uint8 {
	var v uint8
	if decoder {
		v |= 2
	}
	if encoder {
		v |= 1
	}
	return v
}

func xorParity(data []byte) uint8 {
	var v uint8
	for _, b := range data {
		v ^= b
	}
	return v
}
