// Package packet implements the wire framing used by DVSI AMBE-family
// vocoder chips: a four-byte header (start byte, big-endian payload length,
// packet type), a sequence of self-describing tagged fields, and an optional
// trailing XOR parity field.
package packet

import (
	"encoding/binary"
	"fmt"

	"ambego/ambeerr"
)

// Type is the packet type carried in the header's fourth byte.
type Type uint8

const (
	Control Type = 0x00
	Channel Type = 0x01
	Speech  Type = 0x02
)

const startByte = 0x61

// headerSize is sizeof(Header) in the original: start_byte(1) + length(2) + type(1).
const headerSize = 4

// Packet is a single framed message exchanged with the chip, either built
// locally for transmission or parsed from bytes read off the wire.
type Packet struct {
	buffer    []byte
	hasParity bool
}

// New starts a fresh outgoing packet of the given type, with no parity
// field and no payload yet. Use the Append* builders to add fields, then
// Finalize to fix up the header length and (optionally) add parity.
func New(t Type) *Packet {
	buf := make([]byte, headerSize)
	buf[0] = startByte
	buf[3] = byte(t)
	return &Packet{buffer: buf}
}

// Parse interprets data as a complete packet. If hasParity is true, the
// last two bytes are expected to be a ParityField; when checkParity is also
// true the parity value is verified immediately, before any other field is
// interpreted, so that a corrupted packet is rejected as early as possible.
func Parse(data []byte, hasParity, checkParity bool) (*Packet, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	if hasParity {
		if len(buf) < headerSize+parityFieldSize {
			return nil, fmt.Errorf("%w: too short to have a parity field", ambeerr.ErrMalformedPacket)
		}

		tag := FieldType(buf[len(buf)-parityFieldSize])
		if tag != FieldParity {
			return nil, fmt.Errorf("%w: invalid parity header", ambeerr.ErrMalformedPacket)
		}

		if checkParity {
			value := buf[len(buf)-1]
			got := xorParity(buf[1 : len(buf)-1])
			if got != value {
				return nil, fmt.Errorf("%w: invalid packet parity", ambeerr.ErrMalformedPacket)
			}
		}
	}

	p := &Packet{buffer: buf, hasParity: hasParity}
	if err := p.checkHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Packet) checkHeader() error {
	if len(p.buffer) < headerSize {
		return fmt.Errorf("%w: too short to have a header", ambeerr.ErrMalformedPacket)
	}
	if p.buffer[0] != startByte {
		return fmt.Errorf("%w: invalid start byte", ambeerr.ErrMalformedPacket)
	}
	if int(p.getLength()) != len(p.buffer)-headerSize {
		return fmt.Errorf("%w: invalid packet length", ambeerr.ErrMalformedPacket)
	}
	switch Type(p.buffer[3]) {
	case Control, Channel, Speech:
	default:
		return fmt.Errorf("%w: invalid packet type %#x", ambeerr.ErrMalformedPacket, p.buffer[3])
	}
	return nil
}

func (p *Packet) getLength() uint16 {
	return binary.BigEndian.Uint16(p.buffer[1:3])
}

func (p *Packet) setLength(v uint16) {
	binary.BigEndian.PutUint16(p.buffer[1:3], v)
}

// Type returns the packet's type byte.
func (p *Packet) Type() Type {
	return Type(p.buffer[3])
}

// PayloadLength returns the number of payload bytes, excluding the header
// and (if present) the trailing parity field.
func (p *Packet) PayloadLength() int {
	n := len(p.buffer) - headerSize
	if p.hasParity {
		n -= parityFieldSize
	}
	return n
}

// Length returns the total encoded length of the packet, header included.
func (p *Packet) Length() int {
	return len(p.buffer)
}

// Data returns the raw encoded bytes of the packet.
func (p *Packet) Data() []byte {
	return p.buffer
}

// HasParity reports whether the packet carries a trailing parity field.
func (p *Packet) HasParity() bool {
	return p.hasParity
}

func (p *Packet) updateHeaderLength() {
	p.setLength(uint16(len(p.buffer) - headerSize))
}

// CheckParity recomputes the parity of an already-parsed packet and
// compares it against the trailing ParityField's value.
func (p *Packet) CheckParity() (bool, error) {
	if !p.hasParity {
		return false, fmt.Errorf("%w: no parity header", ambeerr.ErrMalformedPacket)
	}
	if len(p.buffer) < headerSize+parityFieldSize {
		return false, fmt.Errorf("%w: too short to have a parity field", ambeerr.ErrMalformedPacket)
	}
	value := p.buffer[len(p.buffer)-1]
	got := xorParity(p.buffer[1 : len(p.buffer)-1])
	return got == value, nil
}

// Finalize fixes up the header length and adds or removes the trailing
// parity field to match withParity, then returns the encoded bytes. It is
// idempotent: calling it again with the same withParity value only
// recomputes the parity (useful after appending late fields is not
// supported, but re-finalizing the same packet is).
func (p *Packet) Finalize(withParity bool) []byte {
	var valueIdx = -1

	switch {
	case p.hasParity && !withParity:
		p.buffer = p.buffer[:len(p.buffer)-parityFieldSize]
		p.hasParity = false
	case !p.hasParity && withParity:
		p.buffer = append(p.buffer, byte(FieldParity), 0)
		p.hasParity = true
		valueIdx = len(p.buffer) - 1
	case p.hasParity:
		valueIdx = len(p.buffer) - 1
	}

	p.updateHeaderLength()

	if p.hasParity {
		value := xorParity(p.buffer[1 : len(p.buffer)-1])
		p.buffer[valueIdx] = value
	}
	return p.buffer
}

// Channel returns the channel number the packet is for, read off the first
// payload field, or -1 if that field is not a CHANNEL0/1/2 tag. A packet can
// in theory carry fields for more than one channel; only the first channel
// found is reported, matching the original implementation.
func (p *Packet) Channel() int {
	if p.PayloadLength() < 1 {
		return -1
	}
	tag := FieldType(p.buffer[headerSize])
	switch tag {
	case FieldChannel0, FieldChannel1, FieldChannel2:
		return int(tag - FieldChannel0)
	default:
		return -1
	}
}

func (p *Packet) payloadAt(offset, n int) ([]byte, error) {
	if p.PayloadLength()-offset < n {
		return nil, fmt.Errorf("%w: too short to have expected field at offset %d", ambeerr.ErrInvalidPayload, offset)
	}
	start := headerSize + offset
	return p.buffer[start : start+n], nil
}

// FieldAt returns the field tag at the given payload offset.
func (p *Packet) FieldAt(offset int) (FieldType, error) {
	b, err := p.payloadAt(offset, 1)
	if err != nil {
		return 0, err
	}
	return FieldType(b[0]), nil
}

// StatusAt parses a StatusField (tag + one status byte) at the given
// payload offset.
func (p *Packet) StatusAt(offset int) (FieldType, uint8, error) {
	b, err := p.payloadAt(offset, statusFieldSize)
	if err != nil {
		return 0, 0, err
	}
	return FieldType(b[0]), b[1], nil
}

// StringAt reads a NUL-terminated string field's value starting right after
// its tag byte, matching the original's char[0] flexible-array convention.
func (p *Packet) StringAt(offset int) (string, error) {
	if p.PayloadLength()-offset < 1 {
		return "", fmt.Errorf("%w: too short to have a string field", ambeerr.ErrInvalidPayload)
	}
	start := headerSize + offset + 1
	end := headerSize + p.PayloadLength()
	raw := p.buffer[start:end]
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}

// Samples returns the speech samples carried by a SPEECH packet: a
// ChannelField followed by a SpchdField (tag + sample count) and the raw
// sample data, each sample decoded from the chip's big-endian wire order.
func (p *Packet) Samples() ([]int16, error) {
	if p.Type() != Speech {
		return nil, fmt.Errorf("%w: speech packet expected", ambeerr.ErrInvalidResponse)
	}
	if p.Channel() == -1 {
		return nil, fmt.Errorf("%w: invalid packet channel", ambeerr.ErrInvalidResponse)
	}
	hdr, err := p.payloadAt(channelFieldSize, 2)
	if err != nil {
		return nil, err
	}
	if FieldType(hdr[0]) != FieldSpchd {
		return nil, fmt.Errorf("%w: expected SPCHD field", ambeerr.ErrInvalidResponse)
	}
	count := int(hdr[1])
	data, err := p.payloadAt(channelFieldSize+2, count*2)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, count)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples, nil
}

// Bits returns the AMBE-compressed bits carried by a CHANNEL packet: a
// ChannelField followed by a ChandField (tag + bit count) and the packed
// bit data.
func (p *Packet) Bits() ([]byte, int, error) {
	if p.Type() != Channel {
		return nil, 0, fmt.Errorf("%w: channel packet expected", ambeerr.ErrInvalidResponse)
	}
	if p.Channel() == -1 {
		return nil, 0, fmt.Errorf("%w: invalid packet channel", ambeerr.ErrInvalidResponse)
	}
	hdr, err := p.payloadAt(channelFieldSize, 2)
	if err != nil {
		return nil, 0, err
	}
	if FieldType(hdr[0]) != FieldChand {
		return nil, 0, fmt.Errorf("%w: expected CHAND field", ambeerr.ErrInvalidResponse)
	}
	bits := int(hdr[1])
	data, err := p.payloadAt(channelFieldSize+2, ByteLength(bits))
	if err != nil {
		return nil, 0, err
	}
	return data, bits, nil
}

// ByteLength returns the number of bytes needed to hold count bits,
// rounding up. It is 0 when count is 0.
func ByteLength(count int) int {
	n := count / 8
	if count%8 > 0 {
		n++
	}
	return n
}

func (p *Packet) append(b ...byte) {
	p.buffer = append(p.buffer, b...)
}

// AppendField appends a bare field tag with no payload.
func (p *Packet) AppendField(t FieldType) *Packet {
	p.append(byte(t))
	return p
}

// AppendChannelField selects which of the chip's (up to three) channels the
// fields that follow apply to.
func (p *Packet) AppendChannelField(channel uint8) *Packet {
	if channel > 2 {
		panic("packet: invalid channel number")
	}
	p.append(byte(channelFieldType(channel)))
	return p
}

// AppendSpchdField appends a raw speech-sample field for a SPEECH packet:
// tag, one-byte sample count, then the samples themselves, each written
// in the chip's big-endian wire order.
func (p *Packet) AppendSpchdField(samples []int16) *Packet {
	if len(samples) > 255 {
		panic("packet: too many samples for a single SpchdField")
	}
	p.append(byte(FieldSpchd), byte(len(samples)))
	for _, s := range samples {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(s))
		p.append(b[:]...)
	}
	return p
}

// AppendChandField appends AMBE-compressed bits for a CHANNEL packet: tag,
// one-byte bit count, then ByteLength(bits) bytes of packed data.
func (p *Packet) AppendChandField(bits int, data []byte) *Packet {
	if bits > 255 {
		panic("packet: too many bits for a single ChandField")
	}
	want := ByteLength(bits)
	if len(data) < want {
		panic("packet: not enough data bytes for given bit count")
	}
	p.append(byte(FieldChand), byte(bits))
	p.append(data[:want]...)
	return p
}

// AppendCompandField appends a COMPAND field with the given enabled/a-law
// settings.
func (p *Packet) AppendCompandField(enabled, alaw bool) *Packet {
	p.append(byte(FieldCompand), compandFieldParam(enabled, alaw))
	return p
}

// AppendParityModeField appends a PARITYMODE field.
func (p *Packet) AppendParityModeField(enabled bool) *Packet {
	var mode uint8
	if enabled {
		mode = 1
	}
	p.append(byte(FieldParityMode), mode)
	return p
}

// AppendRatetField appends a RATET field selecting a rate table index.
func (p *Packet) AppendRatetField(index uint8) *Packet {
	p.append(byte(FieldRatet), index)
	return p
}

// AppendRatepField appends a RATEP field with six big-endian rate control
// words.
func (p *Packet) AppendRatepField(rcw [6]uint16) *Packet {
	p.append(byte(FieldRatep))
	for _, w := range rcw {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], w)
		p.append(b[:]...)
	}
	return p
}

// AppendInitField appends an INIT field enabling the encoder and/or decoder
// for the current channel.
func (p *Packet) AppendInitField(encoder, decoder bool) *Packet {
	p.append(byte(FieldInit), initFieldParams(encoder, decoder))
	return p
}

// AppendModeField appends an ECMODE or DCMODE field. See modeFieldParams
// for the (preserved) byte-truncation behavior of the flag bits.
func (p *Packet) AppendModeField(t FieldType, nsE, cpS, cpE, dtxE, tdE, tsE bool) *Packet {
	p.append(byte(t), modeFieldParams(nsE, cpS, cpE, dtxE, tdE, tsE))
	return p
}
