package packet

import "testing"

func TestRoundTripControlNoParity(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldProdid)
	data := p.Finalize(false)

	parsed, err := Parse(data, false, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.Type() != Control {
		t.Errorf("Type mismatch: expected Control, got %v", parsed.Type())
	}
	if parsed.PayloadLength() != 1 {
		t.Errorf("PayloadLength mismatch: expected 1, got %d", parsed.PayloadLength())
	}
	field, err := parsed.FieldAt(0)
	if err != nil {
		t.Fatalf("FieldAt failed: %v", err)
	}
	if field != FieldProdid {
		t.Errorf("FieldAt mismatch: expected FieldProdid, got %#x", field)
	}
}

func TestRoundTripWithParity(t *testing.T) {
	testCases := []FieldType{FieldProdid, FieldVerstring, FieldReset, FieldReady}

	for _, tag := range testCases {
		p := New(Control)
		p.AppendField(tag)
		data := p.Finalize(true)

		parsed, err := Parse(data, true, true)
		if err != nil {
			t.Fatalf("Parse failed for tag %#x: %v", tag, err)
		}

		ok, err := parsed.CheckParity()
		if err != nil {
			t.Fatalf("CheckParity failed for tag %#x: %v", tag, err)
		}
		if !ok {
			t.Errorf("CheckParity returned false for tag %#x", tag)
		}
	}
}

func TestParityDetectsCorruption(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldProdid)
	data := p.Finalize(true)

	corrupted := make([]byte, len(data))
	copy(corrupted, data)
	corrupted[headerSize] ^= 0xff // flip the field tag byte

	if _, err := Parse(corrupted, true, true); err == nil {
		t.Errorf("Parse did not reject a packet with corrupted parity")
	}
}

func TestFinalizeIsIdempotentOnParityToggle(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldProdid)

	withParity := p.Finalize(true)
	if !p.HasParity() {
		t.Fatalf("expected HasParity after Finalize(true)")
	}

	withoutParity := p.Finalize(false)
	if p.HasParity() {
		t.Fatalf("expected !HasParity after Finalize(false)")
	}
	if len(withoutParity) != len(withParity)-parityFieldSize {
		t.Errorf("Finalize(false) did not remove exactly the parity field")
	}
}

func TestChannelField(t *testing.T) {
	for ch := uint8(0); ch <= 2; ch++ {
		p := New(Control)
		p.AppendChannelField(ch)
		p.AppendRatetField(5)
		data := p.Finalize(false)

		parsed, err := Parse(data, false, false)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got := parsed.Channel(); got != int(ch) {
			t.Errorf("Channel mismatch: expected %d, got %d", ch, got)
		}
	}
}

func TestChannelFieldAbsent(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldReset)
	data := p.Finalize(false)

	parsed, err := Parse(data, false, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := parsed.Channel(); got != -1 {
		t.Errorf("Channel mismatch: expected -1, got %d", got)
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}

	p := New(Speech)
	p.AppendChannelField(1)
	p.AppendSpchdField(samples)
	data := p.Finalize(false)

	parsed, err := Parse(data, false, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got, err := parsed.Samples()
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("sample count mismatch: expected %d, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d mismatch: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestBitsRoundTrip(t *testing.T) {
	testCases := []int{0, 1, 7, 8, 9, 49}

	for _, bits := range testCases {
		data := make([]byte, ByteLength(bits))
		for i := range data {
			data[i] = byte(0xa5 + i)
		}

		p := New(Channel)
		p.AppendChannelField(2)
		p.AppendChandField(bits, data)
		encoded := p.Finalize(false)

		parsed, err := Parse(encoded, false, false)
		if err != nil {
			t.Fatalf("Parse failed for %d bits: %v", bits, err)
		}

		got, count, err := parsed.Bits()
		if err != nil {
			t.Fatalf("Bits failed for %d bits: %v", bits, err)
		}
		if count != bits {
			t.Errorf("bit count mismatch: expected %d, got %d", bits, count)
		}
		if len(got) != len(data) {
			t.Fatalf("byte length mismatch: expected %d, got %d", len(data), len(got))
		}
		for i := range data {
			if got[i] != data[i] {
				t.Errorf("byte %d mismatch: expected %#x, got %#x", i, data[i], got[i])
			}
		}
	}
}

func TestByteLength(t *testing.T) {
	testCases := map[int]int{0: 0, 1: 1, 7: 1, 8: 1, 9: 2, 16: 2, 17: 3, 49: 7}
	for count, want := range testCases {
		if got := ByteLength(count); got != want {
			t.Errorf("ByteLength(%d): expected %d, got %d", count, want, got)
		}
	}
}

// modeFieldParams preserves a quirk of the original firmware's bit layout:
// the params byte is only 8 bits wide, so flags placed at bit position 8 and
// above (cp_e, dtx_e, td_e, ts_e) are discarded by truncation and only ns_e
// (bit 6) and cp_s (bit 7) ever reach the wire.
func TestModeFieldParamsTruncation(t *testing.T) {
	all := modeFieldParams(true, true, true, true, true, true)
	nsCpOnly := modeFieldParams(true, true, false, false, false, false)
	if all != nsCpOnly {
		t.Errorf("expected truncation to discard bits 8+: got %#x vs %#x", all, nsCpOnly)
	}
	if all != 0xc0 {
		t.Errorf("expected 0xc0 (bits 6 and 7 set), got %#x", all)
	}
}

func TestStatusAt(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldCompand)
	p.buffer = append(p.buffer, 0) // status byte appended by the device in a real response
	data := p.Finalize(false)

	parsed, err := Parse(data, false, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	tag, status, err := parsed.StatusAt(0)
	if err != nil {
		t.Fatalf("StatusAt failed: %v", err)
	}
	if tag != FieldCompand || status != 0 {
		t.Errorf("StatusAt mismatch: got tag=%#x status=%d", tag, status)
	}
}

func TestStringAt(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldProdid)
	p.buffer = append(p.buffer, []byte("AMBE-3003\x00")...)
	data := p.Finalize(false)

	parsed, err := Parse(data, false, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	s, err := parsed.StringAt(0)
	if err != nil {
		t.Fatalf("StringAt failed: %v", err)
	}
	if s != "AMBE-3003" {
		t.Errorf("StringAt mismatch: got %q", s)
	}
}

func TestParseRejectsShortPacket(t *testing.T) {
	if _, err := Parse([]byte{startByte, 0}, false, false); err == nil {
		t.Errorf("Parse did not reject a too-short packet")
	}
}

func TestParseRejectsBadStartByte(t *testing.T) {
	p := New(Control)
	data := p.Finalize(false)
	data[0] = 0x00
	if _, err := Parse(data, false, false); err == nil {
		t.Errorf("Parse did not reject a bad start byte")
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	p := New(Control)
	p.AppendField(FieldProdid)
	data := p.Finalize(false)
	data = append(data, 0xff) // trailing garbage not reflected in header length
	if _, err := Parse(data, false, false); err == nil {
		t.Errorf("Parse did not reject a length mismatch")
	}
}
