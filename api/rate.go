package api

import (
	"fmt"
	"strconv"
	"strings"

	"ambego/ambeerr"
)

// RateKind distinguishes the two ways a chip's coding rate can be
// selected: a single-byte index into its built-in rate table, or six
// raw rate-control words for a custom rate.
type RateKind int

const (
	RateT RateKind = iota
	RateP
)

// Rate is either a RATET table index or a RATEP set of six rate control
// words, matching the chip's two ways of selecting a coding rate.
type Rate struct {
	Kind  RateKind
	Index uint8
	RCW   [6]uint16
}

// NewRatetRate builds a Rate that selects a built-in rate table entry.
func NewRatetRate(index uint8) Rate {
	return Rate{Kind: RateT, Index: index}
}

// NewRatepRate builds a Rate from six explicit rate control words.
func NewRatepRate(rcw [6]uint16) Rate {
	return Rate{Kind: RateP, RCW: rcw}
}

// ParseRate accepts either a single decimal/hex number (a RATET index)
// or six comma-separated numbers (RATEP rate control words), matching
// the two forms ambectl's -x flag accepts.
func ParseRate(s string) (Rate, error) {
	if !strings.Contains(s, ",") {
		if v, err := strconv.ParseUint(s, 0, 16); err == nil && v <= 255 {
			return NewRatetRate(uint8(v)), nil
		}
	}

	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return Rate{}, fmt.Errorf("%w: invalid AMBE rate %q", ambeerr.ErrInvalidConfiguration, s)
	}

	var rcw [6]uint16
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 16)
		if err != nil {
			return Rate{}, fmt.Errorf("%w: invalid AMBE rate %q: %v", ambeerr.ErrInvalidConfiguration, s, err)
		}
		rcw[i] = uint16(v)
	}
	return NewRatepRate(rcw), nil
}

// String renders the rate the way ambectl prints it back: a bare
// decimal index for RATET, six 0x-prefixed hex words for RATEP.
func (r Rate) String() string {
	switch r.Kind {
	case RateT:
		return strconv.Itoa(int(r.Index))
	case RateP:
		parts := make([]string, 6)
		for i, w := range r.RCW {
			parts[i] = fmt.Sprintf("0x%04x", w)
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}
