package manager

import (
	"fmt"
	"strings"

	"ambego/ambeerr"
)

// Scheme identifies which transport a URI selects.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeUSB
	SchemeGRPC
)

// URI is a parsed "scheme:authority" device address, e.g. "usb:/dev/ttyUSB0"
// or "grpc:localhost:50051".
type URI struct {
	Scheme    Scheme
	Authority string
}

// ParseURI splits s on its first colon and classifies the scheme
// case-insensitively. Anything other than "usb" or "grpc" parses
// successfully with Scheme == SchemeUnknown, mirroring the original's
// generic URI fallback rather than rejecting unrecognized schemes outright.
func ParseURI(s string) (URI, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return URI{}, fmt.Errorf("%w: %q is not a scheme:authority URI", ambeerr.ErrInvalidConfiguration, s)
	}

	scheme := s[:i]
	authority := s[i+1:]
	if scheme == "" {
		return URI{}, fmt.Errorf("%w: %q has an empty scheme", ambeerr.ErrInvalidConfiguration, s)
	}

	switch strings.ToLower(scheme) {
	case "usb":
		return URI{Scheme: SchemeUSB, Authority: authority}, nil
	case "grpc":
		return URI{Scheme: SchemeGRPC, Authority: authority}, nil
	default:
		return URI{Scheme: SchemeUnknown, Authority: authority}, nil
	}
}
