// Package rpcproto defines the wire messages and gRPC service for the AMBE
// streaming RPC gateway. No protoc run is part of this module's build: the
// message types are hand-encoded against google.golang.org/protobuf's
// low-level wire primitives, and the service registration is hand-written
// in the shape protoc-gen-go-grpc would otherwise generate from a .proto
// file. Both message shapes below mirror original_source/rpc.proto
// (Packet{tag, data}, Ping{data}).
package rpcproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Packet carries one framed chip packet tagged by the sender, the unit
// exchanged by the AmbeService.Bind stream.
type Packet struct {
	Tag  int32
	Data []byte
}

const (
	packetFieldTag  protowire.Number = 1
	packetFieldData protowire.Number = 2
)

// Marshal implements Message.
func (p *Packet) Marshal() ([]byte, error) {
	var b []byte
	if p.Tag != 0 {
		b = protowire.AppendTag(b, packetFieldTag, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(p.Tag)))
	}
	b = protowire.AppendTag(b, packetFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Data)
	return b, nil
}

// UnmarshalFrom implements Message.
func (p *Packet) UnmarshalFrom(b []byte) error {
	*p = Packet{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpcproto: malformed Packet tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case packetFieldTag:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("rpcproto: malformed Packet.tag: %w", protowire.ParseError(n))
			}
			p.Tag = int32(v)
			b = b[n:]
		case packetFieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("rpcproto: malformed Packet.data: %w", protowire.ParseError(n))
			}
			p.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("rpcproto: malformed Packet field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// Ping carries a liveness payload, the unit exchanged by AmbeService.Ping.
type Ping struct {
	Data []byte
}

const pingFieldData protowire.Number = 1

func (p *Ping) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, pingFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Data)
	return b, nil
}

func (p *Ping) UnmarshalFrom(b []byte) error {
	*p = Ping{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpcproto: malformed Ping tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case pingFieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("rpcproto: malformed Ping.data: %w", protowire.ParseError(n))
			}
			p.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("rpcproto: malformed Ping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
