package rpcproto

import "fmt"

// Message is satisfied by every rpcproto wire message. It stands in for
// proto.Message without requiring the reflection machinery
// (protoreflect.Message / a compiled FileDescriptorProto) that would come
// with it; Packet and Ping are simple enough to hand-encode directly.
type Message interface {
	Marshal() ([]byte, error)
	UnmarshalFrom([]byte) error
}

// Codec is a grpc/encoding.Codec for rpcproto's hand-encoded messages. It is
// installed with grpc.ForceCodec on both the client and server since
// neither side runs the default proto codec's reflection-based path.
type Codec struct{}

func (Codec) Name() string { return "ambewire" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("rpcproto: %T does not implement Message", v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("rpcproto: %T does not implement Message", v)
	}
	return m.UnmarshalFrom(data)
}
