package rpcproto

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service path, matching original_source/rpc.h's
// "ambe.AmbeService".
const ServiceName = "ambe.AmbeService"

// AmbeServiceServer is implemented by the AMBE gateway: Bind streams framed
// chip packets tagged by the caller, Ping is a liveness echo.
type AmbeServiceServer interface {
	Bind(AmbeService_BindServer) error
	Ping(AmbeService_PingServer) error
}

// AmbeService_BindServer is the server-side handle for one Bind stream.
type AmbeService_BindServer interface {
	grpc.ServerStream
	Send(*Packet) error
	Recv() (*Packet, error)
}

// AmbeService_PingServer is the server-side handle for one Ping stream.
type AmbeService_PingServer interface {
	grpc.ServerStream
	Send(*Ping) error
	Recv() (*Ping, error)
}

type ambeServiceBindServer struct{ grpc.ServerStream }

func (x *ambeServiceBindServer) Send(m *Packet) error { return x.ServerStream.SendMsg(m) }
func (x *ambeServiceBindServer) Recv() (*Packet, error) {
	m := new(Packet)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type ambeServicePingServer struct{ grpc.ServerStream }

func (x *ambeServicePingServer) Send(m *Ping) error { return x.ServerStream.SendMsg(m) }
func (x *ambeServicePingServer) Recv() (*Ping, error) {
	m := new(Ping)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _AmbeService_Bind_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(AmbeServiceServer).Bind(&ambeServiceBindServer{stream})
}

func _AmbeService_Ping_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(AmbeServiceServer).Ping(&ambeServicePingServer{stream})
}

// ServiceDesc is AmbeService's grpc.ServiceDesc, registered with
// grpc.Server.RegisterService the way protoc-gen-go-grpc output does.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AmbeServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Bind",
			Handler:       _AmbeService_Bind_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "Ping",
			Handler:       _AmbeService_Ping_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ambego/rpcproto/ambe.proto",
}

// RegisterAmbeServiceServer registers srv to handle AmbeService RPCs on s.
func RegisterAmbeServiceServer(s *grpc.Server, srv AmbeServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// AmbeServiceClient is the client side of AmbeService.
type AmbeServiceClient interface {
	Bind(ctx context.Context, opts ...grpc.CallOption) (AmbeService_BindClient, error)
	Ping(ctx context.Context, opts ...grpc.CallOption) (AmbeService_PingClient, error)
}

// AmbeService_BindClient is the client-side handle for one Bind stream.
type AmbeService_BindClient interface {
	grpc.ClientStream
	Send(*Packet) error
	Recv() (*Packet, error)
}

// AmbeService_PingClient is the client-side handle for one Ping stream.
type AmbeService_PingClient interface {
	grpc.ClientStream
	Send(*Ping) error
	Recv() (*Ping, error)
}

type ambeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAmbeServiceClient wraps cc (typically a *grpc.ClientConn dialed with
// grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{}))) as an
// AmbeServiceClient.
func NewAmbeServiceClient(cc grpc.ClientConnInterface) AmbeServiceClient {
	return &ambeServiceClient{cc}
}

func (c *ambeServiceClient) Bind(ctx context.Context, opts ...grpc.CallOption) (AmbeService_BindClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Bind", opts...)
	if err != nil {
		return nil, err
	}
	return &ambeServiceBindClient{stream}, nil
}

func (c *ambeServiceClient) Ping(ctx context.Context, opts ...grpc.CallOption) (AmbeService_PingClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], "/"+ServiceName+"/Ping", opts...)
	if err != nil {
		return nil, err
	}
	return &ambeServicePingClient{stream}, nil
}

type ambeServiceBindClient struct{ grpc.ClientStream }

func (x *ambeServiceBindClient) Send(m *Packet) error { return x.ClientStream.SendMsg(m) }
func (x *ambeServiceBindClient) Recv() (*Packet, error) {
	m := new(Packet)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type ambeServicePingClient struct{ grpc.ClientStream }

func (x *ambeServicePingClient) Send(m *Ping) error { return x.ClientStream.SendMsg(m) }
func (x *ambeServicePingClient) Recv() (*Ping, error) {
	m := new(Ping)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
