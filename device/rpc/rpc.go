// Package rpc implements device.TaggingDevice over the AmbeService.Bind
// gRPC stream, grounded on original_source/rpc.h / rpc.cc's RpcDevice.
package rpc

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"ambego/ambeerr"
	"ambego/device"
	"ambego/rpcproto"
)

// RpcDevice drives an AMBE channel over a gRPC AmbeService.Bind stream.
type RpcDevice struct {
	ownsConn bool
	conn     *grpc.ClientConn
	client   rpcproto.AmbeServiceClient

	stream rpcproto.AmbeService_BindClient
	cancel context.CancelFunc

	channel int
	parity  bool

	sendMu sync.Mutex
	recv   device.TaggedCallback

	quit    chan struct{}
	stopped chan struct{}
}

// Dial connects to authority ("host:port") over an insecure gRPC channel,
// matching the original's grpc::CreateChannel(authority,
// InsecureChannelCredentials()).
func Dial(authority string) (*RpcDevice, error) {
	conn, err := grpc.NewClient(authority,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpcproto.Codec{})))
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ambeerr.ErrDeviceLinkLost, authority, err)
	}
	return &RpcDevice{ownsConn: true, conn: conn, client: rpcproto.NewAmbeServiceClient(conn)}, nil
}

// New wraps an already-dialed connection, e.g. one shared by a client that
// also calls Ping RPCs over the same channel.
func New(conn *grpc.ClientConn) *RpcDevice {
	return &RpcDevice{conn: conn, client: rpcproto.NewAmbeServiceClient(conn)}
}

// Start opens the Bind stream, waits for the server's initial metadata
// (assigned channel index and parity mode), and launches the reader
// goroutine.
func (d *RpcDevice) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := d.client.Bind(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: opening bind stream: %v", ambeerr.ErrDeviceLinkLost, err)
	}

	header, err := stream.Header()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: reading initial metadata: %v", ambeerr.ErrDeviceLinkLost, err)
	}

	channel, parity, err := parseBindMetadata(header)
	if err != nil {
		cancel()
		return err
	}

	d.stream = stream
	d.cancel = cancel
	d.channel = channel
	d.parity = parity
	d.quit = make(chan struct{})
	d.stopped = make(chan struct{})

	go d.readLoop()
	return nil
}

// parseBindMetadata reads the server's initial metadata: the channel index
// DeviceManager.AcquireChannel assigned this stream, and whether that
// channel currently expects parity fields on the wire.
func parseBindMetadata(md metadata.MD) (channel int, parity bool, err error) {
	ch := md.Get("channel")
	if len(ch) == 0 {
		return 0, false, fmt.Errorf("%w: server did not send \"channel\" metadata", ambeerr.ErrDeviceLinkLost)
	}
	up := md.Get("uses_parity")
	if len(up) == 0 {
		return 0, false, fmt.Errorf("%w: server did not send \"uses_parity\" metadata", ambeerr.ErrDeviceLinkLost)
	}

	n, err := strconv.Atoi(ch[0])
	if err != nil {
		return 0, false, fmt.Errorf("%w: malformed \"channel\" metadata %q: %v", ambeerr.ErrDeviceLinkLost, ch[0], err)
	}
	return n, up[0] == "1", nil
}

// Stop closes the send side, waits for the reader to observe EOF, and
// releases the stream's context.
func (d *RpcDevice) Stop() error {
	close(d.quit)
	err := d.stream.CloseSend()
	<-d.stopped
	d.cancel()
	if d.ownsConn {
		d.conn.Close()
	}
	return err
}

// Channels always reports 1: a bound RPC stream is scoped to the single
// channel the server's DeviceManager assigned it, unlike a serial device
// which exposes every channel the chip has.
func (d *RpcDevice) Channels() int { return 1 }

// Channel returns the channel index the server assigned this stream.
func (d *RpcDevice) Channel() int { return d.channel }

func (d *RpcDevice) UsesParity() bool     { return d.parity }
func (d *RpcDevice) SetUsesParity(v bool) { d.parity = v }

// SetCallback installs recv as the receiver for tagged responses and
// returns whichever callback was previously installed.
func (d *RpcDevice) SetCallback(recv device.TaggedCallback) device.TaggedCallback {
	old := d.recv
	d.recv = recv
	return old
}

// Send writes a tagged packet to the stream. Safe to call concurrently
// with itself; gRPC streams are not otherwise safe for concurrent sends.
func (d *RpcDevice) Send(tag int32, packet []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if err := d.stream.Send(&rpcproto.Packet{Tag: tag, Data: packet}); err != nil {
		return fmt.Errorf("%w: %v", ambeerr.ErrDeviceSendFailed, err)
	}
	return nil
}

func (d *RpcDevice) readLoop() {
	defer close(d.stopped)

	for {
		p, err := d.stream.Recv()
		if err != nil {
			// A subsequent Send already surfaces the broken stream to its
			// caller with ambeerr.ErrDeviceSendFailed; there is no separate
			// error channel back to Start's caller once the stream is
			// running, matching the original's fatal-on-unexpected-EOF
			// behavior without a dedicated notification path.
			return
		}
		if d.recv != nil {
			d.recv(p.Tag, p.Data)
		}
	}
}
