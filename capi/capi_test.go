package capi_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"ambego/ambeerr"
	"ambego/capi"
	"ambego/manager"
	"ambego/packet"
	"ambego/rpcproto"
	"ambego/rpcserver"
	"ambego/scheduler"
)

type fakeDevice struct{ channels int }

func (d *fakeDevice) Start(ctx context.Context) error { return nil }
func (d *fakeDevice) Stop() error                      { return nil }
func (d *fakeDevice) Channels() int                    { return d.channels }
func (d *fakeDevice) UsesParity() bool                 { return false }
func (d *fakeDevice) SetUsesParity(bool)               {}

// chipScheduler stands in for a real chip: it acknowledges RATET/RATEP/INIT
// control requests and answers compress/decompress requests with a fixed
// bit pattern and a fixed sample buffer, enough to exercise capi's wiring
// end to end without a real device attached.
type chipScheduler struct{}

func (chipScheduler) Start(ctx context.Context) error { return nil }
func (chipScheduler) Stop(ctx context.Context) error  { return nil }

func (chipScheduler) SubmitAsync(p *packet.Packet, cb scheduler.ResponseCallback) {
	channel := uint8(p.Channel())

	switch p.Type() {
	case packet.Control:
		tag, err := p.FieldAt(1)
		if err != nil {
			cb(nil, err)
			return
		}
		cb(channelAck(channel, tag), nil)

	case packet.Speech:
		resp := packet.New(packet.Channel)
		resp.AppendChannelField(channel)
		resp.AppendChandField(8, []byte{0xab})
		resp.Finalize(false)
		cb(resp, nil)

	case packet.Channel:
		samples := make([]int16, capi.FrameSize)
		resp := packet.New(packet.Speech)
		resp.AppendChannelField(channel)
		for i := 0; i < len(samples); i += 255 {
			end := i + 255
			if end > len(samples) {
				end = len(samples)
			}
			resp.AppendSpchdField(samples[i:end])
		}
		resp.Finalize(false)
		cb(resp, nil)

	default:
		cb(nil, fmt.Errorf("chipScheduler: unsupported packet type %v", p.Type()))
	}
}

// channelAck builds the raw StatusField-pair response shape a real chip
// sends for per-channel control commands (channel select ack, then the
// command's own status), which packet's public builders never construct
// since the host never sends one.
func channelAck(channel uint8, want packet.FieldType) *packet.Packet {
	ackTag := byte(packet.FieldChannel0) + channel
	payload := []byte{ackTag, 0, byte(want), 0}
	buf := []byte{0x61, 0, 0, byte(packet.Control)}
	buf = append(buf, payload...)
	n := uint16(len(buf) - 4)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n)
	p, _ := packet.Parse(buf, false, false)
	return p
}

func startTestServer(t *testing.T) string {
	t.Helper()
	mgr := manager.New()
	require.NoError(t, mgr.Add("dev0", &fakeDevice{channels: 1}, chipScheduler{}))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer(grpc.ForceServerCodec(rpcproto.Codec{}))
	rpcproto.RegisterAmbeServiceServer(s, rpcserver.NewServer(mgr))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	return lis.Addr().String()
}

func TestOpenRejectsNonGRPCURI(t *testing.T) {
	_, err := capi.Open("usb:/dev/ttyUSB0", "5", time.Second)
	assert.ErrorIs(t, err, ambeerr.ErrInvalidConfiguration)
}

func TestOpenRejectsMalformedRate(t *testing.T) {
	addr := startTestServer(t)
	_, err := capi.Open(fmt.Sprintf("grpc:%s", addr), "not-a-rate", time.Second)
	assert.Error(t, err)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	addr := startTestServer(t)
	c, err := capi.Open(fmt.Sprintf("grpc:%s", addr), "5", 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	samples := make([]int16, capi.FrameSize)
	bits, count, err := c.Compress(samples)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
	assert.Equal(t, []byte{0xab}, bits)

	out, err := c.Decompress(bits, count)
	require.NoError(t, err)
	assert.Len(t, out, capi.FrameSize)
}

func TestCompressRejectsWrongFrameSize(t *testing.T) {
	addr := startTestServer(t)
	c, err := capi.Open(fmt.Sprintf("grpc:%s", addr), "5", 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.Compress(make([]int16, capi.FrameSize-1))
	assert.ErrorIs(t, err, ambeerr.ErrInvalidConfiguration)
}
