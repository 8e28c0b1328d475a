// Package rpcserver implements the server side of the AmbeService gateway:
// it hosts a serial-attached chip behind AmbeService.Bind/Ping, handing out
// channels from a manager.DeviceManager, grounded on original_source/ambed.cc.
package rpcserver

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ambego/ambeerr"
	"ambego/api"
	"ambego/device"
	"ambego/manager"
	"ambego/packet"
	"ambego/rpcproto"
	"ambego/scheduler"
)

// Server implements rpcproto.AmbeServiceServer over a DeviceManager. Every
// Bind call acquires a fresh channel on some registered device and releases
// it when the stream ends.
type Server struct {
	manager *manager.DeviceManager
}

// NewServer returns a Server handing out channels from mgr.
func NewServer(mgr *manager.DeviceManager) *Server {
	return &Server{manager: mgr}
}

// Bind implements rpcproto.AmbeServiceServer. It acquires a channel,
// announces it (and the device's current parity mode) via initial metadata,
// then relays every tagged request to the device's scheduler and every
// response back to the client, exactly as ambed.cc's bind handler does.
func (s *Server) Bind(stream rpcproto.AmbeService_BindServer) error {
	id, channel, err := s.manager.AcquireChannel()
	if err != nil {
		return status.Error(codes.ResourceExhausted, "No channels left")
	}
	defer s.manager.ReleaseChannel(id, channel)

	dev, sched, err := s.manager.Get(id)
	if err != nil {
		return status.Errorf(codes.Internal, "%v", err)
	}

	md := metadata.Pairs("channel", strconv.Itoa(channel), "uses_parity", parityString(dev.UsesParity()))
	if err := stream.SendHeader(md); err != nil {
		return err
	}

	for {
		req, err := stream.Recv()
		if err != nil {
			return nil
		}

		p, err := packet.Parse(req.Data, dev.UsesParity(), false)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}

		tag := req.Tag
		sched.SubmitAsync(p, func(resp *packet.Packet, err error) {
			if err != nil {
				return
			}
			// Send errors surface on the next Recv as a broken stream; there
			// is no way to report them out-of-band to the client here.
			_ = stream.Send(&rpcproto.Packet{Tag: tag, Data: resp.Data()})
		})
	}
}

// Ping implements rpcproto.AmbeServiceServer as a pure echo, for liveness
// checks, ported from ambed.cc's ping handler.
func (s *Server) Ping(stream rpcproto.AmbeService_PingServer) error {
	for {
		p, err := stream.Recv()
		if err != nil {
			return nil
		}
		if err := stream.Send(p); err != nil {
			return err
		}
	}
}

func parityString(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}

// InitChip drives the startup sequence ambed.cc's initChip performs on a
// freshly attached device: hard reset, read back prodid/verstring, disable
// parity, disable companding.
func InitChip(ctx context.Context, a *api.API) (prodid, verstring string, err error) {
	if err := a.Reset(ctx, true); err != nil {
		return "", "", fmt.Errorf("resetting chip: %w", err)
	}

	prodid, err = a.Prodid(ctx)
	if err != nil {
		return "", "", fmt.Errorf("reading prodid: %w", err)
	}
	verstring, err = a.Verstring(ctx)
	if err != nil {
		return "", "", fmt.Errorf("reading verstring: %w", err)
	}

	if err := a.ParityMode(ctx, false); err != nil {
		return "", "", fmt.Errorf("disabling parity: %w", err)
	}
	if err := a.Compand(ctx, false, false); err != nil {
		return "", "", fmt.Errorf("disabling companding: %w", err)
	}

	return prodid, verstring, nil
}

// NewGateway starts dev and a MultiQueueScheduler over it, registers it
// under deviceID in mgr, and runs InitChip. This is the construction-time
// sequence AmbeServiceImpl's constructor performs in ambed.cc.
func NewGateway(ctx context.Context, mgr *manager.DeviceManager, deviceID string, dev device.FifoDevice) (a *api.API, prodid, verstring string, err error) {
	sched, err := scheduler.NewMultiQueueScheduler(dev, dev.Channels())
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", ambeerr.ErrInvalidConfiguration, err)
	}

	if err := dev.Start(ctx); err != nil {
		return nil, "", "", err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, "", "", err
	}
	if err := mgr.Add(deviceID, dev, sched); err != nil {
		return nil, "", "", err
	}

	a = api.New(dev, sched, dev.UsesParity())
	prodid, verstring, err = InitChip(ctx, a)
	if err != nil {
		return nil, "", "", err
	}
	return a, prodid, verstring, nil
}
