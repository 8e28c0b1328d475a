// Command ambed hosts a serial-attached AMBE chip behind the AmbeService
// gRPC gateway, ported from original_source/ambed.cc.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"ambego/device/serial"
	"ambego/manager"
	"ambego/rpcproto"
	"ambego/rpcserver"
)

func main() {
	port := pflag.IntP("port", "p", 50051, "Port to listen on")
	serialPath := pflag.StringP("serial", "s", "", "Serial device path (required)")
	help := pflag.BoolP("help", "h", false, "This help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ambed [options]\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *serialPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -s <device-path> is required")
		pflag.Usage()
		os.Exit(1)
	}
	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "Error: -p must be in 0..65535")
		os.Exit(1)
	}

	logger := log.New(os.Stderr)

	ctx := context.Background()
	dev := serial.Usb3003(*serialPath)

	mgr := manager.New()
	logger.Info("resetting AMBE device", "path", *serialPath)
	_, prodid, verstring, err := rpcserver.NewGateway(ctx, mgr, *serialPath, dev)
	if err != nil {
		logger.Fatal("failed to initialize AMBE device", "err", err)
	}
	logger.Info("AMBE device ready", "prodid", prodid, "version", verstring)

	addr := fmt.Sprintf("0.0.0.0:%d", *port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", "addr", addr, "err", err)
	}

	s := grpc.NewServer(grpc.ForceServerCodec(rpcproto.Codec{}))
	rpcproto.RegisterAmbeServiceServer(s, rpcserver.NewServer(mgr))

	logger.Info("serving AmbeService", "addr", addr)
	if err := s.Serve(lis); err != nil {
		logger.Fatal("server exited", "err", err)
	}
}
