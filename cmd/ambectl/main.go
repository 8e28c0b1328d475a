// Command ambectl drives compress/decompress traffic against an AMBE
// device, either directly over serial or through an ambed gateway over
// gRPC, ported from original_source/ambec.h/ambec.cc.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"ambego/api"
	"ambego/device"
	devrpc "ambego/device/rpc"
	"ambego/device/serial"
	"ambego/manager"
	"ambego/scheduler"
)

func main() {
	channels := pflag.IntP("channels", "c", 0, "Number of channels to use simultaneously (all available by default)")
	concurrent := pflag.BoolP("concurrent", "t", false, "Run in concurrent mode (default is synchronous mode)")
	pipelineSize := pflag.IntP("pipeline", "p", 2, "Request pipeline size")
	inFile := pflag.StringP("input", "i", "", "Input data .wav file")
	outFile := pflag.StringP("output", "o", "", "Optional filename to write output to")
	uri := pflag.StringP("uri", "u", "", "AMBE device URI")
	rateFlag := pflag.StringP("rate", "x", "33", "AMBE_RATET index or 6 comma-delimited AMBE_RATEP values")
	help := pflag.BoolP("help", "h", false, "This help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ambectl [options]\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.New(os.Stderr)

	if *channels < 0 || *channels > 3 {
		logger.Fatal("the AMBE chip supports up to 3 channels")
	}
	if *pipelineSize < 1 {
		logger.Fatal("invalid pipeline size (must be >= 1)")
	}
	if *inFile == "" {
		logger.Fatal("-i <filename> is required")
	}
	if *uri == "" {
		logger.Fatal("-u <uri> is required")
	}

	rate, err := api.ParseRate(*rateFlag)
	if err != nil {
		logger.Fatal("invalid rate", "err", err)
	}

	parsed, err := manager.ParseURI(*uri)
	if err != nil {
		logger.Fatal("invalid URI", "err", err)
	}

	a := args{
		channels:     *channels,
		pipelineSize: *pipelineSize,
		inFile:       *inFile,
		outFile:      *outFile,
		uri:          *uri,
		rate:         rate,
	}
	if *concurrent {
		a.mode = modeConcurrent
	}

	ctx := context.Background()

	var runErr error
	switch parsed.Scheme {
	case manager.SchemeUSB:
		runErr = runUSBMode(ctx, a, parsed.Authority, logger)
	case manager.SchemeGRPC:
		runErr = runGRPCMode(ctx, a, parsed.Authority, logger)
	default:
		logger.Fatal("unsupported URI scheme", "uri", *uri)
	}
	if runErr != nil {
		logger.Fatal("failed", "err", runErr)
	}
}

func runUSBMode(ctx context.Context, a args, authority string, logger *log.Logger) error {
	dev := serial.Usb3003(authority)
	sched, err := scheduler.NewMultiQueueScheduler(dev, dev.Channels())
	if err != nil {
		return err
	}
	ambe := api.New(dev, sched, dev.UsesParity())

	if err := dev.Start(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop(ctx)
	defer dev.Stop()

	logger.Info("resetting AMBE device")
	if err := ambe.Reset(ctx, true); err != nil {
		return err
	}
	logger.Info("disabling parity")
	if err := ambe.ParityMode(ctx, false); err != nil {
		return err
	}
	logger.Info("disabling companding")
	if err := ambe.Compand(ctx, false, false); err != nil {
		return err
	}

	return runClient(ctx, a, dev, ambe, logger)
}

func runGRPCMode(ctx context.Context, a args, authority string, logger *log.Logger) error {
	logger.Info("connecting via gRPC", "authority", authority)

	dev, err := devrpc.Dial(authority)
	if err != nil {
		return err
	}
	if err := dev.Start(ctx); err != nil {
		return err
	}

	sched := scheduler.NewFifoScheduler(dev)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop(ctx)
	defer dev.Stop()

	ambe := api.New(dev, sched, dev.UsesParity())
	return runClient(ctx, a, dev, ambe, logger)
}

func runClient(ctx context.Context, a args, dev device.Device, ambe *api.API, logger *log.Logger) error {
	c, err := newClient(ctx, a, dev, ambe, logger)
	if err != nil {
		return err
	}

	var runErr error
	if a.mode == modeConcurrent {
		runErr = c.concurrentMode(ctx, logger)
	} else {
		runErr = c.synchronousMode(ctx, logger)
	}
	if runErr != nil {
		return runErr
	}

	return c.saveOutputFiles(logger)
}
