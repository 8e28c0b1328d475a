package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"ambego/api"
	"ambego/device"
)

// ambeBits is one frame of AMBE-compressed bits, plus the bit count
// actually used (an empty frame with count 0 is the end-of-stream sentinel
// a compressor goroutine sends its matching decompressor).
type ambeBits struct {
	data  []byte
	count int
}

type clientMode int

const (
	modeSynchronous clientMode = iota
	modeConcurrent
)

type args struct {
	channels     int
	mode         clientMode
	pipelineSize int
	inFile       string
	outFile      string
	uri          string
	rate         api.Rate
}

// client drives compress/decompress traffic against a running device+API
// pair, ported from original_source/ambec.h/ambec.cc's Client.
type client struct {
	args     args
	device   device.Device
	ambe     *api.API
	channels int

	input      []audioFrame
	saveOutput bool
	output     [][]audioFrame

	pipelineSize int
}

func newClient(ctx context.Context, a args, dev device.Device, ambe *api.API, logger *log.Logger) (*client, error) {
	channels := a.channels
	if channels == 0 {
		channels = dev.Channels()
	}

	logger.Info("client mode", "mode", modeName(a.mode))
	if a.mode == modeConcurrent {
		logger.Info("pipeline size", "size", a.pipelineSize)
	}

	prodid, err := ambe.Prodid(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading prodid: %w", err)
	}
	verstring, err := ambe.Verstring(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading verstring: %w", err)
	}
	logger.Info("found AMBE device", "prodid", prodid, "version", verstring, "channels", dev.Channels())

	logger.Info("configuring channels", "rate", a.rate)
	for i := 0; i < dev.Channels(); i++ {
		if err := ambe.Rate(ctx, uint8(i), a.rate); err != nil {
			return nil, fmt.Errorf("setting rate on channel %d: %w", i, err)
		}
		if err := ambe.Init(ctx, uint8(i), true, true); err != nil {
			return nil, fmt.Errorf("initializing channel %d: %w", i, err)
		}
	}
	logger.Info("using channels", "count", channels)

	logger.Info("loading audio data", "file", a.inFile)
	input, err := loadWav(a.inFile)
	if err != nil {
		return nil, err
	}

	pipelineSize := 1
	if a.mode == modeConcurrent {
		pipelineSize = a.pipelineSize
	}

	saveOutput := a.outFile != ""
	output := make([][]audioFrame, channels)

	return &client{
		args: a, device: dev, ambe: ambe, channels: channels,
		input: input, saveOutput: saveOutput, output: output,
		pipelineSize: pipelineSize,
	}, nil
}

func modeName(m clientMode) string {
	if m == modeConcurrent {
		return "concurrent"
	}
	return "synchronous"
}

// compressDecompress runs every frame of c.input through compress then
// decompress on channel, one frame at a time, recording the round-tripped
// output if the caller wants it.
func (c *client) compressDecompress(ctx context.Context, channel int) (time.Duration, error) {
	start := time.Now()
	var out []audioFrame

	for _, frame := range c.input {
		bits, count, err := c.ambe.Compress(ctx, uint8(channel), frame[:])
		if err != nil {
			return 0, fmt.Errorf("compressing on channel %d: %w", channel, err)
		}
		samples, err := c.ambe.Decompress(ctx, uint8(channel), bits, count)
		if err != nil {
			return 0, fmt.Errorf("decompressing on channel %d: %w", channel, err)
		}
		if c.saveOutput {
			if len(samples) != frameSize {
				return 0, fmt.Errorf("decompress returned %d samples, expected %d", len(samples), frameSize)
			}
			var f audioFrame
			copy(f[:], samples)
			out = append(out, f)
		}
	}

	if c.saveOutput {
		c.output[channel] = out
	}
	return time.Since(start), nil
}

// compress feeds every input frame through the chip's encoder, pipelining
// up to maxRequests compressions in flight, and calls emit(bits, count) for
// every result in order. A trailing emit(nil, 0) signals end of stream to a
// paired decompress goroutine.
func (c *client) compress(ctx context.Context, channel int, emit func(bits []byte, count int), maxRequests int) (time.Duration, error) {
	start := time.Now()

	type result struct {
		bits  []byte
		count int
		err   error
	}
	submit := func(frame audioFrame) <-chan result {
		ch := make(chan result, 1)
		go func() {
			bits, count, err := c.ambe.Compress(ctx, uint8(channel), frame[:])
			ch <- result{bits, count, err}
		}()
		return ch
	}

	var pipeline []<-chan result
	i := 0
	for len(pipeline) < maxRequests && i < len(c.input) {
		pipeline = append(pipeline, submit(c.input[i]))
		i++
	}

	for len(pipeline) > 0 {
		r := <-pipeline[0]
		pipeline = pipeline[1:]
		if r.err != nil {
			return 0, r.err
		}
		emit(r.bits, r.count)

		if i < len(c.input) {
			pipeline = append(pipeline, submit(c.input[i]))
			i++
		}
	}

	emit(nil, 0)
	return time.Since(start), nil
}

// decompress consumes compressed frames from input, pipelining up to
// maxRequests decompressions in flight, until it receives the
// end-of-stream sentinel (count == 0).
func (c *client) decompress(ctx context.Context, channel int, input <-chan ambeBits, maxRequests int) (time.Duration, error) {
	var out []audioFrame
	type result struct {
		samples []int16
		err     error
	}
	submit := func(b ambeBits) <-chan result {
		ch := make(chan result, 1)
		go func() {
			samples, err := c.ambe.Decompress(ctx, uint8(channel), b.data, b.count)
			ch <- result{samples, err}
		}()
		return ch
	}

	var pipeline []<-chan result
	var start time.Time
	started := false
	quit := false

	for !quit || len(pipeline) > 0 {
		if len(pipeline) == maxRequests || quit {
			r := <-pipeline[0]
			pipeline = pipeline[1:]
			if r.err != nil {
				return 0, r.err
			}
			if c.saveOutput {
				if len(r.samples) != frameSize {
					return 0, fmt.Errorf("decompress returned %d samples, expected %d", len(r.samples), frameSize)
				}
				var f audioFrame
				copy(f[:], r.samples)
				out = append(out, f)
			}
		}

		if !started {
			started = true
			start = time.Now()
		}
		if quit {
			continue
		}

		b, ok := <-input
		if !ok || b.count == 0 {
			quit = true
			continue
		}
		pipeline = append(pipeline, submit(b))
	}

	if c.saveOutput {
		c.output[channel] = out
	}
	return time.Since(start), nil
}

// preCompress runs every input frame through the encoder once, up front,
// so concurrent mode can exercise independently timed compress/decompress
// pipelines without the decompressor waiting on live encoding.
func (c *client) preCompress(ctx context.Context, logger *log.Logger) ([]ambeBits, error) {
	logger.Info("pre-compressing samples")
	var bits []ambeBits
	d, err := c.compress(ctx, 0, func(b []byte, count int) {
		bits = append(bits, ambeBits{data: b, count: count})
	}, c.pipelineSize)
	if err != nil {
		return nil, err
	}
	logger.Info("pre-compression done", "duration", d)
	return bits, nil
}

func (c *client) synchronousMode(ctx context.Context, logger *log.Logger) error {
	logger.Info("running")
	var wg sync.WaitGroup
	times := make([]time.Duration, c.channels)
	errs := make([]error, c.channels)

	for i := 0; i < c.channels; i++ {
		wg.Add(1)
		go func(channel int) {
			defer wg.Done()
			times[channel], errs[channel] = c.compressDecompress(ctx, channel)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	logger.Info("done", "times", times)
	return nil
}

func (c *client) concurrentMode(ctx context.Context, logger *log.Logger) error {
	compressed, err := c.preCompress(ctx, logger)
	if err != nil {
		return err
	}

	logger.Info("running")
	var wg sync.WaitGroup
	type timing struct{ enc, dec time.Duration }
	times := make([]timing, c.channels)
	errs := make([]error, 2*c.channels)

	for i := 0; i < c.channels; i++ {
		wg.Add(2)
		channel := i
		go func() {
			defer wg.Done()
			times[channel].enc, errs[2*channel] = c.compress(ctx, channel, func([]byte, int) {}, c.pipelineSize)
		}()
		go func() {
			defer wg.Done()
			replay := make(chan ambeBits)
			go func() {
				defer close(replay)
				for _, b := range compressed {
					replay <- b
				}
			}()
			times[channel].dec, errs[2*channel+1] = c.decompress(ctx, channel, replay, c.pipelineSize)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	logger.Info("done", "times", times)
	return nil
}

func (c *client) saveOutputFiles(logger *log.Logger) error {
	if !c.saveOutput {
		logger.Info("discarding audio data (no output file configured)")
		return nil
	}
	for i := 0; i < c.channels; i++ {
		path := perChannelPath(c.args.outFile, i, c.channels)
		logger.Info("writing audio data", "file", path)
		if err := saveWav(path, c.output[i]); err != nil {
			return err
		}
	}
	return nil
}
