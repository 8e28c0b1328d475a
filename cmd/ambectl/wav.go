package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"ambego/ambeerr"
)

const sampleRate = 8000
const frameDuration = 20 // milliseconds
const frameSize = sampleRate / 1000 * frameDuration

// audioFrame is one 20ms chunk of 8kHz mono 16-bit PCM, FRAME_SIZE samples
// wide, matching original_source/api.h's AudioFrame.
type audioFrame [frameSize]int16

// loadWav reads a mono 8kHz 16-bit PCM .wav file into fixed-size frames.
// The final frame is zero-padded if the file's sample count isn't a
// multiple of frameSize, matching the original's trailing f.fill(0).
func loadWav(path string) ([]audioFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ambeerr.ErrInvalidConfiguration, path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid .wav file: %v", ambeerr.ErrInvalidConfiguration, path, dec.Err())
	}
	if int(dec.SampleRate) != sampleRate {
		return nil, fmt.Errorf("%w: invalid sample rate, expected %d, got %d", ambeerr.ErrInvalidConfiguration, sampleRate, dec.SampleRate)
	}
	if dec.NumChans != 1 {
		return nil, fmt.Errorf("%w: invalid number of channels, expected 1, got %d", ambeerr.ErrInvalidConfiguration, dec.NumChans)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("%w: only S16LE sample format is supported, got %d-bit", ambeerr.ErrInvalidConfiguration, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ambeerr.ErrInvalidConfiguration, path, err)
	}

	var frames []audioFrame
	for start := 0; start < len(buf.Data); start += frameSize {
		var f audioFrame
		end := start + frameSize
		if end > len(buf.Data) {
			end = len(buf.Data)
		}
		for i := start; i < end; i++ {
			f[i-start] = int16(buf.Data[i])
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// saveWav writes frames to path as a mono 8kHz 16-bit PCM .wav file.
func saveWav(path string, frames []audioFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ambeerr.ErrInvalidConfiguration, path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	for _, frame := range frames {
		buf.Data = buf.Data[:0]
		for _, s := range frame {
			buf.Data = append(buf.Data, int(s))
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("%w: writing %s: %v", ambeerr.ErrInvalidConfiguration, path, err)
		}
	}
	return enc.Close()
}

// perChannelPath inserts a ".N" suffix before the extension when there is
// more than one output channel, e.g. "out.wav" -> "out.0.wav", matching
// ambec.cc's regex_replace on the output filename.
func perChannelPath(path string, channel, total int) string {
	if total <= 1 {
		return path
	}
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return path + "." + strconv.Itoa(channel)
	}
	return path[:dot] + "." + strconv.Itoa(channel) + path[dot:]
}
