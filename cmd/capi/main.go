//go:build cgo

// Command capi is the C ABI facade over ambego's gRPC client, grounded on
// original_source/capi.h / capi.cc. Build it with
// `go build -buildmode=c-shared` (or c-archive) to produce a library other
// languages can link against; cmd/capi holds only the cgo boundary, the
// connection and compress/decompress logic lives in package capi.
package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"time"
	"unsafe"

	"ambego/capi"

	"runtime/cgo"
)

func main() {}

// clientFromHandle recovers the *capi.Client an ambe_open call returned,
// or false if handle is nil or stale (already closed).
func clientFromHandle(handle unsafe.Pointer) (*capi.Client, bool) {
	if handle == nil {
		return nil, false
	}
	h := cgo.Handle(uintptr(handle))
	c, ok := h.Value().(*capi.Client)
	return c, ok
}

//export ambe_open
func ambe_open(uri *C.char, rate *C.char, deadline C.int) unsafe.Pointer {
	c, err := capi.Open(C.GoString(uri), C.GoString(rate), time.Duration(deadline)*time.Millisecond)
	if err != nil {
		return nil
	}
	h := cgo.NewHandle(c)
	return unsafe.Pointer(uintptr(h))
}

//export ambe_close
func ambe_close(handle unsafe.Pointer) {
	if handle == nil {
		return
	}
	h := cgo.Handle(uintptr(handle))
	if c, ok := h.Value().(*capi.Client); ok {
		c.Close()
	}
	h.Delete()
}

// ambe_compress encodes sample_count samples on handle's channel, writing
// the resulting AMBE bits into bits and the bit count into *bit_count. On
// entry *bit_count holds the capacity of bits, in bits. It returns -1 if
// the handle is invalid, sample_count is not one frame, the chip did not
// respond within handle's deadline, the connection has failed, or the
// result does not fit in bits; 0 on success, matching the original's
// future_status::ready check.
//
//export ambe_compress
func ambe_compress(bits *C.char, bitCount *C.size_t, handle unsafe.Pointer, samples *C.int16_t, sampleCount C.size_t) C.int {
	c, ok := clientFromHandle(handle)
	if !ok {
		return -1
	}

	src := unsafe.Slice((*int16)(unsafe.Pointer(samples)), int(sampleCount))
	encoded, count, err := c.Compress(src)
	if err != nil {
		return -1
	}

	byteLen := (count + 7) / 8
	if int(*bitCount) < count {
		return -1
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(bits)), byteLen)
	copy(dst, encoded[:byteLen])
	*bitCount = C.size_t(count)
	return 0
}

// ambe_decompress decodes bit_count AMBE bits on handle's channel, writing
// the resulting speech samples into samples and the sample count into
// *sample_count. On entry *sample_count holds the capacity of samples. It
// returns -1 if the handle is invalid, the chip did not respond within
// handle's deadline, the connection has failed, or the result does not
// fit in samples; 0 on success.
//
//export ambe_decompress
func ambe_decompress(samples *C.int16_t, sampleCount *C.size_t, handle unsafe.Pointer, bits *C.char, bitCount C.size_t) C.int {
	c, ok := clientFromHandle(handle)
	if !ok {
		return -1
	}

	byteLen := (int(bitCount) + 7) / 8
	src := unsafe.Slice((*byte)(unsafe.Pointer(bits)), byteLen)
	data := make([]byte, byteLen)
	copy(data, src)

	out, err := c.Decompress(data, int(bitCount))
	if err != nil {
		return -1
	}
	if int(*sampleCount) < len(out) {
		return -1
	}
	dst := unsafe.Slice((*int16)(unsafe.Pointer(samples)), len(out))
	copy(dst, out)
	*sampleCount = C.size_t(len(out))
	return 0
}
