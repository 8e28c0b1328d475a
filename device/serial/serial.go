// Package serial implements device.FifoDevice over a direct serial link
// to a USB-3000/USB-3003 dongle: raw 8N1 with hardware flow control, an
// exclusive advisory lock so two processes can't fight over the same
// port, Linux low-latency mode, and (on USB-3003) a hardware BREAK reset.
package serial

import (
	"context"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"

	"ambego/ambeerr"
	"ambego/device"
)

const startByte = 0x61
const headerSize = 4

// readTimeout bounds each blocking read so the reader goroutine wakes up
// often enough to notice Stop without needing a pipe-based cancellation
// signal the way the original C++ implementation uses select() over a
// self-pipe; tarm/serial's own read deadline plays that role here.
const readTimeout = 200 * time.Millisecond

// UartDevice drives an AMBE chip over a raw serial port.
type UartDevice struct {
	pathname  string
	baudrate  int
	channels  int
	canReset  bool

	port    *serial.Port
	lockFd  *os.File
	recv    device.FifoCallback
	parity  bool

	quit      chan struct{}
	stopped   chan struct{}
}

// Usb3003 configures a UartDevice for a USB-3003 dongle: 3 channels,
// 921600 baud, and hardware BREAK reset support.
func Usb3003(pathname string) *UartDevice {
	return &UartDevice{pathname: pathname, baudrate: 921600, channels: 3, canReset: true, parity: true}
}

// Usb3000 configures a UartDevice for a USB-3000 dongle: 1 channel,
// 460800 baud, no hardware reset support.
func Usb3000(pathname string) *UartDevice {
	return &UartDevice{pathname: pathname, baudrate: 460800, channels: 1, canReset: false, parity: true}
}

func (d *UartDevice) Channels() int        { return d.channels }
func (d *UartDevice) UsesParity() bool     { return d.parity }
func (d *UartDevice) SetUsesParity(v bool) { d.parity = v }

// Start opens the port, configures it for raw 8N1 with hardware flow
// control, takes an exclusive advisory lock, enables Linux low-latency
// mode, discards whatever garbage is sitting in the port's buffers, and
// launches the reader goroutine.
func (d *UartDevice) Start(ctx context.Context) error {
	cfg := &serial.Config{Name: d.pathname, Baud: d.baudrate, ReadTimeout: readTimeout}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ambeerr.ErrDeviceLinkLost, d.pathname, err)
	}

	// tarm/serial's Port does not expose its underlying file descriptor,
	// and the exclusive lock / low-latency mode / hardware flow control
	// this chip's protocol needs are all fd-level Linux ioctls. Opening
	// the same path a second time gets us that fd: locks and the
	// low-latency flag are line-discipline state shared by every open
	// file description on the device, not per-descriptor.
	lockFd, err := os.OpenFile(d.pathname, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		port.Close()
		return fmt.Errorf("%w: opening %s for locking: %v", ambeerr.ErrDeviceLinkLost, d.pathname, err)
	}

	if err := lockExclusive(lockFd); err != nil {
		port.Close()
		lockFd.Close()
		return fmt.Errorf("%w: %s is already in use: %v", ambeerr.ErrDeviceLinkLost, d.pathname, err)
	}

	if err := enableHardwareFlowControl(lockFd.Fd()); err != nil {
		port.Close()
		lockFd.Close()
		return fmt.Errorf("%w: configuring %s: %v", ambeerr.ErrDeviceLinkLost, d.pathname, err)
	}

	if err := setLowLatency(lockFd.Fd(), true); err != nil {
		port.Close()
		lockFd.Close()
		return fmt.Errorf("%w: configuring %s: %v", ambeerr.ErrDeviceLinkLost, d.pathname, err)
	}

	// Discard whatever bytes a USB-to-serial adapter's buffers were
	// still holding from before we opened it. There is no bulletproof
	// way to do this; the short sleep is a known kludge.
	time.Sleep(time.Millisecond)
	if err := unix.IoctlSetInt(int(lockFd.Fd()), unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		port.Close()
		lockFd.Close()
		return fmt.Errorf("%w: flushing %s: %v", ambeerr.ErrDeviceLinkLost, d.pathname, err)
	}

	d.port = port
	d.lockFd = lockFd
	d.quit = make(chan struct{})
	d.stopped = make(chan struct{})

	go d.readLoop()
	return nil
}

// Stop signals the reader goroutine to exit, waits for it, disables
// low-latency mode, and closes both file descriptors.
func (d *UartDevice) Stop() error {
	close(d.quit)
	<-d.stopped

	setLowLatency(d.lockFd.Fd(), false)
	d.lockFd.Close()
	return d.port.Close()
}

// SetCallback installs recv as the receiver for packets read off the
// wire and returns whichever callback was previously installed.
func (d *UartDevice) SetCallback(recv device.FifoCallback) device.FifoCallback {
	old := d.recv
	d.recv = recv
	return old
}

// Send writes packet to the device. Per the FifoDevice contract this
// blocks until the bytes are handed to the kernel and is not safe to
// call concurrently with itself.
func (d *UartDevice) Send(packet []byte) error {
	n, err := d.port.Write(packet)
	if err != nil {
		return err
	}
	if n != len(packet) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(packet))
	}
	return nil
}

// Reset pulses a hardware BREAK on the UART, which on a USB-3003
// dongle resets the AMBE chip. USB-3000 dongles do not support this.
func (d *UartDevice) Reset(ctx context.Context) error {
	if !d.canReset {
		return fmt.Errorf("%w: this device does not support hardware reset", ambeerr.ErrInvalidConfiguration)
	}
	if err := unix.IoctlSetInt(int(d.lockFd.Fd()), unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return err
	}
	return unix.IoctlSetInt(int(d.lockFd.Fd()), unix.TCSBRK, 0)
}

func (d *UartDevice) readLoop() {
	defer close(d.stopped)

	buf := make([]byte, 0, 256)
	for {
		select {
		case <-d.quit:
			return
		default:
		}

		raw, err := d.readPacket(buf[:0])
		if err != nil {
			if err == errTimeout {
				continue
			}
			return
		}
		if d.recv != nil {
			d.recv(raw)
		}
	}
}

var errTimeout = fmt.Errorf("read timed out")

// readPacket reads one complete framed packet off the wire: a byte-at-a-
// time scan for the start byte (resynchronizing after noise), then the
// fixed header, then the payload the header's length field describes.
func (d *UartDevice) readPacket(buf []byte) ([]byte, error) {
	var b [1]byte
	for {
		if err := d.readFull(b[:]); err != nil {
			return nil, err
		}
		if b[0] == startByte {
			break
		}
	}
	buf = append(buf, b[0])

	hdr := make([]byte, headerSize-1)
	if err := d.readFull(hdr); err != nil {
		return nil, err
	}
	buf = append(buf, hdr...)

	length := int(hdr[0])<<8 | int(hdr[1])
	payload := make([]byte, length)
	if err := d.readFull(payload); err != nil {
		return nil, err
	}
	buf = append(buf, payload...)

	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// readFull reads exactly len(p) bytes, treating tarm/serial's read
// timeout as a retryable condition rather than an error so the caller
// can keep checking for Stop between reads.
func (d *UartDevice) readFull(p []byte) error {
	got := 0
	for got < len(p) {
		select {
		case <-d.quit:
			return errTimeout
		default:
		}
		n, err := d.port.Read(p[got:])
		if n > 0 {
			got += n
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ambeerr.ErrDeviceLinkLost, err)
		}
		// n == 0, err == nil means the read timed out with nothing
		// available; loop back around to check d.quit again.
	}
	return nil
}

func lockExclusive(f *os.File) error {
	lock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  0,
		Len:    0,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lock)
}

func enableHardwareFlowControl(fd uintptr) error {
	t, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	if err != nil {
		return err
	}
	t.Cflag |= unix.CRTSCTS
	return unix.IoctlSetTermios(int(fd), unix.TCSETS, t)
}

// serialStruct mirrors Linux's struct serial_struct closely enough to
// flip the ASYNC_LOW_LATENCY flag; only the fields before and including
// flags matter for that.
type serialStruct struct {
	Type          int32
	Line          int32
	Port          uint32
	IRQ           int32
	Flags         int32
	XmitFifoSize  int32
	CustomDivisor int32
	BaudBase      int32
	CloseDelay    uint16
	IOType        byte
	Reserved1     [1]byte
	HubPort       byte
	Reserved2     [int32Pad]byte
}

const int32Pad = 19

const asyncLowLatency = 1 << 13

func setLowLatency(fd uintptr, enabled bool) error {
	var s serialStruct
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.TIOCGSERIAL, uintptr(unsafe.Pointer(&s))); errno != 0 {
		return errno
	}

	if enabled {
		s.Flags |= asyncLowLatency
	} else {
		s.Flags &^= asyncLowLatency
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.TIOCSSERIAL, uintptr(unsafe.Pointer(&s))); errno != 0 {
		return errno
	}
	return nil
}

