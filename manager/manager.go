// Package manager tracks the pool of attached AMBE devices and hands out
// channels from them, and parses the "scheme:authority" URIs used to select
// a transport from the CLI.
package manager

import (
	"fmt"
	"sync"

	"ambego/ambeerr"
	"ambego/device"
	"ambego/scheduler"
)

// entry pairs a registered device and its scheduler with a per-channel
// busy bitmap.
type entry struct {
	id       string
	device   device.Device
	sched    scheduler.Scheduler
	channels []bool
}

// DeviceManager is the channel pool: every attached device contributes its
// Channels() busy slots, and AcquireChannel scans them in the order they
// were added.
type DeviceManager struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

// New returns an empty DeviceManager.
func New() *DeviceManager {
	return &DeviceManager{entries: make(map[string]*entry)}
}

// Add registers a device under id. It is an error to reuse an id already
// registered.
func (m *DeviceManager) Add(id string, d device.Device, s scheduler.Scheduler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; ok {
		return fmt.Errorf("%w: device id %q is already registered", ambeerr.ErrInvalidConfiguration, id)
	}

	m.entries[id] = &entry{id: id, device: d, sched: s, channels: make([]bool, d.Channels())}
	m.order = append(m.order, id)
	return nil
}

// Get returns the device and scheduler registered under id.
func (m *DeviceManager) Get(id string) (device.Device, scheduler.Scheduler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown device id %q", ambeerr.ErrInvalidConfiguration, id)
	}
	return e.device, e.sched, nil
}

// AcquireChannel scans every registered device, in the order it was added,
// for the first free channel slot and marks it busy. It fails with
// ambeerr.ErrNoChannelsLeft if every device's channels are already in use.
func (m *DeviceManager) AcquireChannel() (id string, channel int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		e := m.entries[id]
		for i, busy := range e.channels {
			if !busy {
				e.channels[i] = true
				return id, i, nil
			}
		}
	}
	return "", 0, ambeerr.ErrNoChannelsLeft
}

// ReleaseChannel marks channel on device id free again. It is an error to
// release an unknown device id or a channel index it does not have.
func (m *DeviceManager) ReleaseChannel(id string, channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: unknown device id %q", ambeerr.ErrInvalidConfiguration, id)
	}
	if channel < 0 || channel >= len(e.channels) {
		return fmt.Errorf("%w: channel %d out of range for device %q", ambeerr.ErrInvalidConfiguration, channel, id)
	}
	e.channels[channel] = false
	return nil
}
