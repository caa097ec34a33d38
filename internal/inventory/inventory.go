// Package inventory tracks discovered devices and their last known state.
package inventory

import (
	"sort"
	"sync"
	"time"

	"github.com/joshp123/thermohub/internal/thermostat"
)

// Device is a snapshot of one discovered thermostat.
type Device struct {
	thermostat.DeviceDescriptor
	State     *thermostat.State `json:"state,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	ErrorAt   time.Time         `json:"error_at,omitempty"`
}

type Inventory struct {
	mu      sync.RWMutex
	devices map[thermostat.DeviceKey]*Device
}

func New() *Inventory {
	return &Inventory{devices: make(map[thermostat.DeviceKey]*Device)}
}

// Register adds a device and reports whether it was new. Re-discovering a
// known device leaves its record untouched.
func (i *Inventory) Register(desc thermostat.DeviceDescriptor) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.devices[desc.Key]; ok {
		return false
	}
	d := &Device{DeviceDescriptor: cloneDescriptor(desc)}
	i.devices[desc.Key] = d
	return true
}

// RemoveAccount drops every device owned by the account and returns their keys.
func (i *Inventory) RemoveAccount(accountID string) []thermostat.DeviceKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	var removed []thermostat.DeviceKey
	for key, d := range i.devices {
		if d.AccountID == accountID {
			delete(i.devices, key)
			removed = append(removed, key)
		}
	}
	sortKeys(removed)
	return removed
}

// SetState replaces the device's state wholesale and clears its last error.
// It returns false if the device is unknown.
func (i *Inventory) SetState(key thermostat.DeviceKey, state thermostat.State) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.devices[key]
	if !ok {
		return false
	}
	next := state.Clone()
	d.State = &next
	d.LastError = ""
	d.ErrorAt = time.Time{}
	return true
}

// RecordError notes a failed refresh; the last known state is kept.
func (i *Inventory) RecordError(key thermostat.DeviceKey, err error, at time.Time) {
	if err == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if d, ok := i.devices[key]; ok {
		d.LastError = err.Error()
		d.ErrorAt = at
	}
}

func (i *Inventory) Get(key thermostat.DeviceKey) (Device, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.devices[key]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

func (i *Inventory) Contains(key thermostat.DeviceKey) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.devices[key]
	return ok
}

// Snapshot returns copies of every device sorted by key.
func (i *Inventory) Snapshot() []Device {
	i.mu.RLock()
	out := make([]Device, 0, len(i.devices))
	for _, d := range i.devices {
		out = append(out, d.clone())
	}
	i.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Key.String() < out[b].Key.String() })
	return out
}

func (i *Inventory) Keys() []thermostat.DeviceKey {
	i.mu.RLock()
	out := make([]thermostat.DeviceKey, 0, len(i.devices))
	for key := range i.devices {
		out = append(out, key)
	}
	i.mu.RUnlock()
	sortKeys(out)
	return out
}

func (d *Device) clone() Device {
	out := Device{
		DeviceDescriptor: cloneDescriptor(d.DeviceDescriptor),
		LastError:        d.LastError,
		ErrorAt:          d.ErrorAt,
	}
	if d.State != nil {
		state := d.State.Clone()
		out.State = &state
	}
	return out
}

func cloneDescriptor(desc thermostat.DeviceDescriptor) thermostat.DeviceDescriptor {
	desc.SupportedModes = append([]thermostat.Mode(nil), desc.SupportedModes...)
	desc.SupportedFanModes = append([]thermostat.FanMode(nil), desc.SupportedFanModes...)
	return desc
}

func sortKeys(keys []thermostat.DeviceKey) {
	sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })
}
