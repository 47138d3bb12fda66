package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chaz8081/gomipow/internal/ble"
)

// DevicePersister saves and restores paired device records.
type DevicePersister interface {
	SaveDevice(ctx context.Context, rec ble.DeviceRecord) error
	DeleteDevice(ctx context.Context, id string) error
	LoadDevices(ctx context.Context) ([]ble.DeviceRecord, error)
}

// Registry holds the paired bulbs, keyed by device id.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]ble.DeviceRecord
	persist DevicePersister
}

// NewRegistry creates an empty Registry. p may be nil.
func NewRegistry(p DevicePersister) *Registry {
	return &Registry{
		devices: make(map[string]ble.DeviceRecord),
		persist: p,
	}
}

// Load replaces the registry content with the persisted records.
func (r *Registry) Load(ctx context.Context) ([]ble.DeviceRecord, error) {
	if r.persist == nil {
		return nil, nil
	}
	recs, err := r.persist.LoadDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]ble.DeviceRecord, len(recs))
	for _, rec := range recs {
		r.devices[rec.ID] = rec
	}
	slog.Info("[STORE] devices loaded", "count", len(recs))
	return recs, nil
}

// Add registers rec, replacing any record with the same id.
func (r *Registry) Add(ctx context.Context, rec ble.DeviceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("store: device id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.SaveDevice(ctx, rec); err != nil {
			return fmt.Errorf("store: save device %s: %w", rec.ID, err)
		}
	}
	r.devices[rec.ID] = rec
	return nil
}

// Remove unregisters the device.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if r.persist != nil {
		if err := r.persist.DeleteDevice(ctx, id); err != nil {
			return fmt.Errorf("store: delete device %s: %w", id, err)
		}
	}
	delete(r.devices, id)
	return nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (ble.DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[id]
	return rec, ok
}

// List returns every record ordered by id.
func (r *Registry) List() []ble.DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ble.DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Known returns the set of registered ids.
func (r *Registry) Known() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	known := make(map[string]bool, len(r.devices))
	for id := range r.devices {
		known[id] = true
	}
	return known
}
