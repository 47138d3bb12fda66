// Package driver is the host-facing surface of gomipow: pairing, device
// lifecycle, per-capability get/set and flow actions.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/ble/protocol"
	"github.com/chaz8081/gomipow/internal/light"
	"github.com/chaz8081/gomipow/internal/store"
)

// Dispatcher writes the current state of a bulb to the hardware.
type Dispatcher interface {
	SendColor(ctx context.Context, rec ble.DeviceRecord) error
	SendEffect(ctx context.Context, rec ble.DeviceRecord) error
	Forget(id string)
}

// Discoverer finds unpaired bulbs.
type Discoverer interface {
	Discover(ctx context.Context, known map[string]bool) ([]ble.DeviceRecord, error)
}

// Driver ties the registry, the state store and the dispatcher together.
type Driver struct {
	catalog    *ble.Catalog
	registry   *store.Registry
	states     *store.Store
	dispatcher Dispatcher
	discoverer Discoverer
}

// New creates a Driver.
func New(catalog *ble.Catalog, registry *store.Registry, states *store.Store, dispatcher Dispatcher, discoverer Discoverer) *Driver {
	return &Driver{
		catalog:    catalog,
		registry:   registry,
		states:     states,
		dispatcher: dispatcher,
		discoverer: discoverer,
	}
}

// Init loads the paired devices and restores their state.
func (d *Driver) Init(ctx context.Context) error {
	recs, err := d.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("driver: init: %w", err)
	}
	for _, rec := range recs {
		d.states.Init(rec.ID, light.DefaultState())
	}
	slog.Info("[DRIVER] initialized", "devices", len(recs))
	return nil
}

// Devices returns the paired devices.
func (d *Driver) Devices() []ble.DeviceRecord {
	return d.registry.List()
}

// Device returns the paired device with the given id.
func (d *Driver) Device(id string) (ble.DeviceRecord, error) {
	rec, ok := d.registry.Get(id)
	if !ok {
		return ble.DeviceRecord{}, fmt.Errorf("driver: %w: %s", ble.ErrNotFound, id)
	}
	return rec, nil
}

// State returns the cached state of a paired device.
func (d *Driver) State(id string) (light.State, error) {
	if _, err := d.Device(id); err != nil {
		return light.State{}, err
	}
	return d.states.Get(id), nil
}

// ListDevices runs discovery and returns bulbs that are not paired yet.
func (d *Driver) ListDevices(ctx context.Context) ([]ble.DeviceRecord, error) {
	recs, err := d.discoverer.Discover(ctx, d.registry.Known())
	if err != nil {
		return nil, fmt.Errorf("driver: list devices: %w", err)
	}
	slog.Info("[DRIVER] discovery finished", "found", len(recs))
	return recs, nil
}

// AddDevice pairs rec and initializes its state.
func (d *Driver) AddDevice(ctx context.Context, rec ble.DeviceRecord) (light.State, error) {
	if _, ok := d.catalog.Family(rec.Family); !ok {
		return light.State{}, fmt.Errorf("driver: add device %s: %w: %q", rec.ID, ble.ErrUnknownFamily, rec.Family)
	}
	if err := d.registry.Add(ctx, rec); err != nil {
		return light.State{}, fmt.Errorf("driver: add device: %w", err)
	}
	st := d.states.Init(rec.ID, light.DefaultState())
	slog.Info("[DRIVER] device added", "id", rec.ID, "family", rec.Family, "name", rec.Name)
	return st, nil
}

// Deleted unpairs the device and drops its state.
func (d *Driver) Deleted(ctx context.Context, id string) error {
	if err := d.registry.Remove(ctx, id); err != nil {
		if errors.Is(err, store.ErrUnknownDevice) {
			return fmt.Errorf("driver: %w: %s", ble.ErrNotFound, id)
		}
		return fmt.Errorf("driver: delete device: %w", err)
	}
	d.states.Remove(id)
	d.dispatcher.Forget(id)
	slog.Info("[DRIVER] device deleted", "id", id)
	return nil
}

// Apply merges p into the device state and writes the result: the effect
// frame when an effect is active, the color frame otherwise. The merged
// state is kept even when the write fails.
func (d *Driver) Apply(ctx context.Context, id string, p light.Patch) (light.State, error) {
	rec, err := d.Device(id)
	if err != nil {
		return light.State{}, err
	}
	if err := validatePatch(p); err != nil {
		return d.states.Get(id), err
	}
	if _, _, err := light.Encode(p.Apply(d.states.Get(id))); err != nil {
		return d.states.Get(id), err
	}
	st := d.states.Merge(id, p)
	if st.Effect != light.EffectNone {
		return st, d.send(ctx, rec, d.dispatcher.SendEffect)
	}
	return st, d.send(ctx, rec, d.dispatcher.SendColor)
}

func (d *Driver) send(ctx context.Context, rec ble.DeviceRecord, fn func(context.Context, ble.DeviceRecord) error) error {
	if err := fn(ctx, rec); err != nil {
		slog.Warn("[DRIVER] write failed", "id", rec.ID, "error", err)
		return fmt.Errorf("driver: %s: %w", rec.ID, err)
	}
	return nil
}

// validatePatch rejects values that could never be encoded, so they are not
// cached.
func validatePatch(p light.Patch) error {
	for name, v := range map[string]*float64{
		"hue":          p.Hue,
		"saturation":   p.Saturation,
		"brightness":   p.Brightness,
		"temperature":  p.Temperature,
		"effect speed": p.EffectSpeed,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%w: %s %v out of range", light.ErrInvalidState, name, *v)
		}
	}
	if p.Mode != nil && *p.Mode != light.ModeColor && *p.Mode != light.ModeTemperature {
		return fmt.Errorf("%w: mode %q", light.ErrInvalidState, *p.Mode)
	}
	if p.Effect != nil && *p.Effect != light.EffectNone {
		if _, ok := p.Effect.Code(); !ok {
			return fmt.Errorf("%w: effect %q", light.ErrInvalidState, *p.Effect)
		}
	}
	if p.EffectColor != nil {
		if _, err := protocol.ParseRGB(*p.EffectColor); err != nil {
			return fmt.Errorf("%w: effect color: %v", light.ErrInvalidState, err)
		}
	}
	return nil
}

// normalizeColor strips a leading "#" and lowercases the hex color.
func normalizeColor(c string) string {
	return strings.ToLower(strings.TrimPrefix(c, "#"))
}
