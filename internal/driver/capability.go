package driver

import (
	"context"
	"fmt"

	"github.com/chaz8081/gomipow/internal/light"
)

// Capability names a single settable field of a bulb.
type Capability string

const (
	CapOnOff       Capability = "onoff"
	CapDim         Capability = "dim"
	CapHue         Capability = "light_hue"
	CapSaturation  Capability = "light_saturation"
	CapTemperature Capability = "light_temperature"
	CapMode        Capability = "light_mode"
)

// Capabilities lists every capability a bulb exposes.
var Capabilities = []Capability{CapOnOff, CapDim, CapHue, CapSaturation, CapTemperature, CapMode}

// Get returns the cached value of one capability: a bool for onoff, a
// light.Mode for light_mode and a float64 otherwise.
func (d *Driver) Get(id string, c Capability) (any, error) {
	st, err := d.State(id)
	if err != nil {
		return nil, err
	}
	switch c {
	case CapOnOff:
		return st.OnOff, nil
	case CapDim:
		return st.Brightness, nil
	case CapHue:
		return st.Hue, nil
	case CapSaturation:
		return st.Saturation, nil
	case CapTemperature:
		return st.Temperature, nil
	case CapMode:
		return st.Mode, nil
	default:
		return nil, fmt.Errorf("driver: unknown capability %q", c)
	}
}

// Set merges one capability value and writes the color frame. Setting dim,
// hue, saturation or temperature also switches the bulb on.
func (d *Driver) Set(ctx context.Context, id string, c Capability, value any) (light.State, error) {
	p, err := capabilityPatch(c, value)
	if err != nil {
		return light.State{}, err
	}
	rec, err := d.Device(id)
	if err != nil {
		return light.State{}, err
	}
	if err := validatePatch(p); err != nil {
		return d.states.Get(id), err
	}
	st := d.states.Merge(id, p)
	return st, d.send(ctx, rec, d.dispatcher.SendColor)
}

func capabilityPatch(c Capability, value any) (light.Patch, error) {
	var p light.Patch
	switch c {
	case CapOnOff:
		v, ok := value.(bool)
		if !ok {
			return p, typeError(c, value)
		}
		p.OnOff = &v
		return p, nil
	case CapMode:
		var m light.Mode
		switch v := value.(type) {
		case light.Mode:
			m = v
		case string:
			m = light.Mode(v)
		default:
			return p, typeError(c, value)
		}
		p.Mode = &m
		return p, nil
	}

	v, ok := toFloat(value)
	if !ok {
		return p, typeError(c, value)
	}
	switch c {
	case CapDim:
		p.Brightness = &v
	case CapHue:
		p.Hue = &v
	case CapSaturation:
		p.Saturation = &v
	case CapTemperature:
		p.Temperature = &v
	default:
		return p, fmt.Errorf("driver: unknown capability %q", c)
	}
	p.OnOff = light.Ptr(true)
	return p, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func typeError(c Capability, v any) error {
	return fmt.Errorf("%w: %s does not accept %T", light.ErrInvalidState, c, v)
}
