package driver

import (
	"context"
	"fmt"

	"github.com/chaz8081/gomipow/internal/light"
)

// rainbowColor is the color sent with effects that ignore it.
const rainbowColor = "000000"

// Flash starts the flash effect with the given color ("#rrggbb" or "rrggbb").
func (d *Driver) Flash(ctx context.Context, id, color string, speed float64) (light.State, error) {
	return d.startEffect(ctx, id, light.EffectFlash, color, speed)
}

// Pulse starts the pulse effect.
func (d *Driver) Pulse(ctx context.Context, id, color string, speed float64) (light.State, error) {
	return d.startEffect(ctx, id, light.EffectPulse, color, speed)
}

// Candle starts the candle effect.
func (d *Driver) Candle(ctx context.Context, id, color string, speed float64) (light.State, error) {
	return d.startEffect(ctx, id, light.EffectCandle, color, speed)
}

// Rainbow starts the rainbow effect.
func (d *Driver) Rainbow(ctx context.Context, id string, speed float64) (light.State, error) {
	return d.startEffect(ctx, id, light.EffectRainbow, rainbowColor, speed)
}

// RainbowFade starts the rainbow fade effect.
func (d *Driver) RainbowFade(ctx context.Context, id string, speed float64) (light.State, error) {
	return d.startEffect(ctx, id, light.EffectRainbowFade, rainbowColor, speed)
}

// StopEffect clears the effect and restores the steady color.
func (d *Driver) StopEffect(ctx context.Context, id string) (light.State, error) {
	rec, err := d.Device(id)
	if err != nil {
		return light.State{}, err
	}
	st := d.states.Merge(id, light.Patch{Effect: light.Ptr(light.EffectNone)})
	return st, d.send(ctx, rec, d.dispatcher.SendColor)
}

// RunEffect starts effect e by name. Rainbow effects ignore color.
func (d *Driver) RunEffect(ctx context.Context, id string, e light.Effect, color string, speed float64) (light.State, error) {
	if e == light.EffectNone {
		return d.StopEffect(ctx, id)
	}
	if !e.NeedsColor() {
		color = rainbowColor
	}
	return d.startEffect(ctx, id, e, color, speed)
}

func (d *Driver) startEffect(ctx context.Context, id string, e light.Effect, color string, speed float64) (light.State, error) {
	rec, err := d.Device(id)
	if err != nil {
		return light.State{}, err
	}
	color = normalizeColor(color)
	p := light.Patch{
		Effect:      &e,
		EffectColor: &color,
		EffectSpeed: &speed,
	}
	if err := validatePatch(p); err != nil {
		return d.states.Get(id), fmt.Errorf("driver: %s: %w", e, err)
	}
	st := d.states.Merge(id, p)
	return st, d.send(ctx, rec, d.dispatcher.SendEffect)
}
