package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/light"
)

func TestColorEffects(t *testing.T) {
	tests := []struct {
		name   string
		run    func(*Driver) (light.State, error)
		effect light.Effect
	}{
		{"flash", func(d *Driver) (light.State, error) {
			return d.Flash(context.Background(), testID, "#FF8000", 0.25)
		}, light.EffectFlash},
		{"pulse", func(d *Driver) (light.State, error) {
			return d.Pulse(context.Background(), testID, "ff8000", 0.25)
		}, light.EffectPulse},
		{"candle", func(d *Driver) (light.State, error) {
			return d.Candle(context.Background(), testID, "#ff8000", 0.25)
		}, light.EffectCandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			st, err := tt.run(f.drv)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if st.Effect != tt.effect || st.EffectColor != "ff8000" || *st.EffectSpeed != 0.25 {
				t.Errorf("state = %+v", st)
			}
			if c := f.disp.last(t); c.kind != "effect" || c.state.Effect != tt.effect {
				t.Errorf("dispatch = %+v", c)
			}
		})
	}
}

func TestRainbowEffectsUseBlack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.drv.Rainbow(ctx, testID, 0.5)
	if err != nil {
		t.Fatalf("Rainbow() error = %v", err)
	}
	if st.Effect != light.EffectRainbow || st.EffectColor != "000000" {
		t.Errorf("Rainbow() state = %+v", st)
	}

	st, err = f.drv.RainbowFade(ctx, testID, 0)
	if err != nil {
		t.Fatalf("RainbowFade() error = %v", err)
	}
	if st.Effect != light.EffectRainbowFade || st.EffectColor != "000000" || *st.EffectSpeed != 0 {
		t.Errorf("RainbowFade() state = %+v", st)
	}

	st, err = f.drv.RunEffect(ctx, testID, light.EffectRainbow, "#123456", 1)
	if err != nil {
		t.Fatalf("RunEffect() error = %v", err)
	}
	if st.EffectColor != "000000" {
		t.Errorf("RunEffect(rainbow) color = %q, want 000000", st.EffectColor)
	}
}

func TestStopEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.drv.Pulse(ctx, testID, "00ff00", 0.5); err != nil {
		t.Fatalf("Pulse() error = %v", err)
	}

	st, err := f.drv.StopEffect(ctx, testID)
	if err != nil {
		t.Fatalf("StopEffect() error = %v", err)
	}
	if st.Effect != light.EffectNone {
		t.Errorf("effect = %q after stop", st.Effect)
	}
	if c := f.disp.last(t); c.kind != "color" {
		t.Errorf("dispatch kind = %s, want color", c.kind)
	}

	st, err = f.drv.RunEffect(ctx, testID, light.EffectNone, "", 0)
	if err != nil || st.Effect != light.EffectNone {
		t.Errorf("RunEffect(none) = %+v, %v", st, err)
	}
}

func TestEffectValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.drv.Flash(ctx, testID, "#zzz", 0.5); !errors.Is(err, light.ErrInvalidState) {
		t.Errorf("Flash(bad color) error = %v, want ErrInvalidState", err)
	}
	if _, err := f.drv.Pulse(ctx, testID, "ffffff", 2); !errors.Is(err, light.ErrInvalidState) {
		t.Errorf("Pulse(speed 2) error = %v, want ErrInvalidState", err)
	}
	if _, err := f.drv.RunEffect(ctx, testID, "strobe", "ffffff", 0.5); !errors.Is(err, light.ErrInvalidState) {
		t.Errorf("RunEffect(strobe) error = %v, want ErrInvalidState", err)
	}
	if f.disp.count() != 0 {
		t.Errorf("dispatch calls = %d, want 0", f.disp.count())
	}
	if _, err := f.drv.Rainbow(ctx, "ZZ", 0.5); !errors.Is(err, ble.ErrNotFound) {
		t.Errorf("Rainbow(unknown) error = %v, want ErrNotFound", err)
	}
}
