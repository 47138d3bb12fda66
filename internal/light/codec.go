package light

import (
	"fmt"
	"math"

	"github.com/chaz8081/gomipow/internal/ble/protocol"
)

// rainbowColor is sent in the color bytes of rainbow effects.
const rainbowColor = "000000"

// EncodeColor builds the steady color frame for s.
//
// A bulb that is off gets an all-zero frame. In color mode the HSV triple is
// (hue*360, saturation*50+50, brightness*100); the saturation floor of 50%
// matches the bulb's calibration. In temperature mode the black-body color
// of Kelvin(temperature) is scaled by brightness.
func EncodeColor(s State) ([protocol.ColorFrameLen]byte, error) {
	if !s.OnOff {
		return protocol.MarshalColorFrame(protocol.RGB{}), nil
	}
	c, err := steadyRGB(s)
	if err != nil {
		return [protocol.ColorFrameLen]byte{}, err
	}
	return protocol.MarshalColorFrame(c), nil
}

// EncodeEffect builds the effect frame for s.
func EncodeEffect(s State) ([protocol.EffectFrameLen]byte, error) {
	var zero [protocol.EffectFrameLen]byte

	code, ok := s.Effect.Code()
	if !ok {
		return zero, fmt.Errorf("%w: unknown effect %q", ErrInvalidState, s.Effect)
	}
	if s.EffectSpeed == nil {
		return zero, fmt.Errorf("%w: effect %s requires a speed", ErrInvalidState, s.Effect)
	}
	speed := *s.EffectSpeed
	if !inUnit(speed) {
		return zero, fmt.Errorf("%w: effect speed %v out of range", ErrInvalidState, speed)
	}

	hex := s.EffectColor
	if !s.Effect.NeedsColor() && hex == "" {
		hex = rainbowColor
	}
	if hex == "" {
		return zero, fmt.Errorf("%w: effect %s requires a color", ErrInvalidState, s.Effect)
	}
	c, err := protocol.ParseRGB(hex)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	return protocol.MarshalEffectFrame(protocol.EffectFrame{
		Color: c,
		Code:  code,
		Speed: EffectSpeedByte(speed),
	}), nil
}

// Encode returns the characteristic and frame that apply s: the effect frame
// when an effect is set, the color frame otherwise.
func Encode(s State) (string, []byte, error) {
	if s.Effect != EffectNone {
		f, err := EncodeEffect(s)
		if err != nil {
			return "", nil, err
		}
		return protocol.EffectCharUUID, f[:], nil
	}
	f, err := EncodeColor(s)
	if err != nil {
		return "", nil, err
	}
	return protocol.ColorCharUUID, f[:], nil
}

// EffectSpeedByte maps a speed in [0,1] to the frame byte. The scale is
// inverted: 0 is 0xff, 1 is 0x00.
func EffectSpeedByte(speed float64) uint8 {
	return uint8(clamp(math.Round((1-speed)*255), 0, 255))
}

// DecodeEffectSpeed is the inverse of EffectSpeedByte.
func DecodeEffectSpeed(b uint8) float64 {
	return 1 - float64(b)/255
}

// EffectFromCode returns the effect with the given frame code.
func EffectFromCode(code uint8) (Effect, bool) {
	for e, c := range effectCodes {
		if c == code {
			return e, true
		}
	}
	return EffectNone, false
}

// ColorHex renders the steady color of s (ignoring on/off) as six hex digits.
func ColorHex(s State) (string, error) {
	c, err := steadyRGB(s)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

func steadyRGB(s State) (protocol.RGB, error) {
	if !inUnit(s.Brightness) {
		return protocol.RGB{}, fmt.Errorf("%w: brightness %v out of range", ErrInvalidState, s.Brightness)
	}
	switch s.Mode {
	case ModeColor:
		if !inUnit(s.Hue) || !inUnit(s.Saturation) {
			return protocol.RGB{}, fmt.Errorf("%w: hue %v / saturation %v out of range", ErrInvalidState, s.Hue, s.Saturation)
		}
		return hsvToRGB(s.Hue*360, s.Saturation*50+50, s.Brightness*100), nil
	case ModeTemperature:
		if !inUnit(s.Temperature) {
			return protocol.RGB{}, fmt.Errorf("%w: temperature %v out of range", ErrInvalidState, s.Temperature)
		}
		rgb := kelvinToRGB(Kelvin(s.Temperature))
		return protocol.RGB{
			R: scaleChannel(rgb[0], s.Brightness),
			G: scaleChannel(rgb[1], s.Brightness),
			B: scaleChannel(rgb[2], s.Brightness),
		}, nil
	default:
		return protocol.RGB{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidState, s.Mode)
	}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
