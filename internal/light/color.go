package light

import (
	"math"

	"github.com/chaz8081/gomipow/internal/ble/protocol"
)

// Color temperature range of the bulbs in Kelvin.
const (
	MinKelvin = 1500
	MaxKelvin = 6500
)

// Kelvin maps a temperature in [0,1] onto the bulb range. The scale is
// inverted: 0 is MaxKelvin (coolest), 1 is MinKelvin (warmest).
func Kelvin(temperature float64) float64 {
	return (1-temperature)*(MaxKelvin-MinKelvin) + MinKelvin
}

// TemperatureFromKelvin is the inverse of Kelvin, clamped to [0,1].
func TemperatureFromKelvin(k float64) float64 {
	return clampUnit(1 - (k-MinKelvin)/(MaxKelvin-MinKelvin))
}

// hsvToRGB converts h in degrees, s and v in percent to 8-bit channels.
// Each channel is rounded to the nearest integer.
func hsvToRGB(h, s, v float64) protocol.RGB {
	h /= 60
	s /= 100
	v /= 100

	sector := int(math.Floor(h)) % 6
	f := h - math.Floor(h)
	p := 255 * v * (1 - s)
	q := 255 * v * (1 - s*f)
	t := 255 * v * (1 - s*(1-f))
	v *= 255

	var r, g, b float64
	switch sector {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return protocol.RGB{R: roundChannel(r), G: roundChannel(g), B: roundChannel(b)}
}

// kelvinToRGB approximates the color of a black body at k Kelvin using
// Tanner Helland's curve fit. Channels are clamped to [0,255] and rounded.
func kelvinToRGB(k float64) [3]float64 {
	t := k / 100

	var r, g, b float64
	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}

	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	return [3]float64{
		math.Round(clamp(r, 0, 255)),
		math.Round(clamp(g, 0, 255)),
		math.Round(clamp(b, 0, 255)),
	}
}

// scaleChannel multiplies c by brightness and truncates to a byte.
func scaleChannel(c, brightness float64) uint8 {
	return uint8(clamp(math.Trunc(c*brightness), 0, 255))
}

func roundChannel(c float64) uint8 {
	return uint8(clamp(math.Round(c), 0, 255))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampUnit(v float64) float64 {
	return clamp(v, 0, 1)
}
