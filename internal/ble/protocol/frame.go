// Package protocol implements the Mipow/Flic GATT frame layouts: the 4-byte
// steady color frame and the 8-byte effect frame.
package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// GATT characteristics shared by every supported bulb family.
const (
	NameCharUUID   = "ffff"
	ColorCharUUID  = "fffc"
	EffectCharUUID = "fffb"
)

// Frame sizes in bytes.
const (
	ColorFrameLen  = 4
	EffectFrameLen = 8
)

// header is the leading byte of both frames. It is always zero.
const header = 0x00

// ErrHeader is returned when a frame does not start with the zero header byte.
var ErrHeader = errors.New("protocol: frame header must be 0x00")

// RGB is a color as sent on the wire.
type RGB struct {
	R, G, B uint8
}

// EffectFrame is the decoded form of an effect command.
type EffectFrame struct {
	Color RGB
	Code  uint8
	Speed uint8 // 0xff fastest, 0x00 slowest
}

// MarshalColorFrame encodes a steady color command.
//
//	byte 0: header (0x00)
//	byte 1..3: red, green, blue
func MarshalColorFrame(c RGB) [ColorFrameLen]byte {
	return [ColorFrameLen]byte{header, c.R, c.G, c.B}
}

// MarshalEffectFrame encodes an effect command.
//
//	byte 0: header (0x00)
//	byte 1..3: red, green, blue
//	byte 4: effect code
//	byte 5: 0x00
//	byte 6: speed
//	byte 7: 0x00
func MarshalEffectFrame(f EffectFrame) [EffectFrameLen]byte {
	return [EffectFrameLen]byte{header, f.Color.R, f.Color.G, f.Color.B, f.Code, 0x00, f.Speed, 0x00}
}

// UnmarshalColorFrame decodes a steady color command.
func UnmarshalColorFrame(data []byte) (RGB, error) {
	if len(data) != ColorFrameLen {
		return RGB{}, fmt.Errorf("protocol: color frame must be %d bytes, got %d", ColorFrameLen, len(data))
	}
	if data[0] != header {
		return RGB{}, ErrHeader
	}
	return RGB{R: data[1], G: data[2], B: data[3]}, nil
}

// UnmarshalEffectFrame decodes an effect command.
func UnmarshalEffectFrame(data []byte) (EffectFrame, error) {
	if len(data) != EffectFrameLen {
		return EffectFrame{}, fmt.Errorf("protocol: effect frame must be %d bytes, got %d", EffectFrameLen, len(data))
	}
	if data[0] != header {
		return EffectFrame{}, ErrHeader
	}
	return EffectFrame{
		Color: RGB{R: data[1], G: data[2], B: data[3]},
		Code:  data[4],
		Speed: data[6],
	}, nil
}

// String renders the color as six lowercase hex digits.
func (c RGB) String() string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}

// ParseRGB parses six hex digits, with or without a leading '#'.
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("protocol: color %q must be 6 hex digits", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return RGB{}, fmt.Errorf("protocol: color %q: %w", s, err)
	}
	return RGB{R: b[0], G: b[1], B: b[2]}, nil
}
