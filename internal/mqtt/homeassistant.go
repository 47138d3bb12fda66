package mqtt

import (
	"math"
	"strings"

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/light"
)

// Home Assistant JSON schema values.
const (
	stateOn         = "ON"
	stateOff        = "OFF"
	effectNone      = "none"
	colorModeHS     = "hs"
	colorModeTemp   = "color_temp"
	brightnessScale = 255
	manufacturer    = "Mipow"
)

// Mired bounds of the bulb's white range (6500K and 1500K).
var (
	minMireds = kelvinToMireds(light.MaxKelvin)
	maxMireds = kelvinToMireds(light.MinKelvin)
)

// lightDiscovery is the retained Home Assistant discovery document of one bulb.
type lightDiscovery struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	CommandTopic        string          `json:"command_topic"`
	StateTopic          string          `json:"state_topic"`
	AvailabilityTopic   string          `json:"availability_topic,omitempty"`
	Schema              string          `json:"schema"`
	Brightness          bool            `json:"brightness"`
	SupportedColorModes []string        `json:"supported_color_modes"`
	MinMireds           int             `json:"min_mireds"`
	MaxMireds           int             `json:"max_mireds"`
	Effect              bool            `json:"effect"`
	EffectList          []string        `json:"effect_list"`
	Device              discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
}

// hsColor is the hs color object: hue in degrees, saturation in percent.
type hsColor struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
}

// lightState is published on the state topic.
type lightState struct {
	State      string   `json:"state"`
	Brightness int      `json:"brightness"`
	ColorMode  string   `json:"color_mode"`
	Color      *hsColor `json:"color,omitempty"`
	ColorTemp  *int     `json:"color_temp,omitempty"`
	Effect     string   `json:"effect"`
}

// lightCommand is received on the command topic. Absent fields are nil.
type lightCommand struct {
	State      *string  `json:"state"`
	Brightness *int     `json:"brightness"`
	Color      *hsColor `json:"color"`
	ColorTemp  *int     `json:"color_temp"`
	Effect     *string  `json:"effect"`
}

// actionCommand is received on the action topic.
type actionCommand struct {
	Action string   `json:"action"`
	Color  string   `json:"color"`
	Speed  *float64 `json:"speed"`
}

func newLightDiscovery(rec ble.DeviceRecord, t topics) lightDiscovery {
	obj := objectID(rec.ID)
	name := rec.Name
	if name == "" {
		name = rec.ID
	}
	effects := make([]string, 0, len(light.Effects))
	for _, e := range light.Effects {
		effects = append(effects, string(e))
	}
	return lightDiscovery{
		Name:                name,
		UniqueID:            "gomipow_" + obj,
		CommandTopic:        t.lightSet(obj),
		StateTopic:          t.lightState(obj),
		AvailabilityTopic:   t.status(),
		Schema:              "json",
		Brightness:          true,
		SupportedColorModes: []string{colorModeHS, colorModeTemp},
		MinMireds:           minMireds,
		MaxMireds:           maxMireds,
		Effect:              true,
		EffectList:          effects,
		Device: discoveryDevice{
			Identifiers:  []string{rec.ID},
			Name:         name,
			Manufacturer: manufacturer,
			Model:        rec.Family,
		},
	}
}

// toLightState renders s in the Home Assistant schema.
func toLightState(s light.State) lightState {
	out := lightState{
		State:      stateOff,
		Brightness: int(math.Round(s.Brightness * brightnessScale)),
		Effect:     effectNone,
	}
	if s.OnOff {
		out.State = stateOn
	}
	if s.Effect != light.EffectNone {
		out.Effect = string(s.Effect)
	}
	if s.Mode == light.ModeTemperature {
		m := kelvinToMireds(light.Kelvin(s.Temperature))
		out.ColorMode = colorModeTemp
		out.ColorTemp = &m
	} else {
		out.ColorMode = colorModeHS
		out.Color = &hsColor{H: s.Hue * 360, S: s.Saturation * 100}
	}
	return out
}

// toPatch translates a command into a state patch. An effect other than
// "none" is returned separately because starting it needs the effect color
// and speed.
func (cmd lightCommand) toPatch() (light.Patch, *light.Effect) {
	var p light.Patch
	if cmd.State != nil {
		on := strings.EqualFold(*cmd.State, stateOn)
		p.OnOff = &on
	}
	if cmd.Brightness != nil {
		b := clampUnit(float64(*cmd.Brightness) / brightnessScale)
		p.Brightness = &b
		if p.OnOff == nil {
			p.OnOff = light.Ptr(b > 0)
		}
	}
	if cmd.Color != nil {
		h := clampUnit(cmd.Color.H / 360)
		s := clampUnit(cmd.Color.S / 100)
		p.Hue, p.Saturation = &h, &s
		p.Mode = light.Ptr(light.ModeColor)
	}
	if cmd.ColorTemp != nil && *cmd.ColorTemp > 0 {
		t := light.TemperatureFromKelvin(1e6 / float64(*cmd.ColorTemp))
		p.Temperature = &t
		p.Mode = light.Ptr(light.ModeTemperature)
	}
	if cmd.Effect != nil {
		if strings.EqualFold(*cmd.Effect, effectNone) || *cmd.Effect == "" {
			p.Effect = light.Ptr(light.EffectNone)
		} else {
			e := light.Effect(strings.ToLower(*cmd.Effect))
			return p, &e
		}
	}
	return p, nil
}

func kelvinToMireds(k float64) int {
	return int(math.Round(1e6 / k))
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// objectID turns a device id into a topic and entity safe token.
func objectID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
