package ble

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Family is one product line of bulb.
type Family struct {
	// Key identifies the family in device records. Single-family catalogs
	// use an empty key.
	Key            string
	ControlService string // 16-bit UUID of the light control service
	SerialPrefix   string // leading bytes of the manufacturer serial number
}

// Catalog maps manufacturer serial numbers to bulb families.
type Catalog struct {
	manufacturerService string
	serialChar          string
	families            []Family
}

// Built-in catalog profiles.
const (
	ProfileFlic  = "flic"
	ProfileMipow = "mipow"
)

// DefaultMipowControlService is the control service of Mipow Playbulbs.
const DefaultMipowControlService = "ff02"

// NewCatalog builds a catalog. Families are matched in the given order, and a
// serial prefix may not be a prefix of another family's, so that a serial
// number never matches two families.
func NewCatalog(manufacturerService, serialChar string, families []Family) (*Catalog, error) {
	if err := validateShortUUID(manufacturerService); err != nil {
		return nil, fmt.Errorf("ble: manufacturer service: %w", err)
	}
	if err := validateShortUUID(serialChar); err != nil {
		return nil, fmt.Errorf("ble: serial characteristic: %w", err)
	}
	if len(families) == 0 {
		return nil, fmt.Errorf("ble: catalog needs at least one family")
	}
	for i, f := range families {
		if err := validateShortUUID(f.ControlService); err != nil {
			return nil, fmt.Errorf("ble: family %q control service: %w", f.Key, err)
		}
		if f.SerialPrefix == "" {
			return nil, fmt.Errorf("ble: family %q has an empty serial prefix", f.Key)
		}
		for _, other := range families[:i] {
			if other.Key == f.Key {
				return nil, fmt.Errorf("ble: duplicate family key %q", f.Key)
			}
			if hasEitherPrefix(other.SerialPrefix, f.SerialPrefix) {
				return nil, fmt.Errorf("ble: serial prefixes %q and %q overlap", other.SerialPrefix, f.SerialPrefix)
			}
		}
	}
	return &Catalog{
		manufacturerService: manufacturerService,
		serialChar:          serialChar,
		families:            append([]Family(nil), families...),
	}, nil
}

// FlicCatalog returns the multi-family catalog of Flic-branded bulbs.
func FlicCatalog() *Catalog {
	c, err := NewCatalog("80e4", "da70", []Family{
		{Key: "BTL201", ControlService: "ff06", SerialPrefix: "BTL201"},
		{Key: "BTL300", ControlService: "ff02", SerialPrefix: "BTL300"},
		{Key: "BTL301W", ControlService: "ff08", SerialPrefix: "BTL301W"},
		{Key: "MESH GARDEN", ControlService: "fe03", SerialPrefix: "MESH GARDEN"},
		{Key: "BTL200", ControlService: "ff01", SerialPrefix: "BTL200"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// MipowCatalog returns the single-family Mipow catalog using the given
// control service.
func MipowCatalog(controlService string) (*Catalog, error) {
	return NewCatalog("1800", "2a00", []Family{
		{ControlService: controlService, SerialPrefix: "F0"},
	})
}

// CatalogForProfile returns the named built-in catalog.
func CatalogForProfile(profile, controlService string) (*Catalog, error) {
	switch profile {
	case ProfileFlic:
		return FlicCatalog(), nil
	case ProfileMipow:
		if controlService == "" {
			controlService = DefaultMipowControlService
		}
		return MipowCatalog(controlService)
	default:
		return nil, fmt.Errorf("ble: unknown catalog profile %q", profile)
	}
}

// ManufacturerService returns the service holding the serial characteristic.
func (c *Catalog) ManufacturerService() string { return c.manufacturerService }

// SerialChar returns the serial number characteristic.
func (c *Catalog) SerialChar() string { return c.serialChar }

// Families returns the families in match order.
func (c *Catalog) Families() []Family {
	return append([]Family(nil), c.families...)
}

// Resolve returns the first family whose serial prefix starts serial.
func (c *Catalog) Resolve(serial []byte) (Family, bool) {
	for _, f := range c.families {
		if bytes.HasPrefix(serial, []byte(f.SerialPrefix)) {
			return f, true
		}
	}
	return Family{}, false
}

// Family looks a family up by key.
func (c *Catalog) Family(key string) (Family, bool) {
	for _, f := range c.families {
		if f.Key == key {
			return f, true
		}
	}
	return Family{}, false
}

// ControlService returns the control service of the family with the given key.
func (c *Catalog) ControlService(key string) (string, bool) {
	f, ok := c.Family(key)
	return f.ControlService, ok
}

// ControlServices returns the distinct control services in catalog order.
func (c *Catalog) ControlServices() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range c.families {
		if !seen[f.ControlService] {
			seen[f.ControlService] = true
			out = append(out, f.ControlService)
		}
	}
	return out
}

// advertisesControlService reports whether any advertised service belongs
// to the catalog.
func (c *Catalog) advertisesControlService(serviceUUIDs []string) bool {
	for _, s := range serviceUUIDs {
		for _, f := range c.families {
			if s == f.ControlService {
				return true
			}
		}
	}
	return false
}

func hasEitherPrefix(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func validateShortUUID(s string) error {
	if len(s) != 4 {
		return fmt.Errorf("%q is not a 16-bit UUID", s)
	}
	if _, err := strconv.ParseUint(s, 16, 16); err != nil {
		return fmt.Errorf("%q is not a 16-bit UUID", s)
	}
	return nil
}
