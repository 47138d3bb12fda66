package ble

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestFlicCatalogResolve(t *testing.T) {
	c := FlicCatalog()

	tests := []struct {
		serial  string
		wantKey string
		wantSvc string
		wantOK  bool
	}{
		{"BTL201-0042", "BTL201", "ff06", true},
		{"BTL300", "BTL300", "ff02", true},
		{"BTL301W rev2", "BTL301W", "ff08", true},
		{"MESH GARDEN 1", "MESH GARDEN", "fe03", true},
		{"BTL200x", "BTL200", "ff01", true},
		{"XBTL200", "", "", false},
		{"BTL", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.serial, func(t *testing.T) {
			f, ok := c.Resolve([]byte(tt.serial))
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.serial, ok, tt.wantOK)
			}
			if f.Key != tt.wantKey || f.ControlService != tt.wantSvc {
				t.Errorf("Resolve(%q) = %+v, want key %q service %q", tt.serial, f, tt.wantKey, tt.wantSvc)
			}
		})
	}
}

func TestMipowCatalog(t *testing.T) {
	c, err := CatalogForProfile(ProfileMipow, "")
	if err != nil {
		t.Fatalf("CatalogForProfile() error = %v", err)
	}
	if c.ManufacturerService() != "1800" || c.SerialChar() != "2a00" {
		t.Errorf("manufacturer = %s/%s, want 1800/2a00", c.ManufacturerService(), c.SerialChar())
	}
	f, ok := c.Resolve([]byte("F0:12:34"))
	if !ok || f.Key != "" || f.ControlService != DefaultMipowControlService {
		t.Errorf("Resolve() = %+v, %v", f, ok)
	}
	svc, ok := c.ControlService("")
	if !ok || svc != DefaultMipowControlService {
		t.Errorf("ControlService(\"\") = %q, %v", svc, ok)
	}
}

func TestCatalogForUnknownProfile(t *testing.T) {
	if _, err := CatalogForProfile("hue", ""); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestNewCatalogRejectsOverlappingPrefixes(t *testing.T) {
	_, err := NewCatalog("80e4", "da70", []Family{
		{Key: "A", ControlService: "ff01", SerialPrefix: "BTL30"},
		{Key: "B", ControlService: "ff02", SerialPrefix: "BTL301"},
	})
	if err == nil {
		t.Error("expected error for overlapping serial prefixes")
	}
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name     string
		manuf    string
		serial   string
		families []Family
	}{
		{"no families", "80e4", "da70", nil},
		{"bad manufacturer", "80e4x", "da70", []Family{{Key: "A", ControlService: "ff01", SerialPrefix: "A"}}},
		{"bad control service", "80e4", "da70", []Family{{Key: "A", ControlService: "zz01", SerialPrefix: "A"}}},
		{"empty prefix", "80e4", "da70", []Family{{Key: "A", ControlService: "ff01"}}},
		{"duplicate key", "80e4", "da70", []Family{
			{Key: "A", ControlService: "ff01", SerialPrefix: "A1"},
			{Key: "A", ControlService: "ff02", SerialPrefix: "B1"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCatalog(tt.manuf, tt.serial, tt.families); err == nil {
				t.Error("NewCatalog() should fail")
			}
		})
	}
}

func TestControlServicesDistinctInOrder(t *testing.T) {
	c, err := NewCatalog("80e4", "da70", []Family{
		{Key: "A", ControlService: "ff02", SerialPrefix: "A"},
		{Key: "B", ControlService: "ff01", SerialPrefix: "B"},
		{Key: "C", ControlService: "ff02", SerialPrefix: "C"},
	})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	got := c.ControlServices()
	if len(got) != 2 || got[0] != "ff02" || got[1] != "ff01" {
		t.Errorf("ControlServices() = %v, want [ff02 ff01]", got)
	}
}

func TestParseShortUUID(t *testing.T) {
	got, err := parseUUID("fffc")
	if err != nil {
		t.Fatalf("parseUUID() error = %v", err)
	}
	if got != bluetooth.New16BitUUID(0xfffc) {
		t.Errorf("parseUUID(fffc) = %s", got)
	}
	if _, err := parseUUID("xyzw"); err == nil {
		t.Error("parseUUID(xyzw) should fail")
	}
}
