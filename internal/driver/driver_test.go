package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/light"
	"github.com/chaz8081/gomipow/internal/store"
)

var errWrite = errors.New("fake: write failed")

// fakeDispatcher records the frames it was asked to send along with the
// state at that moment.
type fakeDispatcher struct {
	mu     sync.Mutex
	states *store.Store
	calls  []dispatchCall
	err    error
	forgot []string
}

type dispatchCall struct {
	kind  string // "color" or "effect"
	id    string
	state light.State
}

func (f *fakeDispatcher) SendColor(_ context.Context, rec ble.DeviceRecord) error {
	return f.record("color", rec)
}

func (f *fakeDispatcher) SendEffect(_ context.Context, rec ble.DeviceRecord) error {
	return f.record("effect", rec)
}

func (f *fakeDispatcher) record(kind string, rec ble.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{kind: kind, id: rec.ID, state: f.states.Get(rec.ID)})
	return f.err
}

func (f *fakeDispatcher) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, id)
}

func (f *fakeDispatcher) last(t *testing.T) dispatchCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no dispatch calls")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDiscoverer struct {
	found []ble.DeviceRecord
	err   error
	known map[string]bool
}

func (f *fakeDiscoverer) Discover(_ context.Context, known map[string]bool) ([]ble.DeviceRecord, error) {
	f.known = known
	return f.found, f.err
}

type fixture struct {
	drv  *Driver
	reg  *store.Registry
	st   *store.Store
	disp *fakeDispatcher
	disc *fakeDiscoverer
}

const testID = "AA:01"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := store.NewRegistry(nil)
	st := store.New(nil)
	disp := &fakeDispatcher{states: st}
	disc := &fakeDiscoverer{}
	drv := New(ble.FlicCatalog(), reg, st, disp, disc)
	if _, err := drv.AddDevice(context.Background(), ble.DeviceRecord{ID: testID, Family: "BTL201", Name: "Desk"}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	return &fixture{drv: drv, reg: reg, st: st, disp: disp, disc: disc}
}

func TestAddDeviceInitializesDefaults(t *testing.T) {
	f := newFixture(t)
	st, err := f.drv.State(testID)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if st != light.DefaultState() {
		t.Errorf("State() = %+v, want defaults", st)
	}
	if len(f.drv.Devices()) != 1 {
		t.Errorf("Devices() = %+v", f.drv.Devices())
	}
}

func TestAddDeviceRejectsUnknownFamily(t *testing.T) {
	f := newFixture(t)
	_, err := f.drv.AddDevice(context.Background(), ble.DeviceRecord{ID: "BB:02", Family: "BTL999", Name: "Odd"})
	if !errors.Is(err, ble.ErrUnknownFamily) {
		t.Fatalf("AddDevice() error = %v, want ErrUnknownFamily", err)
	}
	if _, err := f.drv.Device("BB:02"); !errors.Is(err, ble.ErrNotFound) {
		t.Errorf("rejected device was registered: %v", err)
	}
	if len(f.drv.Devices()) != 1 {
		t.Errorf("Devices() = %+v, want only the fixture bulb", f.drv.Devices())
	}
}

func TestListDevicesExcludesPaired(t *testing.T) {
	f := newFixture(t)
	f.disc.found = []ble.DeviceRecord{{ID: "BB:02", Name: "New"}}

	got, err := f.drv.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "BB:02" {
		t.Errorf("ListDevices() = %+v", got)
	}
	if !f.disc.known[testID] {
		t.Error("paired device was not passed as known")
	}
}

func TestListDevicesError(t *testing.T) {
	f := newFixture(t)
	f.disc.err = errors.New("adapter off")
	if _, err := f.drv.ListDevices(context.Background()); err == nil {
		t.Error("ListDevices() should fail")
	}
}

func TestDeleted(t *testing.T) {
	f := newFixture(t)
	f.drv.Set(context.Background(), testID, CapHue, 0.3) //nolint:errcheck

	if err := f.drv.Deleted(context.Background(), testID); err != nil {
		t.Fatalf("Deleted() error = %v", err)
	}
	if _, err := f.drv.State(testID); !errors.Is(err, ble.ErrNotFound) {
		t.Errorf("State() after delete error = %v, want ErrNotFound", err)
	}
	if f.st.Get(testID) != light.DefaultState() {
		t.Error("state not removed")
	}
	if len(f.disp.forgot) != 1 || f.disp.forgot[0] != testID {
		t.Errorf("dispatcher forgot %v", f.disp.forgot)
	}
	if err := f.drv.Deleted(context.Background(), testID); !errors.Is(err, ble.ErrNotFound) {
		t.Errorf("second Deleted() error = %v, want ErrNotFound", err)
	}
}

func TestInitRestoresRegistry(t *testing.T) {
	reg := store.NewRegistry(nil)
	st := store.New(nil)
	drv := New(ble.FlicCatalog(), reg, st, &fakeDispatcher{states: st}, &fakeDiscoverer{})
	if err := drv.Init(context.Background()); err != nil {
		t.Fatalf("Init() without persistence error = %v", err)
	}
	if len(drv.Devices()) != 0 {
		t.Errorf("Devices() = %+v", drv.Devices())
	}
}

func TestSetCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		start light.Patch
		cap   Capability
		value any
		check func(light.State) bool
	}{
		{"onoff off", light.Patch{}, CapOnOff, false, func(s light.State) bool { return !s.OnOff }},
		{"dim turns on", light.Patch{OnOff: light.Ptr(false)}, CapDim, 0.4,
			func(s light.State) bool { return s.OnOff && s.Brightness == 0.4 }},
		{"hue turns on", light.Patch{OnOff: light.Ptr(false)}, CapHue, 0.5,
			func(s light.State) bool { return s.OnOff && s.Hue == 0.5 }},
		{"saturation", light.Patch{}, CapSaturation, 0.2, func(s light.State) bool { return s.Saturation == 0.2 }},
		{"temperature turns on", light.Patch{OnOff: light.Ptr(false)}, CapTemperature, 1,
			func(s light.State) bool { return s.OnOff && s.Temperature == 1 }},
		{"mode leaves onoff", light.Patch{OnOff: light.Ptr(false)}, CapMode, "temperature",
			func(s light.State) bool { return !s.OnOff && s.Mode == light.ModeTemperature }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.st.Merge(testID, tt.start)

			st, err := f.drv.Set(context.Background(), testID, tt.cap, tt.value)
			if err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if !tt.check(st) {
				t.Errorf("Set() state = %+v", st)
			}
			call := f.disp.last(t)
			if call.kind != "color" || call.state != st {
				t.Errorf("dispatch = %+v, want color with the merged state", call)
			}
			got, err := f.drv.Get(testID, tt.cap)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got == nil {
				t.Error("Get() returned nil")
			}
		})
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		cap   Capability
		value any
	}{
		{"hue out of range", CapHue, 1.5},
		{"negative dim", CapDim, -0.1},
		{"onoff wrong type", CapOnOff, "yes"},
		{"dim wrong type", CapDim, "high"},
		{"unknown mode", CapMode, "disco"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.drv.Set(context.Background(), testID, tt.cap, tt.value)
			if !errors.Is(err, light.ErrInvalidState) {
				t.Errorf("Set() error = %v, want ErrInvalidState", err)
			}
			if f.disp.count() != 0 {
				t.Error("invalid value was dispatched")
			}
			if f.st.Get(testID) != light.DefaultState() {
				t.Error("invalid value was cached")
			}
		})
	}
}

func TestSetUnknownDevice(t *testing.T) {
	f := newFixture(t)
	if _, err := f.drv.Set(context.Background(), "ZZ", CapOnOff, true); !errors.Is(err, ble.ErrNotFound) {
		t.Errorf("Set() error = %v, want ErrNotFound", err)
	}
	if _, err := f.drv.Get("ZZ", CapOnOff); !errors.Is(err, ble.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetUnknownCapability(t *testing.T) {
	f := newFixture(t)
	if _, err := f.drv.Get(testID, "light_wattage"); err == nil {
		t.Error("Get() should reject unknown capabilities")
	}
}

func TestWriteFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.disp.err = errWrite

	st, err := f.drv.Set(context.Background(), testID, CapDim, 0.3)
	if !errors.Is(err, errWrite) {
		t.Fatalf("Set() error = %v, want write error", err)
	}
	if st.Brightness != 0.3 || f.st.Get(testID).Brightness != 0.3 {
		t.Error("state rolled back after failed write")
	}
}

func TestApplyChoosesFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.drv.Apply(ctx, testID, light.Patch{Hue: light.Ptr(0.2), Brightness: light.Ptr(0.5)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if c := f.disp.last(t); c.kind != "color" {
		t.Errorf("dispatch kind = %s, want color", c.kind)
	}

	_, err := f.drv.Apply(ctx, testID, light.Patch{
		Effect:      light.Ptr(light.EffectPulse),
		EffectColor: light.Ptr("00ff00"),
		EffectSpeed: light.Ptr(0.5),
	})
	if err != nil {
		t.Fatalf("Apply() effect error = %v", err)
	}
	if c := f.disp.last(t); c.kind != "effect" {
		t.Errorf("dispatch kind = %s, want effect", c.kind)
	}
}

func TestApplyRejectsUnencodableState(t *testing.T) {
	f := newFixture(t)
	_, err := f.drv.Apply(context.Background(), testID, light.Patch{Effect: light.Ptr(light.EffectFlash)})
	if !errors.Is(err, light.ErrInvalidState) {
		t.Fatalf("Apply() error = %v, want ErrInvalidState", err)
	}
	if f.st.Get(testID).Effect != light.EffectNone {
		t.Error("unencodable state was cached")
	}
}
