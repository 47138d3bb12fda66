package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gomipow/internal/ble/protocol"
)

// DeviceRecord describes an identified bulb.
type DeviceRecord struct {
	ID     string `json:"id"`
	Family string `json:"family,omitempty"` // empty for single-family catalogs
	Name   string `json:"name"`
}

// MatcherOptions configures discovery.
type MatcherOptions struct {
	ScanTimeout time.Duration // how long Discover scans before identifying
	Timeout     time.Duration // overall identification deadline
	// OnLateDevice, if set, receives bulbs identified after the result was
	// already returned but before Timeout.
	OnLateDevice func(DeviceRecord)
}

// DefaultMatcherOptions returns sensible defaults for production use.
func DefaultMatcherOptions() MatcherOptions {
	return MatcherOptions{
		ScanTimeout: 5 * time.Second,
		Timeout:     5 * time.Second,
	}
}

// Matcher identifies bulbs among scanned peripherals.
type Matcher struct {
	adapter Adapter
	catalog *Catalog
	opts    MatcherOptions
}

// NewMatcher creates a Matcher for the given catalog.
func NewMatcher(adapter Adapter, catalog *Catalog, opts MatcherOptions) *Matcher {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Matcher{adapter: adapter, catalog: catalog, opts: opts}
}

// Discover scans for peripherals advertising a catalog control service and
// identifies those not in known.
func (m *Matcher) Discover(ctx context.Context, known map[string]bool) ([]DeviceRecord, error) {
	if err := m.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	defer cancel()

	candidates, err := m.adapter.Scan(scanCtx, m.catalog.ControlServices())
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	slog.Debug("[BLE] scan finished", "candidates", len(candidates))

	return m.Identify(ctx, candidates, known)
}

// Identify runs the identification handshake against every candidate not in
// known, concurrently. It returns as soon as the first bulb is identified,
// or with an empty result once every candidate has failed or the timeout
// has passed. Per-candidate failures are not reported.
func (m *Matcher) Identify(ctx context.Context, candidates []Candidate, known map[string]bool) ([]DeviceRecord, error) {
	var pending []Candidate
	for _, c := range candidates {
		if !known[c.ID] {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return []DeviceRecord{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)

	result := newResultCell()
	total := int32(len(pending))
	var failed atomic.Int32
	fail := func() {
		if failed.Add(1) == total {
			result.resolve([]DeviceRecord{})
		}
	}

	var wg sync.WaitGroup
	for _, c := range pending {
		if !m.catalog.advertisesControlService(c.ServiceUUIDs) {
			fail()
			continue
		}
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			rec, err := m.identifyOne(ctx, c)
			if ctx.Err() != nil {
				// Abandoned after the deadline.
				return
			}
			if err != nil {
				slog.Debug("[BLE] candidate rejected", "id", c.ID, "error", err)
				fail()
				return
			}
			if !result.resolve([]DeviceRecord{rec}) {
				m.reportLate(ctx, rec)
			}
		}(c)
	}

	// Release the deadline once every handshake has finished.
	go func() {
		wg.Wait()
		cancel()
	}()

	select {
	case <-result.done:
	case <-ctx.Done():
		result.resolve([]DeviceRecord{})
	}
	return result.get(), nil
}

// reportLate hands a success that lost the race to OnLateDevice, unless the
// deadline passed while its handshake was finishing.
func (m *Matcher) reportLate(ctx context.Context, rec DeviceRecord) {
	if m.opts.OnLateDevice == nil || ctx.Err() != nil {
		return
	}
	m.opts.OnLateDevice(rec)
}

// identifyOne connects to a candidate, reads its serial number and name, and
// disconnects.
func (m *Matcher) identifyOne(ctx context.Context, c Candidate) (DeviceRecord, error) {
	conn, err := m.adapter.Connect(ctx, c.ID)
	if err != nil {
		return DeviceRecord{}, &TransportError{Op: "connect", DeviceID: c.ID, Err: err}
	}
	defer func() { _ = conn.Disconnect() }()

	serial, err := readCharacteristic(conn, m.catalog.ManufacturerService(), m.catalog.SerialChar())
	if err != nil {
		return DeviceRecord{}, &TransportError{Op: "read", DeviceID: c.ID, Err: err}
	}
	family, ok := m.catalog.Resolve(serial)
	if !ok {
		return DeviceRecord{}, fmt.Errorf("%w: %q", ErrUnknownFamily, serial)
	}

	name, err := readCharacteristic(conn, family.ControlService, protocol.NameCharUUID)
	if err != nil {
		return DeviceRecord{}, &TransportError{Op: "read", DeviceID: c.ID, Err: err}
	}

	return DeviceRecord{
		ID:     c.ID,
		Family: family.Key,
		Name:   strings.TrimRight(string(name), "\x00"),
	}, nil
}

// resultCell holds the discovery result. Only the first resolve counts.
type resultCell struct {
	once  sync.Once
	done  chan struct{}
	value []DeviceRecord
}

func newResultCell() *resultCell {
	return &resultCell{done: make(chan struct{})}
}

// resolve stores v and reports whether this call set the result.
func (r *resultCell) resolve(v []DeviceRecord) bool {
	set := false
	r.once.Do(func() {
		r.value = v
		set = true
		close(r.done)
	})
	return set
}

func (r *resultCell) get() []DeviceRecord {
	<-r.done
	return r.value
}
