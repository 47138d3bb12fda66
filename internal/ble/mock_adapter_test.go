package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/gomipow/internal/ble/protocol"
)

var errMockIO = errors.New("mock: i/o error")

// mockCharacteristic holds a value and records writes.
type mockCharacteristic struct {
	mu         sync.Mutex
	value      []byte
	readErr    error
	writeErr   error
	writeDelay time.Duration
	writes     [][]byte

	// in-flight write tracking, shared per peripheral
	inflight *inflightCounter
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	return append([]byte(nil), c.value...), nil
}

func (c *mockCharacteristic) Write(data []byte) error {
	if c.inflight != nil {
		c.inflight.enter()
		defer c.inflight.leave()
	}
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return c.writeErr
}

func (c *mockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// inflightCounter records the highest number of concurrent holders.
type inflightCounter struct {
	mu      sync.Mutex
	current int
	max     int
}

func (c *inflightCounter) enter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	if c.current > c.max {
		c.max = c.current
	}
}

func (c *inflightCounter) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current--
}

func (c *inflightCounter) Max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

func (c *inflightCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// mockPeripheral simulates one bulb.
type mockPeripheral struct {
	id         string
	services   map[string]map[string]*mockCharacteristic
	connectErr error
	gate       chan struct{} // if set, Connect waits for it to close

	sessions inflightCounter // open connections
	writes   inflightCounter // concurrent writes
}

func newMockPeripheral(id string) *mockPeripheral {
	return &mockPeripheral{
		id:       id,
		services: make(map[string]map[string]*mockCharacteristic),
	}
}

// newMockBulb builds a peripheral that answers the identification handshake
// of the given catalog family.
func newMockBulb(id string, catalog *Catalog, family Family, serial, name string) *mockPeripheral {
	p := newMockPeripheral(id)
	p.setChar(catalog.ManufacturerService(), catalog.SerialChar(), []byte(serial))
	p.setChar(family.ControlService, protocol.NameCharUUID, []byte(name))
	p.setChar(family.ControlService, protocol.ColorCharUUID, nil)
	p.setChar(family.ControlService, protocol.EffectCharUUID, nil)
	return p
}

func (p *mockPeripheral) setChar(service, char string, value []byte) *mockCharacteristic {
	if p.services[service] == nil {
		p.services[service] = make(map[string]*mockCharacteristic)
	}
	c := &mockCharacteristic{value: value, inflight: &p.writes}
	p.services[service][char] = c
	return c
}

func (p *mockPeripheral) char(service, char string) *mockCharacteristic {
	return p.services[service][char]
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	p *mockPeripheral

	mu          sync.Mutex
	disconnects int
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	chars, ok := c.p.services[serviceUUID]
	if !ok {
		return nil, fmt.Errorf("mock: service %s not found", serviceUUID)
	}
	char, ok := chars[charUUID]
	if !ok {
		return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
	}
	return char, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	if c.disconnects == 1 {
		c.p.sessions.leave()
	}
	return nil
}

func (c *mockConnection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects > 0
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu          sync.Mutex
	peripherals map[string]*mockPeripheral
	scan        []Candidate
	scanErr     error
	connections []*mockConnection
}

func newMockAdapter(peripherals ...*mockPeripheral) *mockAdapter {
	a := &mockAdapter{peripherals: make(map[string]*mockPeripheral)}
	for _, p := range peripherals {
		a.peripherals[p.id] = p
	}
	return a
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ []string) ([]Candidate, error) {
	return a.scan, a.scanErr
}

func (a *mockAdapter) Find(_ context.Context, id string) (Candidate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.peripherals[id]; !ok {
		return Candidate{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Candidate{ID: id}, nil
}

func (a *mockAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	a.mu.Lock()
	p, ok := a.peripherals[id]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mock: no peripheral %s", id)
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	p.sessions.enter()
	conn := &mockConnection{p: p}
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	a.mu.Unlock()
	return conn, nil
}

// Connections returns every connection opened so far.
func (a *mockAdapter) Connections() []*mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*mockConnection(nil), a.connections...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
