package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// maxAttributeLen is the largest value a GATT attribute can hold.
const maxAttributeLen = 512

// stopRetryInterval paces StopScan retries while a scan is still starting.
const stopRetryInterval = 20 * time.Millisecond

// scanner is the part of bluetooth.Adapter that runs scans.
type scanner interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS). On macOS peripheral ids are CoreBluetooth UUIDs, not MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	scanner scanner

	// scanSem serializes scans; the underlying adapter runs one at a time.
	scanSem chan struct{}

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by peripheral id
}

// NewTinyGoAdapter creates a BLE adapter backed by the system default adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		scanner:     bluetooth.DefaultAdapter,
		scanSem:     make(chan struct{}, 1),
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The bulbs drop idle links on their own; forget those connections so a
	// later Disconnect does not touch a dead handle.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.markClosed()
			slog.Debug("[BLE] peripheral disconnected", "id", id)
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUIDs []string) ([]Candidate, error) {
	uuids := make([]bluetooth.UUID, len(serviceUUIDs))
	for i, s := range serviceUUIDs {
		u, err := parseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		uuids[i] = u
	}

	var mu sync.Mutex
	var candidates []Candidate
	seen := make(map[string]bool)

	err := a.scan(ctx, func(result bluetooth.ScanResult) bool {
		var matched []string
		for i, u := range uuids {
			if result.HasServiceUUID(u) {
				matched = append(matched, serviceUUIDs[i])
			}
		}
		id := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[id] {
			return false
		}
		seen[id] = true
		candidates = append(candidates, Candidate{
			ID:           id,
			Name:         result.LocalName(),
			RSSI:         int(result.RSSI),
			ServiceUUIDs: matched,
		})
		return false
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (a *TinyGoAdapter) Find(ctx context.Context, id string) (Candidate, error) {
	var found *Candidate
	err := a.scan(ctx, func(result bluetooth.ScanResult) bool {
		if result.Address.String() != id {
			return false
		}
		found = &Candidate{ID: id, Name: result.LocalName(), RSSI: int(result.RSSI)}
		return true
	})
	if err != nil {
		return Candidate{}, err
	}
	if found == nil {
		return Candidate{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *found, nil
}

// scan runs the adapter scan until ctx is done or onResult returns true.
// A scan that is still waiting for the adapter when ctx ends never starts.
func (a *TinyGoAdapter) scan(ctx context.Context, onResult func(bluetooth.ScanResult) bool) error {
	select {
	case a.scanSem <- struct{}{}:
	case <-ctx.Done():
		return nil
	}
	defer func() { <-a.scanSem }()
	if ctx.Err() != nil {
		return nil
	}

	done := make(chan struct{})
	stopperExited := make(chan struct{})
	go func() {
		defer close(stopperExited)
		a.stopOnDone(ctx, done)
	}()

	var stopped bool
	err := a.scanner.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !stopped && onResult(result) {
			stopped = true
			_ = a.scanner.StopScan()
		}
	})
	close(done)
	// The next scan must not be hit by a pending StopScan retry.
	<-stopperExited

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// stopOnDone stops the running scan once ctx ends. StopScan fails until the
// adapter has registered the scan, so it is retried until Scan returns.
func (a *TinyGoAdapter) stopOnDone(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := a.scanner.StopScan(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks with its own timeout; wrap it so ctx
	// cancellation returns immediately.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// A late success would leak the link, so close it when it arrives.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &tinyGoConnection{id: id, device: result.device, adapter: a}

		a.mu.Lock()
		a.connections[id] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

func (a *TinyGoAdapter) forget(conn *tinyGoConnection) {
	a.mu.Lock()
	if a.connections[conn.id] == conn {
		delete(a.connections, conn.id)
	}
	a.mu.Unlock()
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	id      string
	device  bluetooth.Device
	adapter *TinyGoAdapter

	mu     sync.Mutex
	closed bool
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := parseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := parseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.adapter.forget(c)
	return c.device.Disconnect()
}

func (c *tinyGoConnection) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttributeLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write uses write-without-response, the only write BlueZ and HCI expose.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

// parseUUID accepts both 16-bit short form ("fffc") and full 128-bit UUIDs.
func parseUUID(s string) (bluetooth.UUID, error) {
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: invalid 16-bit UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(s)
}
