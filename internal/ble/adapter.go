// Package ble talks to Mipow/Flic bulbs over Bluetooth Low Energy. It
// identifies bulbs among scan results and writes color and effect frames to
// paired bulbs.
package ble

import (
	"context"
	"fmt"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Write sends data to the characteristic and waits for the acknowledgement.
	Write(data []byte) error
}

// Candidate is one peripheral seen during a scan.
type Candidate struct {
	ID   string // peripheral address (a CoreBluetooth UUID on macOS)
	Name string
	RSSI int
	// ServiceUUIDs holds the advertised services among those scanned for.
	ServiceUUIDs []string
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection. Calling it twice is harmless.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports peripherals advertising any of the given service UUIDs
	// until ctx is done.
	Scan(ctx context.Context, serviceUUIDs []string) ([]Candidate, error)
	// Find scans until the peripheral with the given id is seen. It returns
	// ErrNotFound if ctx is done first.
	Find(ctx context.Context, id string) (Candidate, error)
	// Connect establishes a connection to the peripheral with the given id.
	Connect(ctx context.Context, id string) (Connection, error)
}

// readCharacteristic discovers and reads one characteristic.
func readCharacteristic(conn Connection, serviceUUID, charUUID string) ([]byte, error) {
	char, err := conn.DiscoverCharacteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	data, err := char.Read()
	if err != nil {
		return nil, fmt.Errorf("ble: read %s/%s: %w", serviceUUID, charUUID, err)
	}
	return data, nil
}

// writeCharacteristic discovers and writes one characteristic.
func writeCharacteristic(conn Connection, serviceUUID, charUUID string, data []byte) error {
	char, err := conn.DiscoverCharacteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.Write(data); err != nil {
		return fmt.Errorf("ble: write %s/%s: %w", serviceUUID, charUUID, err)
	}
	return nil
}
