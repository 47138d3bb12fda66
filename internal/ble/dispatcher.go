package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gomipow/internal/ble/protocol"
	"github.com/chaz8081/gomipow/internal/light"
)

// StateSource provides the current desired state of a bulb.
type StateSource interface {
	Get(id string) light.State
}

// DispatcherOptions configures command dispatch.
type DispatcherOptions struct {
	FindTimeout time.Duration // how long to scan for the bulb before giving up
	// DisconnectDelay is how long a connection stays open after a write so
	// the bulb can finish acknowledging it.
	DisconnectDelay time.Duration
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		FindTimeout:     5 * time.Second,
		DisconnectDelay: 3 * time.Second,
	}
}

// Dispatcher writes color and effect frames to paired bulbs. Commands for
// the same bulb run one at a time in arrival order; commands for different
// bulbs run concurrently.
type Dispatcher struct {
	adapter Adapter
	catalog *Catalog
	states  StateSource
	opts    DispatcherOptions

	mu    sync.Mutex
	lanes map[string]*lane // keyed by device id
}

// lane serializes the commands of one bulb.
type lane struct {
	sem chan struct{} // capacity 1; blocked senders queue in FIFO order

	mu      sync.Mutex
	session *session // connection waiting for its grace disconnect
}

type session struct {
	conn  Connection
	timer *time.Timer
	once  sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		if err := s.conn.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect failed", "error", err)
		}
	})
}

// NewDispatcher creates a Dispatcher. states is consulted at encode time,
// so each write carries the latest merged state.
func NewDispatcher(adapter Adapter, catalog *Catalog, states StateSource, opts DispatcherOptions) *Dispatcher {
	if opts.FindTimeout <= 0 {
		opts.FindTimeout = 5 * time.Second
	}
	if opts.DisconnectDelay <= 0 {
		opts.DisconnectDelay = 3 * time.Second
	}
	return &Dispatcher{
		adapter: adapter,
		catalog: catalog,
		states:  states,
		opts:    opts,
		lanes:   make(map[string]*lane),
	}
}

// SendColor writes the steady color frame of the bulb's current state.
func (d *Dispatcher) SendColor(ctx context.Context, rec DeviceRecord) error {
	return d.send(ctx, rec, protocol.ColorCharUUID, func(s light.State) ([]byte, error) {
		f, err := light.EncodeColor(s)
		return f[:], err
	})
}

// SendEffect writes the effect frame of the bulb's current state.
func (d *Dispatcher) SendEffect(ctx context.Context, rec DeviceRecord) error {
	return d.send(ctx, rec, protocol.EffectCharUUID, func(s light.State) ([]byte, error) {
		f, err := light.EncodeEffect(s)
		return f[:], err
	})
}

func (d *Dispatcher) send(ctx context.Context, rec DeviceRecord, charUUID string, encode func(light.State) ([]byte, error)) error {
	service, ok := d.catalog.ControlService(rec.Family)
	if !ok {
		return fmt.Errorf("%w: family %q of %s", ErrUnknownFamily, rec.Family, rec.ID)
	}

	l := d.lane(rec.ID)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	// Only one GATT session per bulb: close a connection still waiting for
	// its grace period before opening a new one.
	l.mu.Lock()
	prev := l.session
	l.session = nil
	l.mu.Unlock()
	if prev != nil {
		prev.timer.Stop()
		prev.close()
	}

	start := time.Now()
	findCtx, cancel := context.WithTimeout(ctx, d.opts.FindTimeout)
	_, err := d.adapter.Find(findCtx, rec.ID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &TransportError{Op: "find", DeviceID: rec.ID, Err: err}
	}
	slog.Debug("[BLE] found", "id", rec.ID, "elapsed", time.Since(start))

	conn, err := d.adapter.Connect(ctx, rec.ID)
	if err != nil {
		return &TransportError{Op: "connect", DeviceID: rec.ID, Err: err}
	}
	slog.Debug("[BLE] connected", "id", rec.ID, "elapsed", time.Since(start))

	s := &session{conn: conn}

	frame, err := encode(d.states.Get(rec.ID))
	if err != nil {
		s.close()
		return err
	}

	werr := writeCharacteristic(conn, service, charUUID, frame)
	d.linger(l, s)
	if werr != nil {
		slog.Warn("[BLE] write failed", "id", rec.ID, "char", charUUID, "error", werr)
		return &TransportError{Op: "write", DeviceID: rec.ID, Err: werr}
	}
	slog.Debug("[BLE] written", "id", rec.ID, "char", charUUID, "frame", fmt.Sprintf("%x", frame), "elapsed", time.Since(start))
	return nil
}

// linger keeps s open for the grace delay, then disconnects it.
func (d *Dispatcher) linger(l *lane, s *session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = s
	s.timer = time.AfterFunc(d.opts.DisconnectDelay, func() {
		l.mu.Lock()
		if l.session == s {
			l.session = nil
		}
		l.mu.Unlock()
		s.close()
	})
}

func (d *Dispatcher) lane(id string) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[id]
	if !ok {
		l = &lane{sem: make(chan struct{}, 1)}
		d.lanes[id] = l
	}
	return l
}

// Forget closes any lingering connection to the bulb. The lane itself is
// kept: a command still in flight holds its semaphore, and a re-added bulb
// must queue behind it.
func (d *Dispatcher) Forget(id string) {
	d.mu.Lock()
	l, ok := d.lanes[id]
	d.mu.Unlock()
	if ok {
		l.closeSession()
	}
}

// Close disconnects every lingering connection immediately.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	lanes := make([]*lane, 0, len(d.lanes))
	for _, l := range d.lanes {
		lanes = append(lanes, l)
	}
	d.mu.Unlock()

	for _, l := range lanes {
		l.closeSession()
	}
	return nil
}

func (l *lane) closeSession() {
	l.mu.Lock()
	s := l.session
	l.session = nil
	l.mu.Unlock()
	if s != nil {
		s.timer.Stop()
		s.close()
	}
}
