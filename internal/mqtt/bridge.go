package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/light"
)

const (
	commandTimeout     = 30 * time.Second
	defaultEffectSpeed = 0.5
	actionStopEffect   = "stop_effect"
)

// Messenger publishes and subscribes. *Client implements it.
type Messenger interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// LightDriver is the part of the driver the bridge drives.
type LightDriver interface {
	Devices() []ble.DeviceRecord
	State(id string) (light.State, error)
	Apply(ctx context.Context, id string, p light.Patch) (light.State, error)
	RunEffect(ctx context.Context, id string, e light.Effect, color string, speed float64) (light.State, error)
	ListDevices(ctx context.Context) ([]ble.DeviceRecord, error)
	AddDevice(ctx context.Context, rec ble.DeviceRecord) (light.State, error)
	Deleted(ctx context.Context, id string) error
}

// BridgeConfig configures the topic layout.
type BridgeConfig struct {
	TopicPrefix     string
	DiscoveryPrefix string
	QoS             byte
}

// Bridge exposes paired bulbs to Home Assistant over MQTT: discovery
// documents, JSON schema state and commands, flow actions and pairing.
type Bridge struct {
	m      Messenger
	driver LightDriver
	topics topics
	qos    byte

	ctx context.Context
}

// NewBridge creates a Bridge.
func NewBridge(m Messenger, driver LightDriver, cfg BridgeConfig) *Bridge {
	return &Bridge{
		m:      m,
		driver: driver,
		topics: topics{prefix: cfg.TopicPrefix, discovery: cfg.DiscoveryPrefix},
		qos:    cfg.QoS,
		ctx:    context.Background(),
	}
}

// Start subscribes to the command topics and announces every paired bulb.
// ctx bounds the commands started by incoming messages.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx

	subs := []struct {
		topic   string
		handler MessageHandler
	}{
		{b.topics.allLightSet(), b.handleSet},
		{b.topics.allLightAction(), b.handleAction},
		{b.topics.pairList(), b.handlePairList},
		{b.topics.pairAdd(), b.handlePairAdd},
		{b.topics.pairDelete(), b.handlePairDelete},
	}
	for _, s := range subs {
		if err := b.m.Subscribe(s.topic, b.qos, s.handler); err != nil {
			return fmt.Errorf("mqtt: subscribe %s: %w", s.topic, err)
		}
	}

	for _, rec := range b.driver.Devices() {
		if err := b.announce(rec); err != nil {
			return err
		}
	}
	slog.Info("[MQTT] bridge started", "prefix", b.topics.prefix, "devices", len(b.driver.Devices()))
	return nil
}

// announce publishes the discovery document and current state of rec.
func (b *Bridge) announce(rec ble.DeviceRecord) error {
	obj := objectID(rec.ID)
	doc, err := json.Marshal(newLightDiscovery(rec, b.topics))
	if err != nil {
		return fmt.Errorf("mqtt: marshal discovery for %s: %w", rec.ID, err)
	}
	if err := b.m.Publish(b.topics.lightConfig(obj), doc, b.qos, true); err != nil {
		return fmt.Errorf("mqtt: publish discovery for %s: %w", rec.ID, err)
	}
	st, err := b.driver.State(rec.ID)
	if err != nil {
		return err
	}
	return b.publishState(rec.ID, st)
}

func (b *Bridge) publishState(id string, st light.State) error {
	payload, err := json.Marshal(toLightState(st))
	if err != nil {
		return fmt.Errorf("mqtt: marshal state for %s: %w", id, err)
	}
	return b.m.Publish(b.topics.lightState(objectID(id)), payload, b.qos, true)
}

// DeviceDiscovered publishes a bulb identified after a pairing list request
// already returned.
func (b *Bridge) DeviceDiscovered(rec ble.DeviceRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := b.m.Publish(b.topics.pairDiscovered(), payload, b.qos, false); err != nil {
		slog.Warn("[MQTT] publish late device failed", "id", rec.ID, "error", err)
	}
}

// resolve maps an object id back to the paired device id.
func (b *Bridge) resolve(obj string) (string, error) {
	for _, rec := range b.driver.Devices() {
		if objectID(rec.ID) == obj {
			return rec.ID, nil
		}
	}
	return "", fmt.Errorf("mqtt: %w: %s", ble.ErrNotFound, obj)
}

func (b *Bridge) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, commandTimeout)
}

func (b *Bridge) handleSet(topic string, payload []byte) error {
	obj, ok := b.topics.lightObject(topic, "set")
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	id, err := b.resolve(obj)
	if err != nil {
		return err
	}
	var cmd lightCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("mqtt: decode command: %w", err)
	}

	p, effect := cmd.toPatch()
	if effect != nil {
		if p, err = b.withEffect(id, p, *effect); err != nil {
			return err
		}
	}

	ctx, cancel := b.commandContext()
	defer cancel()
	st, err := b.driver.Apply(ctx, id, p)
	return b.finish(id, st, err)
}

// withEffect adds effect e to p, rendered in the color p leads to.
func (b *Bridge) withEffect(id string, p light.Patch, e light.Effect) (light.Patch, error) {
	current, err := b.driver.State(id)
	if err != nil {
		return p, err
	}
	color := "000000"
	if e.NeedsColor() {
		if color, err = light.ColorHex(p.Apply(current)); err != nil {
			return p, err
		}
	}
	speed := defaultEffectSpeed
	if current.EffectSpeed != nil {
		speed = *current.EffectSpeed
	}
	p.Effect = &e
	p.EffectColor = &color
	p.EffectSpeed = &speed
	return p, nil
}

func (b *Bridge) handleAction(topic string, payload []byte) error {
	obj, ok := b.topics.lightObject(topic, "action")
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	id, err := b.resolve(obj)
	if err != nil {
		return err
	}
	var cmd actionCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("mqtt: decode action: %w", err)
	}

	effect := light.Effect(cmd.Action)
	if cmd.Action == actionStopEffect {
		effect = light.EffectNone
	}
	speed := defaultEffectSpeed
	if cmd.Speed != nil {
		speed = *cmd.Speed
	}

	ctx, cancel := b.commandContext()
	defer cancel()
	st, err := b.driver.RunEffect(ctx, id, effect, cmd.Color, speed)
	return b.finish(id, st, err)
}

// finish publishes the resulting state. Rejected commands leave the state
// untouched; write errors still publish the optimistic state.
func (b *Bridge) finish(id string, st light.State, err error) error {
	if errors.Is(err, light.ErrInvalidState) {
		return err
	}
	if perr := b.publishState(id, st); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func (b *Bridge) handlePairList(_ string, _ []byte) error {
	ctx, cancel := b.commandContext()
	defer cancel()
	recs, err := b.driver.ListDevices(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("mqtt: marshal devices: %w", err)
	}
	return b.m.Publish(b.topics.pairDevices(), payload, b.qos, false)
}

func (b *Bridge) handlePairAdd(_ string, payload []byte) error {
	var rec ble.DeviceRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("mqtt: decode device: %w", err)
	}
	ctx, cancel := b.commandContext()
	defer cancel()
	if _, err := b.driver.AddDevice(ctx, rec); err != nil {
		return err
	}
	return b.announce(rec)
}

func (b *Bridge) handlePairDelete(_ string, payload []byte) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("mqtt: decode delete: %w", err)
	}
	ctx, cancel := b.commandContext()
	defer cancel()
	if err := b.driver.Deleted(ctx, req.ID); err != nil {
		return err
	}

	// Empty retained payloads remove the entity and clear its state.
	obj := objectID(req.ID)
	if err := b.m.Publish(b.topics.lightConfig(obj), nil, b.qos, true); err != nil {
		return err
	}
	return b.m.Publish(b.topics.lightState(obj), nil, b.qos, true)
}
