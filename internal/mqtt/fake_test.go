package mqtt

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/chaz8081/gomipow/internal/ble"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeMessenger records publishes and routes delivered messages to the
// subscribed handlers.
type fakeMessenger struct {
	mu   sync.Mutex
	subs map[string]MessageHandler
	pubs []published
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{subs: make(map[string]MessageHandler)}
}

func (f *fakeMessenger) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, published{topic: topic, payload: append([]byte(nil), payload...), retained: retained})
	return nil
}

func (f *fakeMessenger) Subscribe(topic string, _ byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

// deliver calls the handler whose filter matches topic.
func (f *fakeMessenger) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	f.mu.Lock()
	var handler MessageHandler
	for filter, h := range f.subs {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	return handler(topic, []byte(payload))
}

// last returns the most recent publish on topic.
func (f *fakeMessenger) last(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.pubs) - 1; i >= 0; i-- {
		if f.pubs[i].topic == topic {
			return f.pubs[i], true
		}
	}
	return published{}, false
}

func (f *fakeMessenger) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.pubs {
		if p.topic == topic {
			n++
		}
	}
	return n
}

// topicMatches implements MQTT single-level wildcard matching.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

// fakeDispatcher records which frame kind was sent.
type fakeDispatcher struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (f *fakeDispatcher) SendColor(_ context.Context, _ ble.DeviceRecord) error {
	return f.record("color")
}

func (f *fakeDispatcher) SendEffect(_ context.Context, _ ble.DeviceRecord) error {
	return f.record("effect")
}

func (f *fakeDispatcher) record(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, kind)
	return f.err
}

func (f *fakeDispatcher) Forget(string) {}

func (f *fakeDispatcher) lastSend() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		return ""
	}
	return f.sends[len(f.sends)-1]
}

type fakeDiscoverer struct {
	found []ble.DeviceRecord
}

func (f *fakeDiscoverer) Discover(context.Context, map[string]bool) ([]ble.DeviceRecord, error) {
	return f.found, nil
}
