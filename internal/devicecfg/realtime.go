package devicecfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/dispenser-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// RealtimeStore reads and writes documents at key paths shared with firmware.
type RealtimeStore interface {
	// Get returns the document at path. found is false when none exists.
	Get(ctx context.Context, path string) (doc Document, found bool, err error)

	// Set replaces the document at path.
	Set(ctx context.Context, path string, doc Document) error
}

// Real-time store names used in logs, metrics and the journal.
const (
	StoreDurable  = "durable"
	StoreRealtime = "realtime"
)

// realtimeError tags a real-time backend failure with a transport code.
// Anything not recognised as a deadline or cancellation is treated as the
// backend being unavailable.
func realtimeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	code := provisioning.TransportUnavailable
	switch {
	case errors.Is(err, context.Canceled):
		code = provisioning.TransportCancelled
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mqtt.ErrTimeout),
		errors.As(err, &netErr) && netErr.Timeout():
		code = provisioning.TransportDeadlineExceeded
	case errors.Is(err, mqtt.ErrInvalidTopic), errors.Is(err, mqtt.ErrInvalidQoS):
		code = provisioning.TransportInvalidArgument
	}
	return provisioning.NewTransportError(op, code, err)
}

func decodeDocument(op string, raw []byte) (Document, error) {
	doc := Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, provisioning.NewTransportError(op, provisioning.TransportInternal,
			fmt.Errorf("decoding real-time document: %w", err))
	}
	return doc, nil
}

// MemoryRealtime is an in-process RealtimeStore.
type MemoryRealtime struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryRealtime creates an empty in-process store.
func NewMemoryRealtime() *MemoryRealtime {
	return &MemoryRealtime{docs: make(map[string][]byte)}
}

// Get implements RealtimeStore.
func (m *MemoryRealtime) Get(_ context.Context, path string) (Document, bool, error) {
	m.mu.RLock()
	raw, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	doc, err := decodeDocument("devicecfg.memory.get", raw)
	return doc, err == nil, err
}

// Set implements RealtimeStore.
func (m *MemoryRealtime) Set(_ context.Context, path string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding real-time document: %w", err)
	}
	m.mu.Lock()
	m.docs[path] = raw
	m.mu.Unlock()
	return nil
}

// retainedClient is the part of the MQTT client the store needs.
type retainedClient interface {
	ReadRetained(ctx context.Context, topic string, wait time.Duration) ([]byte, bool, error)
	PublishRetained(ctx context.Context, topic string, payload []byte) error
}

// MQTTRealtime keeps each document as a retained message under the
// dispenser topic tree.
type MQTTRealtime struct {
	client retainedClient
	wait   time.Duration
}

// NewMQTTRealtime creates a store over an MQTT client. wait bounds how long a
// read waits for the broker to deliver a retained message.
func NewMQTTRealtime(client retainedClient, wait time.Duration) *MQTTRealtime {
	return &MQTTRealtime{client: client, wait: wait}
}

// Get implements RealtimeStore.
func (s *MQTTRealtime) Get(ctx context.Context, path string) (Document, bool, error) {
	const op = "devicecfg.mqtt.get"

	raw, found, err := s.client.ReadRetained(ctx, mqtt.Topics{}.Path(path), s.wait)
	if err != nil {
		return nil, false, realtimeError(op, err)
	}
	if !found {
		return nil, false, nil
	}
	doc, err := decodeDocument(op, raw)
	return doc, err == nil, err
}

// Set implements RealtimeStore.
func (s *MQTTRealtime) Set(ctx context.Context, path string, doc Document) error {
	const op = "devicecfg.mqtt.set"

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding real-time document: %w", err)
	}
	return realtimeError(op, s.client.PublishRetained(ctx, mqtt.Topics{}.Path(path), raw))
}

// jsonClient is the part of the Redis client the store needs.
type jsonClient interface {
	GetJSON(ctx context.Context, path string) ([]byte, bool, error)
	SetJSON(ctx context.Context, path string, value []byte) error
}

// RedisRealtime keeps each document as a JSON string value.
type RedisRealtime struct {
	client jsonClient
}

// NewRedisRealtime creates a store over a Redis client.
func NewRedisRealtime(client jsonClient) *RedisRealtime {
	return &RedisRealtime{client: client}
}

// Get implements RealtimeStore.
func (s *RedisRealtime) Get(ctx context.Context, path string) (Document, bool, error) {
	const op = "devicecfg.redis.get"

	raw, found, err := s.client.GetJSON(ctx, path)
	if err != nil {
		return nil, false, realtimeError(op, err)
	}
	if !found {
		return nil, false, nil
	}
	doc, err := decodeDocument(op, raw)
	return doc, err == nil, err
}

// Set implements RealtimeStore.
func (s *RedisRealtime) Set(ctx context.Context, path string, doc Document) error {
	const op = "devicecfg.redis.set"

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding real-time document: %w", err)
	}
	return realtimeError(op, s.client.SetJSON(ctx, path, raw))
}
