// Package bridge is the ingest boundary: it accepts device
// publications over MQTT and HTTP and appends them as envelopes to
// their class streams. Validation happens downstream, in the ingest
// workers, never here.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/mqtt"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
)

// publication is the body a device sends over the broker: its
// credential plus the raw reading.
type publication struct {
	Source  string          `json:"source_identity"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge subscribes to the device topic wildcard and appends each
// publication to its class stream.
type Bridge struct {
	store      stream.Store
	subscriber mqtt.Publisher
	topic      string
	log        *log.Logger
	now        func() time.Time
}

// New creates a bridge over an established broker connection.
func New(cfg *config.MQTTConfig, subscriber mqtt.Publisher, store stream.Store, logger *log.Logger) *Bridge {
	return &Bridge{
		store:      store,
		subscriber: subscriber,
		topic:      cfg.BridgeTopic,
		log:        logger,
		now:        time.Now,
	}
}

// Start subscribes to the bridge topic. Publications are appended from
// the broker callback; the subscription lives until the connection
// closes.
func (b *Bridge) Start() error {
	if err := b.subscriber.Subscribe(b.topic, b.handle); err != nil {
		return fmt.Errorf("bridge subscription failed: %w", err)
	}
	b.log.Info("Bridge subscribed to %s", b.topic)
	return nil
}

// handle appends one publication. A topic or body that does not parse
// is still appended, so the ingest workers can quarantine it with the
// raw input preserved.
func (b *Bridge) handle(topic string, payload []byte) {
	env := &envelope.Envelope{
		Topic: topic,
		TS:    b.now().UnixMilli(),
	}

	var pub publication
	if err := json.Unmarshal(payload, &pub); err == nil && len(pub.Payload) > 0 {
		env.Source = pub.Source
		env.Payload = pub.Payload
	} else {
		env.Payload = json.RawMessage(fmt.Sprintf("%q", payload))
	}

	class := envelope.ClassTelemetry
	partition := "unknown"
	if parts, err := envelope.ParseTopic(topic); err == nil {
		env.TenantID = parts.TenantID
		env.DeviceID = parts.DeviceID
		env.MsgType = parts.MsgType
		class = envelope.ClassForType(parts.MsgType)
		partition = parts.TenantID
	}

	data, err := env.Encode()
	if err != nil {
		b.log.Error("Failed to encode envelope for %s: %v", topic, err)
		return
	}
	if _, err := b.store.Publish(context.Background(), class, partition, data); err != nil {
		b.log.Error("Failed to append publication on %s: %v", topic, err)
	}
}
