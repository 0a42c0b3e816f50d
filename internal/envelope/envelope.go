// Package envelope defines the wire-level message types shared by the
// ingest and delivery pipelines.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message classes. Each class maps to one logical stream.
const (
	ClassTelemetry   = "telemetry"
	ClassStateReport = "state-report"
	ClassCommandAck  = "command-ack"
	ClassDeliveryJob = "delivery-job"
	ClassQuarantine  = "quarantine"
	ClassDeadLetter  = "dead-letter"
)

// Message types as they appear in device topics.
const (
	TypeTelemetry   = "telemetry"
	TypeStateReport = "state"
	TypeCommandAck  = "ack"
)

// Envelope is a single device message as appended to a class stream.
// Immutable once published; consumers treat it as read-only.
type Envelope struct {
	Topic    string          `json:"topic"`
	TenantID string          `json:"tenant_id"`
	DeviceID string          `json:"device_id"`
	MsgType  string          `json:"msg_type"`
	Source   string          `json:"source_identity,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	TS       int64           `json:"ts"` // epoch millis at ingestion
}

// TopicParts is the result of parsing a device topic.
type TopicParts struct {
	TenantID string
	DeviceID string
	MsgType  string
}

// ParseTopic parses a device topic of the form
// tenant/{tenant_id}/device/{device_id}/{msg_type}.
// A topic that does not match the convention exactly is malformed.
func ParseTopic(topic string) (TopicParts, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "device" {
		return TopicParts{}, fmt.Errorf("topic %q does not match tenant/{id}/device/{id}/{type}", topic)
	}
	if parts[1] == "" || parts[3] == "" {
		return TopicParts{}, fmt.Errorf("topic %q has empty tenant or device segment", topic)
	}

	tp := TopicParts{TenantID: parts[1], DeviceID: parts[3], MsgType: parts[4]}
	if ClassForType(tp.MsgType) == "" {
		return TopicParts{}, fmt.Errorf("topic %q has unknown message type %q", topic, tp.MsgType)
	}
	return tp, nil
}

// ClassForType maps a topic message type to its stream class.
// Returns "" for unknown types.
func ClassForType(msgType string) string {
	switch msgType {
	case TypeTelemetry:
		return ClassTelemetry
	case TypeStateReport:
		return ClassStateReport
	case TypeCommandAck:
		return ClassCommandAck
	default:
		return ""
	}
}

// Encode serializes the envelope for stream publication.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from its stream representation.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.Topic == "" {
		return nil, fmt.Errorf("envelope missing required field: topic")
	}
	return &e, nil
}
