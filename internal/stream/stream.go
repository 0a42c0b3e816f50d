// Package stream provides the durable message stream abstraction used for
// all cross-worker handoff: partitioned append-only logs with competing
// pull-consumer groups, explicit acknowledgment and bounded, observable
// redelivery.
package stream

import (
	"context"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
)

// RetentionPolicy controls when messages leave a stream.
type RetentionPolicy int

const (
	// RetentionLimits drops messages past the age/size window even if they
	// were never acknowledged. Used for perishable message classes.
	RetentionLimits RetentionPolicy = iota
	// RetentionWorkQueue removes a message the instant it is acknowledged
	// or terminated, and never drops it otherwise.
	RetentionWorkQueue
)

// ClassConfig describes one logical stream.
type ClassConfig struct {
	Class     string
	Retention RetentionPolicy
	MaxAge    time.Duration // limits retention only
	MaxLen    int64         // limits retention only
}

// Classes returns the stream classes of the pipeline with the given bounds
// applied to the age/size-bounded classes.
func Classes(maxAge time.Duration, maxLen int64) []ClassConfig {
	return []ClassConfig{
		{Class: envelope.ClassTelemetry, Retention: RetentionLimits, MaxAge: maxAge, MaxLen: maxLen},
		{Class: envelope.ClassStateReport, Retention: RetentionLimits, MaxAge: maxAge, MaxLen: maxLen},
		{Class: envelope.ClassCommandAck, Retention: RetentionLimits, MaxAge: maxAge, MaxLen: maxLen},
		{Class: envelope.ClassDeliveryJob, Retention: RetentionWorkQueue},
		{Class: envelope.ClassQuarantine, Retention: RetentionLimits, MaxAge: maxAge, MaxLen: maxLen},
		{Class: envelope.ClassDeadLetter, Retention: RetentionLimits, MaxAge: maxAge, MaxLen: maxLen},
	}
}

// Message is a single pulled message. Exactly one of Ack, Nak or Term must
// be called once processing finishes.
type Message interface {
	// ID identifies the message within its stream.
	ID() string
	// Data returns the message payload. Read-only.
	Data() []byte
	// DeliveryCount reports how many times this message has been delivered
	// to the consumer group, including this delivery. Monotonic.
	DeliveryCount() int
	// Ack marks the message processed. Work-queue streams remove it
	// immediately.
	Ack(ctx context.Context) error
	// Nak requests redelivery to any group member after the ack-wait floor.
	Nak(ctx context.Context) error
	// Term stops redelivery permanently without successful processing.
	Term(ctx context.Context) error
}

// Stats describes the observable state of one stream and consumer group.
type Stats struct {
	// Depth is the number of messages currently stored in the stream.
	Depth int64
	// Pending is the number of messages delivered to the group and not yet
	// acknowledged.
	Pending int64
}

// Store is a durable, partitioned message stream with competing consumers.
//
// Guarantees: at-least-once delivery to a group as a whole; a message is
// delivered to exactly one group member at a time; no ordering guarantee
// across partitions and only best-effort FIFO within one partition.
type Store interface {
	// Publish appends a payload to the class stream and returns its id.
	// The partition key (tenant id) bounds the blast radius of one slow
	// tenant; messages for the same key keep best-effort order.
	Publish(ctx context.Context, class, partitionKey string, payload []byte) (string, error)

	// Pull fetches up to batch messages for the named durable consumer
	// group, blocking up to wait when the stream is empty. An empty result
	// is not an error.
	Pull(ctx context.Context, group, class string, batch int, wait time.Duration) ([]Message, error)

	// Stats reports stream depth and the group's unacknowledged count.
	// An empty group reports depth only.
	Stats(ctx context.Context, class, group string) (Stats, error)

	// Close releases the store. Pulled but unacknowledged messages become
	// redeliverable after the ack-wait timeout.
	Close() error
}
