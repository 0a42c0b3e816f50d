package mqtt

import "context"

// Publisher is the interface for publishing messages to MQTT
// Can be implemented by either a single Client or a Pool
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(filter string, handler MessageHandler) error
	Close() error
}

// Ensure Client implements Publisher
var _ Publisher = (*Client)(nil)

// Ensure Pool implements Publisher
var _ Publisher = (*Pool)(nil)
