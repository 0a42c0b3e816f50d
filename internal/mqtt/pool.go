package mqtt

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
)

// Pool manages multiple MQTT client connections for high throughput
type Pool struct {
	clients []*Client
	next    atomic.Uint64
	size    int
	log     *log.Logger
}

// NewPool creates a new MQTT connection pool
func NewPool(cfg *config.MQTTConfig, poolSize int, logger *log.Logger) (*Pool, error) {
	if poolSize < 1 {
		poolSize = 1
	}

	// Unique base Client ID per process instance, so multiple pipeline
	// instances can run with the same config without broker collisions.
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	pid := os.Getpid()
	baseClientID := fmt.Sprintf("%s-%s-%d", cfg.ClientID, hostname, pid)

	clients := make([]*Client, poolSize)

	for i := 0; i < poolSize; i++ {
		clientCfg := *cfg
		clientCfg.ClientID = fmt.Sprintf("%s-%d", baseClientID, i)

		client, err := NewClient(&clientCfg, logger)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = clients[j].Close()
			}
			return nil, fmt.Errorf("failed to create client %d: %w", i, err)
		}

		clients[i] = client
	}

	return &Pool{
		clients: clients,
		size:    poolSize,
		log:     logger,
	}, nil
}

// Publish publishes a message using round-robin across connections
func (p *Pool) Publish(ctx context.Context, topic string, payload []byte) error {
	idx := p.next.Add(1) % uint64(p.size) // #nosec G115
	return p.clients[idx].Publish(ctx, topic, payload)
}

// Subscribe registers the handler on a single connection; the broker
// fans messages out per subscription, not per pool member.
func (p *Pool) Subscribe(filter string, handler MessageHandler) error {
	return p.clients[0].Subscribe(filter, handler)
}

// Close closes all connections in the pool
func (p *Pool) Close() error {
	var lastErr error
	for i, client := range p.clients {
		if err := client.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close client %d: %w", i, err)
		}
	}
	return lastErr
}
