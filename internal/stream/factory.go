package stream

import (
	"fmt"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
)

// New builds the configured Store backend.
func New(cfg *config.Config, logger *log.Logger) (Store, error) {
	classes := Classes(cfg.Stream.MaxAge, cfg.Stream.MaxLen)
	switch cfg.Stream.Backend {
	case "redis":
		return NewRedisStore(&cfg.Redis, classes, cfg.Stream.AckWait, logger)
	case "jetstream":
		return NewJetStreamStore(&cfg.NATS, classes, cfg.Stream.AckWait, logger)
	case "memory":
		return NewMemoryStore(classes, cfg.Stream.AckWait), nil
	default:
		return nil, fmt.Errorf("unsupported stream backend %q", cfg.Stream.Backend)
	}
}
