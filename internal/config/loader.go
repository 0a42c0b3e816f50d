package config

import "fmt"

// Load loads configuration with precedence: defaults → environment variables.
// It validates the final configuration before returning it.
func Load() (*Config, error) {
	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Apply environment variables
	loadStreamFromEnv(&cfg.Stream)
	loadRedisFromEnv(&cfg.Redis)
	loadNATSFromEnv(&cfg.NATS)
	loadMQTTFromEnv(&cfg.MQTT)
	loadRegistryFromEnv(&cfg.Registry)
	loadIngestFromEnv(&cfg.Ingest)
	loadDeliveryFromEnv(&cfg.Delivery)
	loadWriterFromEnv(&cfg.Writer)
	loadHTTPFromEnv(&cfg.HTTP)
	loadPipelineFromEnv(&cfg.Pipeline)

	// Step 3: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
