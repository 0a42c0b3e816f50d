package config

import "fmt"

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateStream(&cfg.Stream); err != nil {
		return err
	}
	switch cfg.Stream.Backend {
	case "redis":
		if err := validateRedis(&cfg.Redis); err != nil {
			return err
		}
	case "jetstream":
		if err := validateNATS(&cfg.NATS); err != nil {
			return err
		}
	}
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	if err := validateRegistry(&cfg.Registry); err != nil {
		return err
	}
	if err := validateIngest(&cfg.Ingest); err != nil {
		return err
	}
	if err := validateDelivery(&cfg.Delivery); err != nil {
		return err
	}
	return validateWriter(&cfg.Writer)
}

// validateStream validates stream store configuration
func validateStream(cfg *StreamConfig) error {
	switch cfg.Backend {
	case "redis", "jetstream", "memory":
	default:
		return fmt.Errorf("stream backend must be redis, jetstream or memory, got %q", cfg.Backend)
	}
	if cfg.AckWait <= 0 {
		return fmt.Errorf("stream ack wait must be positive")
	}
	if cfg.MaxAge <= 0 {
		return fmt.Errorf("stream max age must be positive")
	}
	if cfg.MaxLen < 1 {
		return fmt.Errorf("stream max len must be positive")
	}
	return nil
}

// validateRedis validates Redis backend configuration
func validateRedis(cfg *RedisConfig) error {
	if cfg.Address == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if cfg.KeyPrefix == "" {
		return fmt.Errorf("redis key prefix cannot be empty")
	}
	return nil
}

// validateNATS validates JetStream backend configuration
func validateNATS(cfg *NATSConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("nats url cannot be empty")
	}
	return nil
}

// validateMQTT validates MQTT configuration
func validateMQTT(cfg *MQTTConfig) error {
	if cfg.Broker == "" {
		return fmt.Errorf("mqtt broker cannot be empty")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.PoolSize < 1 {
		return fmt.Errorf("mqtt pool size must be positive")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt QoS must be 0, 1 or 2")
	}
	return nil
}

// validateRegistry validates registry cache configuration
func validateRegistry(cfg *RegistryConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("registry endpoint cannot be empty")
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("registry cache TTL must be positive")
	}
	return nil
}

// validateIngest validates ingest pool configuration
func validateIngest(cfg *IngestConfig) error {
	if cfg.Group == "" {
		return fmt.Errorf("ingest group cannot be empty")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("ingest workers must be positive")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("ingest batch size must be positive")
	}
	if cfg.MaxDeliver < 1 {
		return fmt.Errorf("ingest max deliver must be positive")
	}
	if cfg.RateBurst < 1 {
		return fmt.Errorf("ingest rate burst must be positive")
	}
	if cfg.RateRPS <= 0 {
		return fmt.Errorf("ingest rate rps must be positive")
	}
	if cfg.MaxPayloadBytes < 1 {
		return fmt.Errorf("ingest max payload bytes must be positive")
	}
	return nil
}

// validateDelivery validates delivery pool configuration
func validateDelivery(cfg *DeliveryConfig) error {
	if cfg.Group == "" {
		return fmt.Errorf("delivery group cannot be empty")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("delivery workers must be positive")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("delivery batch size must be positive")
	}
	if cfg.MaxDeliver < 1 {
		return fmt.Errorf("delivery max deliver must be positive")
	}
	return nil
}

// validateWriter validates batching writer configuration
func validateWriter(cfg *WriterConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("writer endpoint cannot be empty")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("writer batch size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("writer flush interval must be positive")
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("writer max retries must be positive")
	}
	return nil
}
