package config

import "time"

// defaultStreamConfig returns the default stream store configuration
func defaultStreamConfig() StreamConfig {
	return StreamConfig{
		Backend:    "redis",
		AckWait:    30 * time.Second,
		MaxAge:     24 * time.Hour,
		MaxLen:     1_000_000,
		RoutesFile: "routes.yaml",
	}
}

// defaultRedisConfig returns the default Redis backend configuration
func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:             "localhost:6379",
		KeyPrefix:           "pulse",
		Consumer:            "", // derived from hostname and pid when empty
		DialTimeout:         10 * time.Second,
		ReadTimeout:         10 * time.Second,
		WriteTimeout:        5 * time.Second,
		PingTimeout:         5 * time.Second,
		ConsumerIdleTimeout: 5 * time.Minute,
		MaintenanceInterval: 1 * time.Minute,
	}
}

// defaultNATSConfig returns the default JetStream backend configuration
func defaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		ConnectTimeout: 10 * time.Second,
		MaxReconnects:  5,
		ReconnectWait:  2 * time.Second,
	}
}

// defaultMQTTConfig returns the default MQTT configuration
func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:               "tcp://localhost:1883",
		ClientID:             "pulse-pipeline",
		BridgeTopic:          "tenant/+/device/+/+",
		QoS:                  1,
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         30 * time.Second,
		PoolSize:             4,
		MaxReconnectInterval: 10 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		DisconnectTimeout:    1000,
	}
}

// defaultRegistryConfig returns the default registry cache configuration
func defaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Endpoint:      "http://localhost:8081/v1/resolve",
		CacheTTL:      60 * time.Second,
		LookupTimeout: 5 * time.Second,
	}
}

// defaultIngestConfig returns the default ingest worker pool configuration
func defaultIngestConfig() IngestConfig {
	return IngestConfig{
		Group:           "pulse-ingest",
		Workers:         8,
		BatchSize:       100,
		PullWait:        5 * time.Second,
		MaxDeliver:      5,
		RateBurst:       120,
		RateRPS:         2,
		MaxPayloadBytes: 64 * 1024,
	}
}

// defaultDeliveryConfig returns the default delivery worker pool configuration
func defaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		Group:          "pulse-delivery",
		Workers:        8,
		BatchSize:      50,
		PullWait:       5 * time.Second,
		MaxDeliver:     3,
		WebhookTimeout: 10 * time.Second,
	}
}

// defaultWriterConfig returns the default batching writer configuration
func defaultWriterConfig() WriterConfig {
	return WriterConfig{
		Endpoint:       "http://localhost:8082/v1/bulk",
		RequestTimeout: 10 * time.Second,
		BatchSize:      500,
		FlushInterval:  2 * time.Second,
		MaxRetries:     5,
	}
}

// defaultHTTPConfig returns the default HTTP listener configuration
func defaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ListenAddr:      ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// defaultPipelineConfig returns the default orchestration configuration
func defaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ShutdownTimeout: 30 * time.Second,
		ErrorBackoff:    1 * time.Second,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Stream:   defaultStreamConfig(),
		Redis:    defaultRedisConfig(),
		NATS:     defaultNATSConfig(),
		MQTT:     defaultMQTTConfig(),
		Registry: defaultRegistryConfig(),
		Ingest:   defaultIngestConfig(),
		Delivery: defaultDeliveryConfig(),
		Writer:   defaultWriterConfig(),
		HTTP:     defaultHTTPConfig(),
		Pipeline: defaultPipelineConfig(),
	}
}
