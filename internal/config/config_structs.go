// Package config provides configuration loading and validation from
// environment variables.
package config

import "time"

// Config holds the complete configuration
type Config struct {
	Stream   StreamConfig
	Redis    RedisConfig
	NATS     NATSConfig
	MQTT     MQTTConfig
	Registry RegistryConfig
	Ingest   IngestConfig
	Delivery DeliveryConfig
	Writer   WriterConfig
	HTTP     HTTPConfig
	Pipeline PipelineConfig
}

// StreamConfig selects and tunes the stream store backend
type StreamConfig struct {
	Backend    string        // redis, jetstream or memory
	AckWait    time.Duration // redelivery floor for unacknowledged messages
	MaxAge     time.Duration // retention window for age-bounded classes
	MaxLen     int64         // size bound for age-bounded classes
	RoutesFile string        // path to the YAML route table
}

// RedisConfig holds Redis stream backend configuration
type RedisConfig struct {
	Address             string
	KeyPrefix           string
	Consumer            string
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PingTimeout         time.Duration
	ConsumerIdleTimeout time.Duration
	MaintenanceInterval time.Duration
}

// NATSConfig holds the JetStream backend configuration
type NATSConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// MQTTConfig holds MQTT client configuration for the ingest bridge and
// the republish destination
type MQTTConfig struct {
	Broker               string
	ClientID             string
	BridgeTopic          string // subscription wildcard for device publications
	QoS                  byte
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	PoolSize             int
	MaxReconnectInterval time.Duration
	SubscribeTimeout     time.Duration
	DisconnectTimeout    uint // Milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled   bool
	CACert       string
	ClientCert   string
	ClientKey    string
	InsecureSkip bool
}

// RegistryConfig holds device registry lookup and cache settings
type RegistryConfig struct {
	Endpoint      string        // device registry resolve URL
	CacheTTL      time.Duration // staleness bound for cached credentials
	LookupTimeout time.Duration
}

// IngestConfig holds ingest worker pool settings
type IngestConfig struct {
	Group           string
	Workers         int
	BatchSize       int
	PullWait        time.Duration
	MaxDeliver      int
	RateBurst       int
	RateRPS         float64
	MaxPayloadBytes int
}

// DeliveryConfig holds route delivery worker pool settings
type DeliveryConfig struct {
	Group          string
	Workers        int
	BatchSize      int
	PullWait       time.Duration
	MaxDeliver     int
	WebhookTimeout time.Duration
}

// WriterConfig holds batching writer settings
type WriterConfig struct {
	Endpoint       string // storage engine bulk write URL
	RequestTimeout time.Duration
	BatchSize      int
	FlushInterval  time.Duration
	MaxRetries     int
}

// HTTPConfig holds the HTTP listener settings (ingest endpoint and metrics)
type HTTPConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	ShutdownTimeout time.Duration
	ErrorBackoff    time.Duration // backoff after a failed pull
}
