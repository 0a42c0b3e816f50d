package config

import (
	"os"
	"strconv"
	"time"
)

// loadStreamFromEnv loads stream store configuration from environment variables
func loadStreamFromEnv(cfg *StreamConfig) {
	if v := getEnvString("STREAM_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := getEnvDuration("STREAM_ACK_WAIT"); v != 0 {
		cfg.AckWait = v
	}
	if v := getEnvDuration("STREAM_MAX_AGE"); v != 0 {
		cfg.MaxAge = v
	}
	if v := getEnvInt64("STREAM_MAX_LEN"); v != 0 {
		cfg.MaxLen = v
	}
	if v := getEnvString("ROUTES_FILE"); v != "" {
		cfg.RoutesFile = v
	}
}

// loadRedisFromEnv loads Redis configuration from environment variables
func loadRedisFromEnv(cfg *RedisConfig) {
	if v := getEnvString("REDIS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvString("REDIS_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}
	if v := getEnvString("REDIS_CONSUMER"); v != "" {
		cfg.Consumer = v
	}
	if v := getEnvDuration("REDIS_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("REDIS_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("REDIS_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("REDIS_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
	if v := getEnvDuration("REDIS_CONSUMER_IDLE_TIMEOUT"); v != 0 {
		cfg.ConsumerIdleTimeout = v
	}
	if v := getEnvDuration("REDIS_MAINTENANCE_INTERVAL"); v != 0 {
		cfg.MaintenanceInterval = v
	}
}

// loadNATSFromEnv loads JetStream configuration from environment variables
func loadNATSFromEnv(cfg *NATSConfig) {
	if v := getEnvString("NATS_URL"); v != "" {
		cfg.URL = v
	}
	if v := getEnvDuration("NATS_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvInt("NATS_MAX_RECONNECTS"); v != 0 {
		cfg.MaxReconnects = v
	}
	if v := getEnvDuration("NATS_RECONNECT_WAIT"); v != 0 {
		cfg.ReconnectWait = v
	}
}

// loadMQTTFromEnv loads MQTT configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTNumbers(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTTLS(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_BRIDGE_TOPIC"); v != "" {
		cfg.BridgeTopic = v
	}
}

func loadMQTTNumbers(cfg *MQTTConfig) {
	if v := getEnvInt("MQTT_QOS"); v != 0 {
		cfg.QoS = byte(v) // #nosec G115 -- validated to 0..2
	}
	if v := getEnvInt("MQTT_POOL_SIZE"); v != 0 {
		cfg.PoolSize = v
	}
	if v := getEnvInt("MQTT_DISCONNECT_TIMEOUT"); v != 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 -- validated non-negative
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("MQTT_MAX_RECONNECT_INTERVAL"); v != 0 {
		cfg.MaxReconnectInterval = v
	}
	if v := getEnvDuration("MQTT_SUBSCRIBE_TIMEOUT"); v != 0 {
		cfg.SubscribeTimeout = v
	}
}

func loadMQTTTLS(cfg *MQTTConfig) {
	if v := getEnvBool("MQTT_TLS_ENABLED"); v {
		cfg.TLSEnabled = v
	}
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
	if v := getEnvBool("MQTT_TLS_INSECURE_SKIP"); v {
		cfg.InsecureSkip = v
	}
}

// loadRegistryFromEnv loads registry cache configuration from environment variables
func loadRegistryFromEnv(cfg *RegistryConfig) {
	if v := getEnvString("REGISTRY_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := getEnvDuration("REGISTRY_CACHE_TTL"); v != 0 {
		cfg.CacheTTL = v
	}
	if v := getEnvDuration("REGISTRY_LOOKUP_TIMEOUT"); v != 0 {
		cfg.LookupTimeout = v
	}
}

// loadIngestFromEnv loads ingest pool configuration from environment variables
func loadIngestFromEnv(cfg *IngestConfig) {
	if v := getEnvString("INGEST_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := getEnvInt("INGEST_WORKERS"); v != 0 {
		cfg.Workers = v
	}
	if v := getEnvInt("INGEST_BATCH_SIZE"); v != 0 {
		cfg.BatchSize = v
	}
	if v := getEnvDuration("INGEST_PULL_WAIT"); v != 0 {
		cfg.PullWait = v
	}
	if v := getEnvInt("INGEST_MAX_DELIVER"); v != 0 {
		cfg.MaxDeliver = v
	}
	if v := getEnvInt("INGEST_RATE_BURST"); v != 0 {
		cfg.RateBurst = v
	}
	if v := getEnvFloat("INGEST_RATE_RPS"); v != 0 {
		cfg.RateRPS = v
	}
	if v := getEnvInt("INGEST_MAX_PAYLOAD_BYTES"); v != 0 {
		cfg.MaxPayloadBytes = v
	}
}

// loadDeliveryFromEnv loads delivery pool configuration from environment variables
func loadDeliveryFromEnv(cfg *DeliveryConfig) {
	if v := getEnvString("DELIVERY_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := getEnvInt("DELIVERY_WORKERS"); v != 0 {
		cfg.Workers = v
	}
	if v := getEnvInt("DELIVERY_BATCH_SIZE"); v != 0 {
		cfg.BatchSize = v
	}
	if v := getEnvDuration("DELIVERY_PULL_WAIT"); v != 0 {
		cfg.PullWait = v
	}
	if v := getEnvInt("DELIVERY_MAX_DELIVER"); v != 0 {
		cfg.MaxDeliver = v
	}
	if v := getEnvDuration("DELIVERY_WEBHOOK_TIMEOUT"); v != 0 {
		cfg.WebhookTimeout = v
	}
}

// loadWriterFromEnv loads batching writer configuration from environment variables
func loadWriterFromEnv(cfg *WriterConfig) {
	if v := getEnvString("WRITER_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := getEnvDuration("WRITER_REQUEST_TIMEOUT"); v != 0 {
		cfg.RequestTimeout = v
	}
	if v := getEnvInt("WRITER_BATCH_SIZE"); v != 0 {
		cfg.BatchSize = v
	}
	if v := getEnvDuration("WRITER_FLUSH_INTERVAL"); v != 0 {
		cfg.FlushInterval = v
	}
	if v := getEnvInt("WRITER_MAX_RETRIES"); v != 0 {
		cfg.MaxRetries = v
	}
}

// loadHTTPFromEnv loads HTTP listener configuration from environment variables
func loadHTTPFromEnv(cfg *HTTPConfig) {
	if v := getEnvString("HTTP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getEnvDuration("HTTP_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("HTTP_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("HTTP_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
}

// loadPipelineFromEnv loads orchestration configuration from environment variables
func loadPipelineFromEnv(cfg *PipelineConfig) {
	if v := getEnvDuration("PIPELINE_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
	if v := getEnvDuration("PIPELINE_ERROR_BACKOFF"); v != 0 {
		cfg.ErrorBackoff = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return intValue
}

func getEnvInt64(key string) int64 {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return intValue
}

func getEnvFloat(key string) float64 {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return floatValue
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) bool {
	return os.Getenv(key) == "true"
}
