package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Readers  []ReaderConfig `yaml:"readers"`
	TagGuard TagGuardConfig `yaml:"tagguard"`
}

// DatabaseConfig with an empty host runs the gateway on the in-memory store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	TagScannedTopicName string `yaml:"tag_scanned_topic_name"`
	TheftAlertTopicName string `yaml:"theft_alert_topic_name"`
	GateScanTopicName   string `yaml:"gate_scan_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MQTTConfig struct {
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	AlertTopicPrefix string `yaml:"alert_topic_prefix"`
}

type ReaderConfig struct {
	ID       string  `yaml:"id"`
	IP       string  `yaml:"ip"`
	Port     int     `yaml:"port"`
	Address  int     `yaml:"address"` // 0 selects the broadcast address
	Mode     string  `yaml:"mode"`    // "active" | "passive"
	Type     string  `yaml:"type"`    // "GATE" | "BATH"
	Location string  `yaml:"location"`
	StoreID  *uint64 `yaml:"store_id"`
}

type TagGuardConfig struct {
	GRPCAddr           string `yaml:"grpc_addr"`
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	ProductCacheTTLSeconds int `yaml:"product_cache_ttl_seconds"`
	TagQueueSize           int `yaml:"tag_queue_size"`

	ConnectTimeoutMs       int  `yaml:"connect_timeout_ms"`
	CommandTimeoutMs       int  `yaml:"command_timeout_ms"`
	CommandMaxRetries      int  `yaml:"command_max_retries"`
	StrictCRC              bool `yaml:"strict_crc"`
	MaxConsecutiveTimeouts int  `yaml:"max_consecutive_timeouts"`
	ScanIntervalMs         int  `yaml:"scan_interval_ms"`
	HealthCheckIntervalMs  int  `yaml:"health_check_interval_ms"`

	// Reconnect backoff. Defaults: 5/15/30/60 seconds.
	ReconnectBackoff1Seconds int `yaml:"reconnect_backoff_1_seconds"`
	ReconnectBackoff2Seconds int `yaml:"reconnect_backoff_2_seconds"`
	ReconnectBackoff3Seconds int `yaml:"reconnect_backoff_3_seconds"`
	ReconnectBackoff4Seconds int `yaml:"reconnect_backoff_4_seconds"`

	NotifyChannel     string `yaml:"notify_channel"` // "log" | "webhook" | "mqtt"
	NotifyWebhookURL  string `yaml:"notify_webhook_url"`
	NotifyConcurrency int    `yaml:"notify_concurrency"`

	CommandRateLimitPerMinute int    `yaml:"command_rate_limit_per_minute"`
	LabelKeyHex               string `yaml:"label_key_hex"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
