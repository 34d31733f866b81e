package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	MQTT        MQTTConfig
	Auth        AuthConfig
	RabbitMQ    RabbitMQConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL     string
	Migrate bool
}

// MQTTConfig holds the device command channel settings
type MQTTConfig struct {
	BrokerURL        string
	ClientID         string
	Username         string
	Password         string
	QoS              int
	CommandQueueSize int
	Publish          PublishRetryConfig
}

// PublishRetryConfig bounds the retries of outbound device commands
type PublishRetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// AuthConfig holds identity resolution settings
type AuthConfig struct {
	JWTSecret     string
	RequiredScope string
}

// RabbitMQConfig holds the billing event broker settings.
// An empty URL disables billing events.
type RabbitMQConfig struct {
	URL             string
	BillingExchange string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "occupancy-billing-worker"),
		Database: DatabaseConfig{
			URL:     getEnv("DATABASE_URL", ""),
			Migrate: getEnvAsBool("DATABASE_MIGRATE", true),
		},
		MQTT: MQTTConfig{
			BrokerURL:        getEnv("MQTT_BROKER_URL", ""),
			ClientID:         getEnv("MQTT_CLIENT_ID", "occupancy-billing-worker"),
			Username:         getEnv("MQTT_USERNAME", ""),
			Password:         getEnv("MQTT_PASSWORD", ""),
			QoS:              getEnvAsInt("MQTT_QOS", 1),
			CommandQueueSize: getEnvAsInt("MQTT_COMMAND_QUEUE_SIZE", 256),
			Publish: PublishRetryConfig{
				MaxAttempts:    getEnvAsInt("MQTT_PUBLISH_MAX_ATTEMPTS", 5),
				InitialBackoff: time.Duration(getEnvAsInt("MQTT_PUBLISH_BACKOFF_INITIAL_MS", 500)) * time.Millisecond,
				MaxBackoff:     time.Duration(getEnvAsInt("MQTT_PUBLISH_BACKOFF_MAX_MS", 30000)) * time.Millisecond,
			},
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("AUTH_JWT_SECRET", ""),
			RequiredScope: getEnv("AUTH_REQUIRED_SCOPE", "employee"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			BillingExchange: getEnv("RABBITMQ_BILLING_EXCHANGE", "occupancy-billing.events.exchange"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.MQTT.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT_BROKER_URL is required but not set in environment variables")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required but not set in environment variables")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Publish.MaxAttempts < 1 {
		cfg.MQTT.Publish.MaxAttempts = 1
	}
	if cfg.MQTT.CommandQueueSize < 1 {
		cfg.MQTT.CommandQueueSize = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
