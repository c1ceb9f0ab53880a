package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the billing engine configuration. Values come from environment
// variables layered over defaults.
type Config struct {
	Logging LoggingConfig
	Stripe  StripeConfig
	Portal  PortalAPIConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Journal JournalConfig
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// StripeConfig holds payment gateway configuration.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string

	// Rate limiting toward the gateway API.
	MaxRequestsPerMinute int
}

// PortalAPIConfig holds the portal backend billing API client configuration.
type PortalAPIConfig struct {
	BaseURL string
	APIKey  string

	// Circuit breaker settings.
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
}

// RedisConfig holds the push-update channel configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// KafkaConfig holds lifecycle event publication configuration.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// JournalConfig holds the provisioning attempt journal database settings.
type JournalConfig struct {
	Enabled bool
	DSN     string
}

// LoadConfig builds the configuration from defaults and environment
// variables, then validates it.
func LoadConfig() (*Config, error) {
	c := &Config{}
	c.setDefaults()
	c.loadFromEnv()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	c.Logging.Level = "info"

	c.Stripe.MaxRequestsPerMinute = 60

	c.Portal.BaseURL = "http://localhost:8080"
	c.Portal.BreakerFailureThreshold = 5
	c.Portal.BreakerOpenTimeout = 30 * time.Second

	c.Redis.Addr = "localhost:6379"
	c.Redis.Channel = "billing.subscription.changed"

	c.Kafka.Topic = "billing.lifecycle"
}

func (c *Config) loadFromEnv() {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dev := os.Getenv("LOG_DEVELOPMENT"); dev != "" {
		c.Logging.Development = dev == "true" || dev == "1"
	}

	if secretKey := os.Getenv("STRIPE_SECRET_KEY"); secretKey != "" {
		c.Stripe.SecretKey = secretKey
	}
	if publishableKey := os.Getenv("STRIPE_PUBLISHABLE_KEY"); publishableKey != "" {
		c.Stripe.PublishableKey = publishableKey
	}
	if rpm := os.Getenv("STRIPE_MAX_REQUESTS_PER_MINUTE"); rpm != "" {
		if v, err := strconv.Atoi(rpm); err == nil && v > 0 {
			c.Stripe.MaxRequestsPerMinute = v
		}
	}

	if baseURL := os.Getenv("PORTAL_API_BASE_URL"); baseURL != "" {
		c.Portal.BaseURL = baseURL
	}
	if apiKey := os.Getenv("PORTAL_API_KEY"); apiKey != "" {
		c.Portal.APIKey = apiKey
	}
	if threshold := os.Getenv("PORTAL_BREAKER_FAILURE_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseUint(threshold, 10, 32); err == nil && v > 0 {
			c.Portal.BreakerFailureThreshold = uint32(v)
		}
	}
	if timeout := os.Getenv("PORTAL_BREAKER_OPEN_TIMEOUT"); timeout != "" {
		if v, err := time.ParseDuration(timeout); err == nil {
			c.Portal.BreakerOpenTimeout = v
		}
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if v, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = v
		}
	}
	if channel := os.Getenv("REDIS_PUSH_CHANNEL"); channel != "" {
		c.Redis.Channel = channel
	}

	if enabled := os.Getenv("KAFKA_ENABLED"); enabled != "" {
		c.Kafka.Enabled = enabled == "true" || enabled == "1"
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		c.Kafka.Topic = topic
	}

	if enabled := os.Getenv("JOURNAL_ENABLED"); enabled != "" {
		c.Journal.Enabled = enabled == "true" || enabled == "1"
	}
	if dsn := os.Getenv("JOURNAL_DATABASE_DSN"); dsn != "" {
		c.Journal.DSN = dsn
	}
}

func (c *Config) validate() error {
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("PORTAL_API_BASE_URL is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when Kafka is enabled")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("JOURNAL_DATABASE_DSN is required when the journal is enabled")
	}
	return nil
}
