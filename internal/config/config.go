package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServiceName string
	Port        string
	Store       string
	LogLevel    string

	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Redis      RedisConfig
	Gateway    GatewayConfig
	Settlement SettlementConfig
	Timeout    TimeoutConfig
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RabbitMQConfig struct {
	Enabled           bool
	Host              string
	Port              int
	Username          string
	Password          string
	VHost             string
	Exchange          string
	Queue             string
	RetryCount        int
	RetryDelay        time.Duration
	ConnectionTimeout time.Duration
}

func (c RabbitMQConfig) ConnectionURL() string {
	vhost := c.VHost
	if vhost != "/" && !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.Username, c.Password, c.Host, c.Port, vhost)
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	LockExpiry time.Duration
	LockTries  int
}

// Enabled reports whether a distributed lock should be used instead of the in-process one.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type GatewayConfig struct {
	SuccessRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

type SettlementConfig struct {
	Workers   int
	QueueSize int
}

type TimeoutConfig struct {
	Threshold   time.Duration
	SweepCron   string
	SweepBudget time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory fills in variables that are unset or empty; getEnv treats both alike.
func Load() (*Config, error) {
	if envMap, err := godotenv.Read(); err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "payment-service"),
		Port:        getEnv("PORT", "8002"),
		Store:       strings.ToLower(getEnv("STORE", StorePostgres)),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Name:         getEnv("DB_NAME", "cemetery_payment"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: cast.ToInt(getEnv("DB_MAX_OPEN_CONNS", "25")),
			MaxIdleConns: cast.ToInt(getEnv("DB_MAX_IDLE_CONNS", "10")),
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:           cast.ToBool(getEnv("RABBITMQ_ENABLED", "true")),
			Host:              getEnv("RABBITMQ_HOST", "localhost"),
			Port:              cast.ToInt(getEnv("RABBITMQ_PORT", "5672")),
			Username:          getEnv("RABBITMQ_USERNAME", "guest"),
			Password:          getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:             getEnv("RABBITMQ_VHOST", "/"),
			Exchange:          getEnv("RABBITMQ_EXCHANGE", "payment.events"),
			Queue:             getEnv("RABBITMQ_QUEUE", "payment-service-queue"),
			RetryCount:        cast.ToInt(getEnv("RABBITMQ_RETRY_COUNT", "3")),
			RetryDelay:        cast.ToDuration(getEnv("RABBITMQ_RETRY_DELAY", "5s")),
			ConnectionTimeout: cast.ToDuration(getEnv("RABBITMQ_CONNECTION_TIMEOUT", "30s")),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         cast.ToInt(getEnv("REDIS_DB", "0")),
			LockExpiry: cast.ToDuration(getEnv("PAYMENT_LOCK_EXPIRY", "30s")),
			LockTries:  cast.ToInt(getEnv("PAYMENT_LOCK_TRIES", "32")),
		},
		Gateway: GatewayConfig{
			SuccessRate: cast.ToFloat64(getEnv("PAYMENT_SUCCESS_RATE", "0.9")),
			MinDelay:    cast.ToDuration(getEnv("PAYMENT_MIN_DELAY", "1s")),
			MaxDelay:    cast.ToDuration(getEnv("PAYMENT_MAX_DELAY", "3s")),
		},
		Settlement: SettlementConfig{
			Workers:   cast.ToInt(getEnv("SETTLEMENT_WORKERS", "8")),
			QueueSize: cast.ToInt(getEnv("SETTLEMENT_QUEUE_SIZE", "256")),
		},
		Timeout: TimeoutConfig{
			Threshold:   cast.ToDuration(getEnv("PAYMENT_TIMEOUT", "30m")),
			SweepCron:   getEnv("TIMEOUT_SWEEP_CRON", "0 */5 * * * *"),
			SweepBudget: cast.ToDuration(getEnv("TIMEOUT_SWEEP_BUDGET", "2m")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("config: unsupported STORE %q", c.Store)
	}
	if c.Gateway.SuccessRate < 0 || c.Gateway.SuccessRate > 1 {
		return fmt.Errorf("config: PAYMENT_SUCCESS_RATE must be within [0, 1], got %v", c.Gateway.SuccessRate)
	}
	if c.Gateway.MaxDelay < c.Gateway.MinDelay {
		return fmt.Errorf("config: PAYMENT_MAX_DELAY %s is below PAYMENT_MIN_DELAY %s", c.Gateway.MaxDelay, c.Gateway.MinDelay)
	}
	if c.Settlement.Workers < 1 {
		return fmt.Errorf("config: SETTLEMENT_WORKERS must be positive")
	}
	if c.Settlement.QueueSize < 0 {
		return fmt.Errorf("config: SETTLEMENT_QUEUE_SIZE must not be negative")
	}
	if c.Timeout.Threshold <= 0 {
		return fmt.Errorf("config: PAYMENT_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
