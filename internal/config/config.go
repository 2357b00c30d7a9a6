package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SinkRedis = "redis"
	SinkKafka = "kafka"
	SinkNone  = "none"
)

type Config struct {
	HTTPAddr    string `yaml:"httpAddr"`
	GRPCAddr    string `yaml:"grpcAddr"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`

	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
	Relay RelayConfig `yaml:"relay"`

	DefaultReorderQuantity int           `yaml:"defaultReorderQuantity"`
	MonitorInterval        time.Duration `yaml:"monitorInterval"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"poolSize"`
	Stream   string `yaml:"stream"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RelayConfig struct {
	Sink      string        `yaml:"sink"`
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batchSize"`
	Interval  time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		Environment: "development",
		LogLevel:    "info",
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/stockledger?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
			Stream:   "stock:movements",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "stock.movements",
		},
		Relay: RelayConfig{
			Sink:      SinkRedis,
			Workers:   10,
			BatchSize: 500,
			Interval:  time.Second,
		},
		DefaultReorderQuantity: 50,
		MonitorInterval:        time.Minute,
	}
}

// Load starts from defaults, applies the YAML file named by
// STOCK_LEDGER_CONFIG if set, then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("STOCK_LEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.GRPCAddr, "GRPC_ADDR")
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Relay.Sink, "MOVEMENT_SINK")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	for name, dst := range map[string]*int{
		"RELAY_WORKERS":            &c.Relay.Workers,
		"RELAY_BATCH_SIZE":         &c.Relay.BatchSize,
		"DEFAULT_REORDER_QUANTITY": &c.DefaultReorderQuantity,
	} {
		if err := setInt(dst, name); err != nil {
			return err
		}
	}

	for name, dst := range map[string]*time.Duration{
		"RELAY_INTERVAL":   &c.Relay.Interval,
		"MONITOR_INTERVAL": &c.MonitorInterval,
	} {
		if err := setDuration(dst, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Relay.Sink {
	case SinkRedis, SinkKafka, SinkNone:
	default:
		return fmt.Errorf("unknown movement sink %q", c.Relay.Sink)
	}
	if c.Relay.Workers <= 0 {
		return fmt.Errorf("relay workers must be positive, got %d", c.Relay.Workers)
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("relay batch size must be positive, got %d", c.Relay.BatchSize)
	}
	if c.Relay.Interval <= 0 {
		return fmt.Errorf("relay interval must be positive, got %s", c.Relay.Interval)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", c.MonitorInterval)
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if c.Relay.Sink == SinkKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required for the kafka sink")
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
