package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Auction       AuctionConfig      `yaml:"auction"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Payments      PaymentConfig      `yaml:"payments"`
	Log           LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"PORT"                    env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and configures the auction store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"             env:"DATABASE_DRIVER"             env-default:"memory"`
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"   env:"DATABASE_MIGRATE_ON_START"   env-default:"true"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// AuctionConfig holds bidding policy.
type AuctionConfig struct {
	AllowSelfOutbid bool   `yaml:"allow_self_outbid" env:"AUCTION_ALLOW_SELF_OUTBID" env-default:"false"`
	BidAttempts     int    `yaml:"bid_attempts"      env:"AUCTION_BID_ATTEMPTS"      env-default:"2"`
	Currency        string `yaml:"currency"          env:"AUCTION_CURRENCY"          env-default:"EUR"`
}

// SchedulerConfig holds lifecycle tick settings.
type SchedulerConfig struct {
	Interval  time.Duration `yaml:"interval"   env:"SCHEDULER_INTERVAL"   env-default:"2s"`
	BatchSize int           `yaml:"batch_size" env:"SCHEDULER_BATCH_SIZE" env-default:"100"`
}

// NotificationConfig holds dispatcher queue and retry settings.
type NotificationConfig struct {
	QueueSize      int           `yaml:"queue_size"      env:"NOTIFY_QUEUE_SIZE"      env-default:"1024"`
	Workers        int           `yaml:"workers"         env:"NOTIFY_WORKERS"         env-default:"4"`
	MaxRetries     int           `yaml:"max_retries"     env:"NOTIFY_MAX_RETRIES"     env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"NOTIFY_INITIAL_BACKOFF" env-default:"100ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff"     env:"NOTIFY_MAX_BACKOFF"     env-default:"5s"`
}

// PaymentConfig holds capture retry settings.
type PaymentConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"    env:"PAYMENT_MAX_ATTEMPTS"    env-default:"4"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"PAYMENT_INITIAL_BACKOFF" env-default:"200ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff"     env:"PAYMENT_MAX_BACKOFF"     env-default:"10s"`
	RetryInterval  time.Duration `yaml:"retry_interval"  env:"PAYMENT_RETRY_INTERVAL"  env-default:"30s"`
	MaxSweeps      int           `yaml:"max_sweeps"      env:"PAYMENT_MAX_SWEEPS"      env-default:"10"`
	// DeclineUsers lists bidder IDs the simulated gateway declines.
	DeclineUsers []string `yaml:"decline_users" env:"PAYMENT_DECLINE_USERS" env-separator:","`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}
