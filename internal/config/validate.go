package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks cross-field constraints that env-default tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	switch strings.ToLower(c.Database.Driver) {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Database.Driver))
	}

	if c.Auction.BidAttempts < 1 {
		errs = append(errs, fmt.Errorf("auction.bid_attempts must be positive, got %d", c.Auction.BidAttempts))
	}
	if len(strings.TrimSpace(c.Auction.Currency)) != 3 {
		errs = append(errs, fmt.Errorf("auction.currency must be an ISO 4217 code, got %q", c.Auction.Currency))
	}

	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("scheduler.batch_size must be positive"))
	}

	if c.Notifications.QueueSize <= 0 || c.Notifications.Workers <= 0 {
		errs = append(errs, errors.New("notifications.queue_size and notifications.workers must be positive"))
	}
	if c.Notifications.MaxRetries < 0 {
		errs = append(errs, errors.New("notifications.max_retries must not be negative"))
	}
	if c.Notifications.InitialBackoff <= 0 || c.Notifications.MaxBackoff < c.Notifications.InitialBackoff {
		errs = append(errs, errors.New("notifications backoff bounds are invalid"))
	}

	if c.Payments.MaxAttempts <= 0 || c.Payments.MaxSweeps <= 0 {
		errs = append(errs, errors.New("payments.max_attempts and payments.max_sweeps must be positive"))
	}
	if c.Payments.InitialBackoff <= 0 || c.Payments.MaxBackoff < c.Payments.InitialBackoff {
		errs = append(errs, errors.New("payments backoff bounds are invalid"))
	}
	if c.Payments.RetryInterval <= 0 {
		errs = append(errs, errors.New("payments.retry_interval must be positive"))
	}

	return errors.Join(errs...)
}
