package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateQueues(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir is required")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind is required")
	}
	return nil
}

func (c *Config) validateBatch() error {
	switch c.Batch.DefaultDetail {
	case "standard", "high":
	default:
		return fmt.Errorf("batch.default_detail must be standard or high, got %q", c.Batch.DefaultDetail)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay (%d) exceeds retry.max_delay (%d)", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	return nil
}

func (c *Config) validateQueues() error {
	if c.Queues.HeartbeatTimeout <= c.Queues.HeartbeatInterval {
		return fmt.Errorf(
			"queues.heartbeat_timeout (%d) must exceed queues.heartbeat_interval (%d)",
			c.Queues.HeartbeatTimeout, c.Queues.HeartbeatInterval,
		)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
