package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGenerator()
	c.normalizeBatch()
	c.normalizeQueues()
	c.normalizeRetry()
	c.normalizeProgress()
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeGenerator() {
	c.Generator.BaseURL = strings.TrimRight(strings.TrimSpace(c.Generator.BaseURL), "/")
	c.Generator.APIKey = strings.TrimSpace(c.Generator.APIKey)
	if c.Generator.CallTimeout <= 0 {
		c.Generator.CallTimeout = defaultGeneratorTimeout
	}
	if c.Generator.RequestsPerSec <= 0 {
		c.Generator.RequestsPerSec = defaultGeneratorRate
	}
	if c.Generator.Burst <= 0 {
		c.Generator.Burst = defaultGeneratorBurst
	}
}

func (c *Config) normalizeBatch() {
	if c.Batch.MaxItems <= 0 {
		c.Batch.MaxItems = defaultMaxBatchItems
	}
	c.Batch.DefaultDetail = strings.ToLower(strings.TrimSpace(c.Batch.DefaultDetail))
	if c.Batch.DefaultDetail == "" {
		c.Batch.DefaultDetail = defaultDetail
	}
}

func (c *Config) normalizeQueues() {
	if c.Queues.ConversionWorkers <= 0 {
		c.Queues.ConversionWorkers = defaultConversionWorkers
	}
	if c.Queues.PriorityWorkers <= 0 {
		c.Queues.PriorityWorkers = defaultPriorityWorkers
	}
	if c.Queues.MaintenanceWorkers <= 0 {
		c.Queues.MaintenanceWorkers = defaultMaintenanceWorkers
	}
	if c.Queues.PollInterval <= 0 {
		c.Queues.PollInterval = defaultQueuePollInterval
	}
	if c.Queues.ErrorRetryInterval <= 0 {
		c.Queues.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Queues.HeartbeatInterval <= 0 {
		c.Queues.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Queues.HeartbeatTimeout <= 0 {
		c.Queues.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = defaultRetryBaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaultRetryMaxDelay
	}
}

func (c *Config) normalizeProgress() {
	if c.Progress.RetentionMinutes <= 0 {
		c.Progress.RetentionMinutes = defaultRetentionMinutes
	}
	if c.Progress.StreamHeartbeat <= 0 {
		c.Progress.StreamHeartbeat = defaultStreamHeartbeat
	}
	if c.Progress.HubCapacity <= 0 {
		c.Progress.HubCapacity = defaultHubCapacity
	}
	if c.Progress.CleanupInterval <= 0 {
		c.Progress.CleanupInterval = defaultCleanupInterval
	}
}

func (c *Config) normalizeTransfer() error {
	if c.Transfer.MaxConcurrentUploads <= 0 {
		c.Transfer.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}
	if c.Transfer.MaxRetries < 0 {
		c.Transfer.MaxRetries = defaultTransferMaxRetries
	}
	if c.Transfer.RetryBaseDelay <= 0 {
		c.Transfer.RetryBaseDelay = defaultTransferRetryDelay
	}
	if c.Transfer.ExpireCompletedHours <= 0 {
		c.Transfer.ExpireCompletedHours = defaultExpireCompletedHours
	}
	var err error
	if c.Transfer.StateFile, err = expandPath(c.Transfer.StateFile); err != nil {
		return fmt.Errorf("transfer.state_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
