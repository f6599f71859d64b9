package config

const (
	defaultDataDir              = "~/.local/share/lathe"
	defaultStagingDir           = "~/.local/share/lathe/staging"
	defaultLogDir               = "~/.local/share/lathe/logs"
	defaultAPIBind              = "127.0.0.1:7319"
	defaultGeneratorTimeout     = 300
	defaultGeneratorRate        = 4.0
	defaultGeneratorBurst       = 2
	defaultMaxBatchItems        = 50
	defaultDetail               = "standard"
	defaultConversionWorkers    = 2
	defaultPriorityWorkers      = 1
	defaultMaintenanceWorkers   = 1
	defaultQueuePollInterval    = 2
	defaultErrorRetryInterval   = 5
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultRetryMaxAttempts     = 3
	defaultRetryBaseDelay       = 1
	defaultRetryMaxDelay        = 60
	defaultRetentionMinutes     = 60
	defaultStreamHeartbeat      = 15
	defaultHubCapacity          = 1024
	defaultCleanupInterval      = 3600
	defaultMaxConcurrentUploads = 2
	defaultTransferMaxRetries   = 3
	defaultTransferRetryDelay   = 2
	defaultExpireCompletedHours = 24
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Generator: Generator{
			CallTimeout:    defaultGeneratorTimeout,
			RequestsPerSec: defaultGeneratorRate,
			Burst:          defaultGeneratorBurst,
		},
		Batch: Batch{
			MaxItems:      defaultMaxBatchItems,
			DefaultDetail: defaultDetail,
		},
		Queues: Queues{
			ConversionWorkers:  defaultConversionWorkers,
			PriorityWorkers:    defaultPriorityWorkers,
			MaintenanceWorkers: defaultMaintenanceWorkers,
			PollInterval:       defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelay:   defaultRetryBaseDelay,
			MaxDelay:    defaultRetryMaxDelay,
		},
		Progress: Progress{
			RetentionMinutes: defaultRetentionMinutes,
			StreamHeartbeat:  defaultStreamHeartbeat,
			HubCapacity:      defaultHubCapacity,
			CleanupInterval:  defaultCleanupInterval,
		},
		Transfer: Transfer{
			MaxConcurrentUploads: defaultMaxConcurrentUploads,
			MaxRetries:           defaultTransferMaxRetries,
			RetryBaseDelay:       defaultTransferRetryDelay,
			ExpireCompletedHours: defaultExpireCompletedHours,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			BatchOutcomes:  true,
			TaskFailures:   true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
