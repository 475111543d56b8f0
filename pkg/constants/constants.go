package constants

import "time"

// Default tuning values for the context scheduler.
// All of them are operational knobs and can be overridden via environment.
const (
	// DefaultDebounceWindowSeconds - quiet period before buffered fragments are flushed
	DefaultDebounceWindowSeconds = 30

	// DefaultContextDelaySeconds - reply delay applied after a recent system message
	DefaultContextDelaySeconds = 30

	// DefaultActivityWindowSeconds - how long a system message keeps influencing replies
	DefaultActivityWindowSeconds = 300

	// DefaultPipelineTimeoutSeconds - per-unit bound on the external pipeline call
	DefaultPipelineTimeoutSeconds = 120

	// DefaultCleanupIntervalSeconds - period of the stale-entry eviction routine
	DefaultCleanupIntervalSeconds = 60

	// DefaultActivityEvictMultiple - records older than multiple x activity window are evicted
	DefaultActivityEvictMultiple = 3
)

// Configuration environment variable names
const (
	EnvPort                  = "PORT"
	EnvLogLevel              = "LOG_LEVEL"
	EnvDebounceWindowSeconds = "DEBOUNCE_WINDOW_SECONDS"
	EnvContextDelaySeconds   = "CONTEXT_DELAY_SECONDS"
	EnvActivityWindowSeconds = "ACTIVITY_WINDOW_SECONDS"
	EnvPipelineTimeout       = "PIPELINE_TIMEOUT_SECONDS"
	EnvCleanupInterval       = "CLEANUP_INTERVAL_SECONDS"
	EnvActivityEvictMultiple = "ACTIVITY_EVICT_MULTIPLE"
	EnvRedisURL              = "REDIS_URL"
	EnvPipelineURL           = "PIPELINE_URL"
	EnvInstanceID            = "INSTANCE_ID"
)

// Redis key prefixes for the optional context store
const (
	ActivityKeyPrefix = "context:activity:"
	OverrideKeyPrefix = "context:override:"
)

func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
