package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"whatsapp-context-scheduler/pkg/constants"
)

type Config struct {
	Port                   string
	LogLevel               string
	DebounceWindowSeconds  int
	ContextDelaySeconds    int
	ActivityWindowSeconds  int
	PipelineTimeoutSeconds int
	CleanupIntervalSeconds int
	ActivityEvictMultiple  int
	RedisURL               string
	PipelineURL            string
	InstanceID             string
}

// Load reads configuration from the environment. A variable that is set but
// does not parse, or that holds a non-positive duration, is a startup error:
// tuning values must never silently fall back to defaults.
func Load() (*Config, error) {
	config := &Config{
		Port:        getEnv(constants.EnvPort, "8080"),
		LogLevel:    getEnv(constants.EnvLogLevel, "info"),
		RedisURL:    getEnv(constants.EnvRedisURL, ""),
		PipelineURL: getEnv(constants.EnvPipelineURL, ""),
		InstanceID:  getEnv(constants.EnvInstanceID, ""),
	}
	if config.InstanceID == "" {
		config.InstanceID = generateInstanceID()
	}

	var err error
	if config.DebounceWindowSeconds, err = getEnvPositiveInt(constants.EnvDebounceWindowSeconds, constants.DefaultDebounceWindowSeconds); err != nil {
		return nil, err
	}
	if config.ContextDelaySeconds, err = getEnvPositiveInt(constants.EnvContextDelaySeconds, constants.DefaultContextDelaySeconds); err != nil {
		return nil, err
	}
	if config.ActivityWindowSeconds, err = getEnvPositiveInt(constants.EnvActivityWindowSeconds, constants.DefaultActivityWindowSeconds); err != nil {
		return nil, err
	}
	if config.PipelineTimeoutSeconds, err = getEnvPositiveInt(constants.EnvPipelineTimeout, constants.DefaultPipelineTimeoutSeconds); err != nil {
		return nil, err
	}
	if config.CleanupIntervalSeconds, err = getEnvPositiveInt(constants.EnvCleanupInterval, constants.DefaultCleanupIntervalSeconds); err != nil {
		return nil, err
	}
	if config.ActivityEvictMultiple, err = getEnvPositiveInt(constants.EnvActivityEvictMultiple, constants.DefaultActivityEvictMultiple); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) DebounceWindow() time.Duration {
	return constants.SecondsToDuration(c.DebounceWindowSeconds)
}

func (c *Config) ContextDelay() time.Duration {
	return constants.SecondsToDuration(c.ContextDelaySeconds)
}

func (c *Config) ActivityWindow() time.Duration {
	return constants.SecondsToDuration(c.ActivityWindowSeconds)
}

func (c *Config) PipelineTimeout() time.Duration {
	return constants.SecondsToDuration(c.PipelineTimeoutSeconds)
}

func (c *Config) CleanupInterval() time.Duration {
	return constants.SecondsToDuration(c.CleanupIntervalSeconds)
}

// ActivityEvictAge is the age beyond which activity records are garbage collected.
func (c *Config) ActivityEvictAge() time.Duration {
	return time.Duration(c.ActivityEvictMultiple) * c.ActivityWindow()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvPositiveInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, value, err)
	}
	if intValue <= 0 {
		return 0, fmt.Errorf("invalid value for %s: must be positive, got %d", key, intValue)
	}
	return intValue, nil
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
