package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// DispatchMode selects how continuations of non-blocking events are scheduled.
type DispatchMode string

const (
	// DispatchModeGoroutine runs every continuation on a fresh goroutine.
	DispatchModeGoroutine DispatchMode = "goroutine"
	// DispatchModeLimited runs continuations on fresh goroutines bounded by a Limiter.
	DispatchModeLimited DispatchMode = "limited"
	// DispatchModePool runs continuations on a fixed worker pool.
	DispatchModePool DispatchMode = "pool"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceDefault    ConfigSource = "default"
)

// Environment variables read by LoadConfig.
const (
	EnvMaxConcurrent         = "RELAY_MAX_CONCURRENT"
	EnvConcurrencyMultiplier = "RELAY_CONCURRENCY_MULTIPLIER"
	EnvRunnerWorkers         = "RELAY_RUNNER_WORKERS"
	EnvDispatchMode          = "RELAY_DISPATCH_MODE"
)

// Config holds concurrency configuration parameters
type Config struct {
	MaxConcurrent int
	RunnerWorkers int
	DispatchMode  DispatchMode
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if maxConcurrent := getEnvInt(EnvMaxConcurrent, 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt(EnvConcurrencyMultiplier, 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	if workers := getEnvInt(EnvRunnerWorkers, 0); workers > 0 {
		config.RunnerWorkers = workers
	} else {
		config.RunnerWorkers = getDefaultRunnerWorkers(config.IsKubernetes, config.EffectiveCPUs)
	}

	config.DispatchMode = ParseDispatchMode(getEnv(EnvDispatchMode, ""))

	return config
}

// ParseDispatchMode parses a dispatch mode name, falling back to DispatchModePool.
func ParseDispatchMode(s string) DispatchMode {
	switch mode := DispatchMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case DispatchModeGoroutine, DispatchModeLimited, DispatchModePool:
		return mode
	}
	return DispatchModePool
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		// conservative inside containers with CPU quotas
		return cpus * 2
	}
	return cpus * 4
}

// getDefaultRunnerWorkers returns sensible defaults for runner worker pool
func getDefaultRunnerWorkers(isK8s bool, cpus int) int {
	if isK8s {
		return max(cpus, 4)
	}
	return max(cpus*2, 8)
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, RunnerWorkers: %d, DispatchMode: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.RunnerWorkers,
		c.DispatchMode,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
