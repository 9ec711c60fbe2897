package script

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultFunction is the global function a script must define.
const DefaultFunction = "process"

// Config configures a script processor.
type Config struct {
	// Name is the display name of the processor
	Name string
	// Source is the JavaScript source defining Function
	Source string
	// Function is called as fn(payload, event) for every event (default: "process")
	Function string
	// Timeout bounds a single call (default: 5s)
	Timeout time.Duration
	// PoolSize is the maximum number of live VMs (default: 4)
	PoolSize int
	// MaxReuse recycles a VM after this many calls (default: 1000)
	MaxReuse int
	// Strict compiles the source in strict mode and disables eval
	Strict bool
	// Logger receives console output (optional, uses a no-op logger if nil)
	Logger *zap.Logger
}

// DefaultConfig returns a configuration for source with default limits.
func DefaultConfig(source string) Config {
	return Config{
		Name:     "script",
		Source:   source,
		Function: DefaultFunction,
		Timeout:  5 * time.Second,
		PoolSize: 4,
		MaxReuse: 1000,
	}
}

// WithName sets the display name.
func (c Config) WithName(name string) Config {
	c.Name = name
	return c
}

// WithFunction sets the entry point.
func (c Config) WithFunction(fn string) Config {
	c.Function = fn
	return c
}

// WithTimeout sets the per-call timeout.
func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

// WithPoolSize sets the maximum number of live VMs.
func (c Config) WithPoolSize(n int) Config {
	c.PoolSize = n
	return c
}

// WithMaxReuse sets how many calls a VM serves before it is recycled.
func (c Config) WithMaxReuse(n int) Config {
	c.MaxReuse = n
	return c
}

// WithStrict enables strict mode.
func (c Config) WithStrict(strict bool) Config {
	c.Strict = strict
	return c
}

// WithLogger sets the console logger.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.Logger = logger
	return c
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	def := DefaultConfig(c.Source)
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Function == "" {
		c.Function = def.Function
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
	if c.MaxReuse <= 0 {
		c.MaxReuse = def.MaxReuse
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("script source is required")
	}
	return nil
}
