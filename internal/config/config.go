package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// EnvPrefix is the prefix for environment overrides, e.g. INFERD_ADDR.
const EnvPrefix = "inferd"

// Defaults applied by ApplyDefaults when the corresponding field is unset.
const (
	DefaultAddr         = ":8080"
	DefaultModelsDir    = "~/models/llm"
	DefaultMargin       = 0.10
	DefaultDrainTimeout = 30 * time.Second
	DefaultMaxWait      = 30 * time.Second
	DefaultStreamBuffer = 100
	DefaultMaxBody      = 1 << 20
	DefaultEventChannel = "inferd.events"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults; the
// load order is file, then INFERD_* environment, then flags.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir" envconfig:"MODELS_DIR"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model" envconfig:"DEFAULT_MODEL"`

	// BudgetMB caps resident model memory when positive. Probe switches to
	// querying nvidia-smi for free VRAM instead. One of the two must be set.
	BudgetMB int     `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb" envconfig:"BUDGET_MB"`
	Margin   float64 `json:"margin" yaml:"margin" toml:"margin"`
	Probe    bool    `json:"probe" yaml:"probe" toml:"probe"`

	// UnloadPolicy is drain or cancel; drain waits DrainTimeout for
	// in-flight generations before cancelling them anyway.
	UnloadPolicy   string   `json:"unload_policy" yaml:"unload_policy" toml:"unload_policy" envconfig:"UNLOAD_POLICY"`
	DrainTimeout   Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout" envconfig:"DRAIN_TIMEOUT"`
	MaxConcurrent  int64    `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	MaxWait        Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait" envconfig:"MAX_WAIT"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	StreamBuffer   int      `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer" envconfig:"STREAM_BUFFER"`

	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`

	// Sampling is the server-wide fallback for requests and models that do
	// not set their own values. Zeros inherit the built-in defaults.
	Sampling types.SamplingDefaults `json:"sampling" yaml:"sampling" toml:"sampling"`

	Log    LogConfig    `json:"log" yaml:"log" toml:"log"`
	CORS   CORSConfig   `json:"cors" yaml:"cors" toml:"cors"`
	Audit  AuditConfig  `json:"audit" yaml:"audit" toml:"audit"`
	Events EventsConfig `json:"events" yaml:"events" toml:"events"`

	// Models are explicitly configured descriptors. They win over entries
	// discovered by scanning ModelsDir.
	Models []types.ModelDescriptor `json:"models" yaml:"models" toml:"models"`
}

// LogConfig selects output level and format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// CORSConfig enables cross-origin access for browser clients.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// AuditConfig points at the sqlite operation log. An empty path disables
// auditing.
type AuditConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

// EventsConfig wires the optional Redis lifecycle-event publisher. An empty
// address disables publishing.
type EventsConfig struct {
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" toml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db" envconfig:"REDIS_DB"`
	Channel       string `json:"channel" yaml:"channel" toml:"channel"`
}

// ApplyEnv overlays INFERD_* environment variables onto c. Nested sections
// use the field path, e.g. INFERD_LOG_LEVEL or INFERD_EVENTS_REDIS_ADDR.
func (c *Config) ApplyEnv() error {
	return envconfig.Process(EnvPrefix, c)
}

// ApplyDefaults fills every unset field with its default. Sampling is left
// alone: zeros there mean "inherit the engine built-ins".
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Margin == 0 {
		c.Margin = DefaultMargin
	}
	if c.UnloadPolicy == "" {
		c.UnloadPolicy = "drain"
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = Duration(DefaultDrainTimeout)
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxWait == 0 {
		c.MaxWait = Duration(DefaultMaxWait)
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBody
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = []string{"*"}
	}
	if c.Events.Channel == "" {
		c.Events.Channel = DefaultEventChannel
	}
}

// Validate rejects configurations the server cannot run with. Call it after
// ApplyDefaults.
func (c Config) Validate() error {
	if c.Margin < 0 || c.Margin >= 1 {
		return fmt.Errorf("margin must be in [0, 1), got %v", c.Margin)
	}
	if c.BudgetMB < 0 {
		return fmt.Errorf("budget_mb must not be negative, got %d", c.BudgetMB)
	}
	if !c.Probe && c.BudgetMB == 0 {
		return fmt.Errorf("no capacity source: set budget_mb or enable probe")
	}
	switch c.UnloadPolicy {
	case "drain", "cancel":
	default:
		return fmt.Errorf("unload_policy must be drain or cancel, got %q", c.UnloadPolicy)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative, got %d", c.MaxConcurrent)
	}
	if c.StreamBuffer < 0 {
		return fmt.Errorf("stream_buffer must not be negative, got %d", c.StreamBuffer)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes)
	}
	if c.DrainTimeout < 0 || c.MaxWait < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
