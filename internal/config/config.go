// Package config loads and validates harvestd configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SchedulerConfig governs queue admission, per-domain gating and retries.
// Duration knobs accept Go duration strings ("500ms", "2s").
type SchedulerConfig struct {
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	Executors       int           `mapstructure:"executors"`
	BaseConcurrency int           `mapstructure:"base_concurrency"`
	BaseInterval    time.Duration `mapstructure:"base_interval"`
	MinBackoff      float64       `mapstructure:"min_backoff"`
	MaxBackoff      float64       `mapstructure:"max_backoff"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
}

// MonitorConfig controls the rolling window and alert thresholds.
type MonitorConfig struct {
	WindowSize              int           `mapstructure:"window_size"`
	AlertErrorRateThreshold float64       `mapstructure:"alert_error_rate_threshold"`
	AlertLatencyThreshold   time.Duration `mapstructure:"alert_latency_threshold"`
}

// PolicyConfig selects and tunes the adaptive backoff policy.
type PolicyConfig struct {
	Kind             string  `mapstructure:"kind"`
	ExplorationRate  float64 `mapstructure:"exploration_rate"`
	ExplorationDecay float64 `mapstructure:"exploration_decay"`
	ExplorationFloor float64 `mapstructure:"exploration_floor"`
	Seed             int64   `mapstructure:"seed"`
	IncreaseStep     float64 `mapstructure:"increase_step"`
	DecreaseStep     float64 `mapstructure:"decrease_step"`
}

// DedupConfig tunes MinHash/LSH banding and the accept threshold.
type DedupConfig struct {
	Bands               int     `mapstructure:"bands"`
	Rows                int     `mapstructure:"rows"`
	ShingleSize         int     `mapstructure:"shingle_size"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// PublisherConfig selects the alert/event egress provider.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SnapshotsConfig selects the snapshot persistence provider. SampleEvery
// persists one snapshot per N outcomes per domain.
type SnapshotsConfig struct {
	Provider      string `mapstructure:"provider"`
	DSN           string `mapstructure:"dsn"`
	SnapshotTable string `mapstructure:"snapshot_table"`
	ContentTable  string `mapstructure:"content_table"`
	SampleEvery   int    `mapstructure:"sample_every"`
}

// SinkConfig selects where accepted unique content is written.
type SinkConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.queue_capacity", 4096)
	v.SetDefault("scheduler.executors", 8)
	v.SetDefault("scheduler.base_concurrency", 4)
	v.SetDefault("scheduler.base_interval", 500*time.Millisecond)
	v.SetDefault("scheduler.min_backoff", 0.5)
	v.SetDefault("scheduler.max_backoff", 4.0)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.retry_base_delay", 250*time.Millisecond)
	v.SetDefault("scheduler.retry_max_delay", 5*time.Second)
	v.SetDefault("monitor.window_size", 128)
	v.SetDefault("monitor.alert_error_rate_threshold", 0.30)
	v.SetDefault("monitor.alert_latency_threshold", 5*time.Second)
	v.SetDefault("policy.kind", "bandit")
	v.SetDefault("policy.exploration_rate", 0.1)
	v.SetDefault("policy.exploration_decay", 1.0)
	v.SetDefault("policy.exploration_floor", 0.01)
	v.SetDefault("policy.seed", 1)
	v.SetDefault("policy.increase_step", 1.5)
	v.SetDefault("policy.decrease_step", 0.8)
	v.SetDefault("dedup.bands", 16)
	v.SetDefault("dedup.rows", 8)
	v.SetDefault("dedup.shingle_size", 4)
	v.SetDefault("dedup.similarity_threshold", 0.85)
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("snapshots.provider", "memory")
	v.SetDefault("snapshots.snapshot_table", "domain_snapshots")
	v.SetDefault("snapshots.content_table", "accepted_content")
	v.SetDefault("snapshots.sample_every", 16)
	v.SetDefault("sink.provider", "memory")
	v.SetDefault("sink.prefix", "content")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.QueueCapacity <= 0 {
		return fmt.Errorf("scheduler.queue_capacity must be > 0")
	}
	if c.Scheduler.Executors <= 0 {
		return fmt.Errorf("scheduler.executors must be > 0")
	}
	if c.Scheduler.BaseConcurrency <= 0 {
		return fmt.Errorf("scheduler.base_concurrency must be > 0")
	}
	if c.Scheduler.MinBackoff <= 0 || c.Scheduler.MaxBackoff < c.Scheduler.MinBackoff {
		return fmt.Errorf("scheduler backoff bounds must satisfy 0 < min_backoff <= max_backoff")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	if c.Scheduler.BaseInterval < 0 {
		return fmt.Errorf("scheduler.base_interval must be >= 0")
	}
	if c.Scheduler.RetryBaseDelay <= 0 || c.Scheduler.RetryMaxDelay < c.Scheduler.RetryBaseDelay {
		return fmt.Errorf("scheduler retry delays must satisfy 0 < retry_base_delay <= retry_max_delay")
	}
	if c.Monitor.WindowSize <= 0 {
		return fmt.Errorf("monitor.window_size must be > 0")
	}
	if c.Monitor.AlertLatencyThreshold <= 0 {
		return fmt.Errorf("monitor.alert_latency_threshold must be > 0")
	}
	if c.Monitor.AlertErrorRateThreshold <= 0 || c.Monitor.AlertErrorRateThreshold > 1 {
		return fmt.Errorf("monitor.alert_error_rate_threshold must be in (0, 1]")
	}
	switch c.Policy.Kind {
	case "bandit", "fixed":
	default:
		return fmt.Errorf("policy.kind must be bandit or fixed, got %q", c.Policy.Kind)
	}
	if c.Policy.ExplorationRate < 0 || c.Policy.ExplorationRate > 1 {
		return fmt.Errorf("policy.exploration_rate must be in [0, 1]")
	}
	if c.Dedup.Bands <= 0 || c.Dedup.Rows <= 0 {
		return fmt.Errorf("dedup.bands and dedup.rows must be > 0")
	}
	if c.Dedup.ShingleSize <= 0 {
		return fmt.Errorf("dedup.shingle_size must be > 0")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1]")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.Topic == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
	}
	if c.Snapshots.Provider == "postgres" && c.Snapshots.DSN == "" {
		return fmt.Errorf("snapshots.dsn is required for postgres")
	}
	if c.Sink.Provider == "gcs" && c.Sink.Bucket == "" {
		return fmt.Errorf("sink.bucket is required for gcs")
	}
	if c.Snapshots.SampleEvery <= 0 {
		return fmt.Errorf("snapshots.sample_every must be > 0")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
