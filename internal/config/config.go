// Package config loads the planner's configuration from a YAML file and
// PLANNER_* environment variables layered over DefaultConfig.
package config

import "time"

// Config is the root configuration of the planner.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DBConfig         `mapstructure:"database" yaml:"database"`
	Domains    DomainsConfig    `mapstructure:"domains" yaml:"domains"`
	Planner    PlannerConfig    `mapstructure:"planner" yaml:"planner"`
	Decomposer DecomposerConfig `mapstructure:"decomposer" yaml:"decomposer"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Learning   LearningConfig   `mapstructure:"learning" yaml:"learning"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig holds listener addresses. An empty address disables that
// transport.
type ServerConfig struct {
	GRPCAddr        string        `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	HTTPAddr        string        `mapstructure:"http_addr" yaml:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path        string        `mapstructure:"path" yaml:"path" validate:"required"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout" validate:"min=0"`
}

// DomainsConfig locates the domain definition file.
type DomainsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// PlannerConfig tunes the orchestrator loop.
type PlannerConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1,max=100"`
	MaxAttemptsLimit int           `mapstructure:"max_attempts_limit" yaml:"max_attempts_limit" validate:"min=1,max=100"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=1s"`
	ConfidenceDecay  float64       `mapstructure:"confidence_decay" yaml:"confidence_decay" validate:"gt=0,lte=1"`
	PersistRetries   int           `mapstructure:"persist_retries" yaml:"persist_retries" validate:"min=0,max=20"`
	PersistBackoff   time.Duration `mapstructure:"persist_backoff" yaml:"persist_backoff" validate:"min=0"`
	BatchConcurrency int           `mapstructure:"batch_concurrency" yaml:"batch_concurrency" validate:"min=1,max=256"`
}

// DecomposerConfig selects and tunes the generator.
type DecomposerConfig struct {
	// Provider is template, openai or ollama.
	Provider       string        `mapstructure:"provider" yaml:"provider" validate:"oneof=template openai ollama"`
	Model          string        `mapstructure:"model" yaml:"model"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens" validate:"min=0"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout" validate:"min=1s"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff" yaml:"base_backoff" validate:"min=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" validate:"min=0"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"min=0"`
	RateBurst      int           `mapstructure:"rate_burst" yaml:"rate_burst" validate:"min=0"`
}

// CacheConfig tunes the plan cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"min=1s"`
}

// LearningConfig tunes the feedback module.
type LearningConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	MinSupport     int  `mapstructure:"min_support" yaml:"min_support" validate:"min=1"`
	MaxSuggestions int  `mapstructure:"max_suggestions" yaml:"max_suggestions" validate:"min=0"`
	QueueSize      int  `mapstructure:"queue_size" yaml:"queue_size" validate:"min=1"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// TracingConfig enables OpenTelemetry spans for planner phases.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}
