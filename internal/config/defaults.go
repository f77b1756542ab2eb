package config

import "time"

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCAddr:        ":50051",
			HTTPAddr:        ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DBConfig{
			Path:        "planner.db",
			BusyTimeout: 5 * time.Second,
		},
		Planner: PlannerConfig{
			MaxAttempts:      3,
			MaxAttemptsLimit: 10,
			RequestTimeout:   2 * time.Minute,
			ConfidenceDecay:  0.85,
			PersistRetries:   3,
			PersistBackoff:   50 * time.Millisecond,
			BatchConcurrency: 4,
		},
		Decomposer: DecomposerConfig{
			Provider:       "template",
			Temperature:    0.2,
			MaxTokens:      2048,
			AttemptTimeout: 30 * time.Second,
			BaseBackoff:    250 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			RateBurst:      1,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Learning: LearningConfig{
			Enabled:        true,
			MinSupport:     2,
			MaxSuggestions: 5,
			QueueSize:      256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "hybridplanner",
		},
	}
}

// setDefaults registers every key with viper so that environment variables
// are picked up even when the file omits the key.
func setDefaults(set func(key string, value any)) {
	d := DefaultConfig()

	set("server.grpc_addr", d.Server.GRPCAddr)
	set("server.http_addr", d.Server.HTTPAddr)
	set("server.shutdown_timeout", d.Server.ShutdownTimeout)

	set("database.path", d.Database.Path)
	set("database.busy_timeout", d.Database.BusyTimeout)

	set("domains.file", d.Domains.File)

	set("planner.max_attempts", d.Planner.MaxAttempts)
	set("planner.max_attempts_limit", d.Planner.MaxAttemptsLimit)
	set("planner.request_timeout", d.Planner.RequestTimeout)
	set("planner.confidence_decay", d.Planner.ConfidenceDecay)
	set("planner.persist_retries", d.Planner.PersistRetries)
	set("planner.persist_backoff", d.Planner.PersistBackoff)
	set("planner.batch_concurrency", d.Planner.BatchConcurrency)

	set("decomposer.provider", d.Decomposer.Provider)
	set("decomposer.model", d.Decomposer.Model)
	set("decomposer.base_url", d.Decomposer.BaseURL)
	set("decomposer.api_key", d.Decomposer.APIKey)
	set("decomposer.temperature", d.Decomposer.Temperature)
	set("decomposer.max_tokens", d.Decomposer.MaxTokens)
	set("decomposer.attempt_timeout", d.Decomposer.AttemptTimeout)
	set("decomposer.base_backoff", d.Decomposer.BaseBackoff)
	set("decomposer.max_backoff", d.Decomposer.MaxBackoff)
	set("decomposer.rate_limit", d.Decomposer.RateLimit)
	set("decomposer.rate_burst", d.Decomposer.RateBurst)

	set("cache.ttl", d.Cache.TTL)

	set("learning.enabled", d.Learning.Enabled)
	set("learning.min_support", d.Learning.MinSupport)
	set("learning.max_suggestions", d.Learning.MaxSuggestions)
	set("learning.queue_size", d.Learning.QueueSize)

	set("logging.level", d.Logging.Level)
	set("logging.format", d.Logging.Format)

	set("tracing.enabled", d.Tracing.Enabled)
	set("tracing.service_name", d.Tracing.ServiceName)
}
