package config

import (
	"fmt"
	"os"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// RenderClipConfig is the process-wide runtime parameter set described in the
// data model: global max parallelism, per-source-video limit, retry policy,
// placeholder asset path and metrics flush interval. It is replaced wholesale
// on each valid hot-reload event; a task always observes either the config in
// effect when it was admitted or a strictly later one, never a partial mix.
type RenderClipConfig struct {
	MaxParallelism        int
	PerVideoLimit         int
	MaxRetry              int
	RetryBackoffBaseMs    int
	PlaceholderAssetPath  string
	MetricsFlushIntervalS int
}

const (
	MinMaxParallelism = 1
	MaxMaxParallelism = 6

	DefaultMaxParallelism        = 4
	DefaultPerVideoLimit         = 2
	DefaultMaxRetry              = 2
	DefaultRetryBackoffBaseMs    = 500
	DefaultMetricsFlushIntervalS = 15
)

// DefaultRenderClipConfig returns the built-in defaults from the data model,
// before any environment or hot-reload overrides are applied.
func DefaultRenderClipConfig() RenderClipConfig {
	return RenderClipConfig{
		MaxParallelism:        DefaultMaxParallelism,
		PerVideoLimit:         DefaultPerVideoLimit,
		MaxRetry:              DefaultMaxRetry,
		RetryBackoffBaseMs:    DefaultRetryBackoffBaseMs,
		PlaceholderAssetPath:  "media/fallback/clip_placeholder.mp4",
		MetricsFlushIntervalS: DefaultMetricsFlushIntervalS,
	}
}

// Validate checks the numeric ranges from the configuration channel's
// contract. It does not check PlaceholderAssetPath's existence on disk; that
// differs between initial load (fatal) and hot-reload (reject-and-log) call
// sites, so it's left to the caller.
func (c RenderClipConfig) Validate() error {
	if c.MaxParallelism < MinMaxParallelism || c.MaxParallelism > MaxMaxParallelism {
		return fmt.Errorf("max_parallelism %d out of range [%d,%d]", c.MaxParallelism, MinMaxParallelism, MaxMaxParallelism)
	}
	if c.PerVideoLimit < 1 {
		return fmt.Errorf("per_video_limit %d must be >= 1", c.PerVideoLimit)
	}
	if c.MaxRetry < 0 {
		return fmt.Errorf("max_retry %d must be >= 0", c.MaxRetry)
	}
	if c.RetryBackoffBaseMs < 0 {
		return fmt.Errorf("retry_backoff_base_ms %d must be >= 0", c.RetryBackoffBaseMs)
	}
	if c.MetricsFlushIntervalS < 1 {
		return fmt.Errorf("metrics_flush_interval_s %d must be >= 1", c.MetricsFlushIntervalS)
	}
	return nil
}

const (
	EnvClipConcurrency   = "RENDER_CLIP_CONCURRENCY"
	EnvConfigChannel     = "RENDER_CONFIG_CHANNEL"
	EnvPlaceholderPath   = "PLACEHOLDER_CLIP_PATH"
	EnvQueueRedisURL     = "RENDER_QUEUE_REDIS_URL"
	EnvRetrieveBaseURL   = "RENDER_RETRIEVE_BASE_URL"
	EnvRetrieveAPIToken  = "RENDER_RETRIEVE_API_TOKEN"
	EnvStatusCallbackURL = "RENDER_STATUS_CALLBACK_URL"
	EnvLocalMediaDir     = "RENDER_LOCAL_MEDIA_DIR"
	EnvOutputDir         = "RENDER_OUTPUT_DIR"
	EnvMetricsPort       = "RENDER_METRICS_PORT"
)

// FromEnvironment builds the initial RenderClipConfig from the environment
// variables recognized by the core, falling back to DefaultRenderClipConfig
// for anything unset. It is not validated here; callers should call Validate
// and fail process startup on error.
func FromEnvironment() RenderClipConfig {
	c := DefaultRenderClipConfig()
	if v, err := intEnv(EnvClipConcurrency); err == nil {
		c.MaxParallelism = v
	}
	if p := os.Getenv(EnvPlaceholderPath); p != "" {
		c.PlaceholderAssetPath = p
	}
	return c
}

func intEnv(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, fmt.Errorf("%s not set", name)
	}
	var v int
	_, err := fmt.Sscanf(raw, "%d", &v)
	return v, err
}
