package config

import (
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3"
)

// Cli holds the flags/environment values parsed at process start by
// cmd/render-worker via peterbourgon/ff. It is distinct from
// RenderClipConfig: Cli is fixed for the process lifetime, RenderClipConfig
// is the subset that can be hot-reloaded over the config channel.
type Cli struct {
	MetricsPort int

	QueueRedisURL     string
	ConfigChannel     string
	TimelineBaseURL   string
	RetrieveBaseURL   string
	RetrieveAPIToken  string
	StatusCallbackURL string
	LocalMediaDir     string
	OutputDir         string

	InitialConfig RenderClipConfig
}

// ParseCli builds a Cli from args (normally os.Args[1:]), falling back to
// RENDER_WORKER_-prefixed environment variables for any flag not passed
// explicitly, using the same flag.NewFlagSet + ff.Parse shape everywhere in
// this repo that parses a flag set. RENDER_CLIP_CONCURRENCY,
// RENDER_CONFIG_CHANNEL and PLACEHOLDER_CLIP_PATH, when set, supply the
// defaults of max-parallelism, config-channel and placeholder-asset-path.
func ParseCli(args []string) (Cli, error) {
	cli := Cli{InitialConfig: DefaultRenderClipConfig()}
	envConfig := FromEnvironment()
	configChannel := "render:config"
	if v := os.Getenv(EnvConfigChannel); v != "" {
		configChannel = v
	}
	fs := flag.NewFlagSet("render-worker", flag.ContinueOnError)

	fs.IntVar(&cli.MetricsPort, "metrics-port", 9090, "Port to serve Prometheus metrics on")
	fs.StringVar(&cli.QueueRedisURL, "queue-redis-url", "redis://127.0.0.1:6379/0", "Redis URL backing the render-job work queue")
	fs.StringVar(&cli.ConfigChannel, "config-channel", configChannel, "Redis Pub/Sub channel carrying hot-reload config updates")
	fs.StringVar(&cli.TimelineBaseURL, "timeline-base-url", "", "Base URL of the upstream locked-timeline service")
	fs.StringVar(&cli.RetrieveBaseURL, "retrieve-base-url", "", "Base URL of the external media retrieve service")
	fs.StringVar(&cli.RetrieveAPIToken, "retrieve-api-token", "", "Bearer token for the retrieve service")
	fs.StringVar(&cli.StatusCallbackURL, "status-callback-url", "", "URL to POST job status updates to")
	fs.StringVar(&cli.LocalMediaDir, "local-media-dir", "media/local", "Directory searched for local-file fallback assets")
	fs.StringVar(&cli.OutputDir, "output-dir", "output", "Directory jobs write their working files and final output into")

	fs.IntVar(&cli.InitialConfig.MaxParallelism, "max-parallelism", envConfig.MaxParallelism, "Initial global clip-task concurrency cap")
	fs.IntVar(&cli.InitialConfig.PerVideoLimit, "per-video-limit", DefaultPerVideoLimit, "Initial per-source-video concurrency cap")
	fs.IntVar(&cli.InitialConfig.MaxRetry, "max-retry", DefaultMaxRetry, "Initial per-candidate retry budget")
	fs.IntVar(&cli.InitialConfig.RetryBackoffBaseMs, "retry-backoff-base-ms", DefaultRetryBackoffBaseMs, "Initial retry backoff base, in milliseconds")
	fs.StringVar(&cli.InitialConfig.PlaceholderAssetPath, "placeholder-asset-path", envConfig.PlaceholderAssetPath, "Path to the pre-provisioned placeholder clip asset")
	fs.IntVar(&cli.InitialConfig.MetricsFlushIntervalS, "metrics-flush-interval-s", DefaultMetricsFlushIntervalS, "Interval, in seconds, between periodic metrics flushes")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("RENDER_WORKER"),
	)
	return cli, err
}
