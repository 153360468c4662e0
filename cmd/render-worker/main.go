package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyricvid/render-worker/assembly"
	"github.com/lyricvid/render-worker/cache"
	"github.com/lyricvid/render-worker/clients"
	"github.com/lyricvid/render-worker/config"
	"github.com/lyricvid/render-worker/fallback"
	"github.com/lyricvid/render-worker/fetch"
	"github.com/lyricvid/render-worker/job"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/metrics"
	"github.com/lyricvid/render-worker/ratelimit"
	"github.com/lyricvid/render-worker/scheduler"
	"github.com/lyricvid/render-worker/video"
)

const (
	streamURLCacheTTL  = 10 * time.Minute
	retrieveReqsPerMin = 40
	retrieveBurst      = 20
)

func main() {
	cli, err := config.ParseCli(os.Args[1:])
	if err != nil {
		log.LogNoRequestID("failed to parse CLI flags", "err", err.Error())
		os.Exit(1)
	}
	if err := cli.InitialConfig.Validate(); err != nil {
		log.LogNoRequestID("invalid initial render clip config", "err", err.Error())
		os.Exit(1)
	}
	if _, err := os.Stat(cli.InitialConfig.PlaceholderAssetPath); err != nil {
		log.LogNoRequestID("placeholder asset unreachable at startup", "path", cli.InitialConfig.PlaceholderAssetPath, "err", err.Error())
		os.Exit(1)
	}
	if err := os.MkdirAll(cli.OutputDir, 0755); err != nil {
		log.LogNoRequestID("failed to create output directory", "path", cli.OutputDir, "err", err.Error())
		os.Exit(1)
	}

	store := config.NewStore(cli.InitialConfig)

	queue, err := clients.NewQueueClient(cli.QueueRedisURL)
	if err != nil {
		log.LogNoRequestID("failed to connect to queue redis", "err", err.Error())
		os.Exit(1)
	}
	defer queue.Close()

	watcher, err := clients.NewConfigWatcher(cli.QueueRedisURL, cli.ConfigChannel, store)
	if err != nil {
		log.LogNoRequestID("failed to build config watcher", "err", err.Error())
		os.Exit(1)
	}

	sched := scheduler.New(store)
	watcher.OnApply = sched.ApplyConfig

	urlCache := cache.NewStreamURLCache(streamURLCacheTTL)
	retrieveLimiter := ratelimit.NewRetrieveLimiter(retrieveReqsPerMin, retrieveBurst)
	prober := video.Probe{}

	engine := &fetch.Engine{
		Retrieve:    clients.NewRetrieveClient(cli.RetrieveBaseURL, cli.RetrieveAPIToken),
		URLCache:    urlCache,
		RateLimiter: retrieveLimiter,
		Prober:      prober,
	}

	driver := &job.Driver{
		Queue:          queue,
		Store:          store,
		Timelines:      clients.NewTimelineClient(cli.TimelineBaseURL),
		Status:         clients.NewHTTPStatusClient(),
		StatusCallback: cli.StatusCallbackURL,
		Engine:         engine,
		Fallback: &fallback.Machine{
			Cutter:          engine,
			LocalMediaDir:   cli.LocalMediaDir,
			PlaceholderPath: cli.InitialConfig.PlaceholderAssetPath,
		},
		Assembler: &assembly.Assembler{
			Prober: prober,
		},
		Scheduler:  sched,
		OutputRoot: cli.OutputDir,
		StatFile:   statFile,
	}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return metrics.ListenAndServe(cli.MetricsPort)
	})

	group.Go(func() error {
		watcher.Run(ctx)
		return nil
	})

	group.Go(func() error {
		driver.Run(ctx)
		return nil
	})

	group.Go(func() error {
		return handleSignals(ctx)
	})

	if err := group.Wait(); err != nil {
		log.LogNoRequestID("shutdown complete", "reason", err.Error())
	}
}

func statFile(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal %v, shutting down", s)
	case <-ctx.Done():
		return nil
	}
}
