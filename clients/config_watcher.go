package clients

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lyricvid/render-worker/config"
	"github.com/lyricvid/render-worker/log"
	"github.com/redis/go-redis/v9"
)

// configMessage is the JSON shape accepted on the render:config channel.
// Every field is a pointer so that a partial message only updates the keys
// it names; unknown keys are ignored by json.Unmarshal, matching the
// "unknown keys ignored" external-interface requirement.
type configMessage struct {
	MaxParallelism       *int    `json:"max_parallelism"`
	PerVideoLimit        *int    `json:"per_video_limit"`
	MaxRetry             *int    `json:"max_retry"`
	RetryBackoffBaseMs   *int    `json:"retry_backoff_base_ms"`
	PlaceholderAssetPath *string `json:"placeholder_asset_path"`
	MetricsFlushIntervalS *int   `json:"metrics_flush_interval_s"`
}

// ConfigWatcher subscribes to render:config for process lifetime, validating
// and atomically swapping the shared config.Store on each well-formed
// message; malformed payloads are rejected and logged without mutating
// state, per the config watcher's contract.
type ConfigWatcher struct {
	redis   *redis.Client
	channel string
	store   *config.Store

	// OnApply, if set, is called with the new config immediately after each
	// successful Swap, so anything holding its own derived state off the
	// store (the scheduler's per-source cap and admission-gate wakeup, for
	// one) can react to a hot-reload without polling the store.
	OnApply func(config.RenderClipConfig)
}

func NewConfigWatcher(redisURL, channel string, store *config.Store) (*ConfigWatcher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		redis:   redis.NewClient(opts),
		channel: channel,
		store:   store,
	}, nil
}

// Run subscribes and applies messages until ctx is cancelled, reconnecting
// with exponential backoff (same policy shape as the retrieve client) across
// broker disconnects.
func (w *ConfigWatcher) Run(ctx context.Context) {
	backOff := newBackOff(500*time.Millisecond, 30*time.Second)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.runOnce(ctx); err != nil {
			wait := backOff.NextBackOff()
			if wait == backoff.Stop {
				wait = 30 * time.Second
			}
			log.LogNoRequestID("config watcher disconnected, reconnecting", "err", err.Error(), "wait", wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		backOff.Reset()
	}
}

func (w *ConfigWatcher) runOnce(ctx context.Context) error {
	sub := w.redis.Subscribe(ctx, w.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			w.apply(msg.Payload)
		}
	}
}

func (w *ConfigWatcher) apply(payload string) {
	var msg configMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.LogNoRequestID("rejecting malformed render:config message", "err", err.Error())
		return
	}

	next := w.store.Current()
	if msg.MaxParallelism != nil {
		next.MaxParallelism = *msg.MaxParallelism
	}
	if msg.PerVideoLimit != nil {
		next.PerVideoLimit = *msg.PerVideoLimit
	}
	if msg.MaxRetry != nil {
		next.MaxRetry = *msg.MaxRetry
	}
	if msg.RetryBackoffBaseMs != nil {
		next.RetryBackoffBaseMs = *msg.RetryBackoffBaseMs
	}
	if msg.PlaceholderAssetPath != nil {
		next.PlaceholderAssetPath = *msg.PlaceholderAssetPath
	}
	if msg.MetricsFlushIntervalS != nil {
		next.MetricsFlushIntervalS = *msg.MetricsFlushIntervalS
	}

	if err := next.Validate(); err != nil {
		log.LogNoRequestID("rejecting invalid render:config message", "err", err.Error())
		return
	}
	if msg.PlaceholderAssetPath != nil {
		if _, err := os.Stat(next.PlaceholderAssetPath); err != nil {
			log.LogNoRequestID("rejecting render:config message with unreachable placeholder asset", "path", next.PlaceholderAssetPath, "err", err.Error())
			return
		}
	}

	w.store.Swap(next)
	log.LogNoRequestID("applied render:config update", "max_parallelism", next.MaxParallelism, "per_video_limit", next.PerVideoLimit)
	if w.OnApply != nil {
		w.OnApply(next)
	}
}
