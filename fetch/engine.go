// Package fetch implements the fetch/cut engine (the per-clip-task worker
// invoked by the scheduler): resolve a candidate's stream URL, rate-limit,
// cut the requested window with an output-seeking re-encode, verify the
// result, and retry on a bounded schedule.
package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	rerrors "github.com/lyricvid/render-worker/errors"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/metrics"
	"github.com/lyricvid/render-worker/ratelimit"
	"github.com/lyricvid/render-worker/subprocess"
	"github.com/lyricvid/render-worker/video"
)

const (
	minInvocationTimeout = 30 * time.Second
	maxInvocationTimeout = 120 * time.Second
)

// RetrieveClient is the subset of clients.RetrieveClient the engine needs;
// an interface here keeps fetch independent of the HTTP transport details.
type RetrieveClient interface {
	ResolveStreamURL(ctx context.Context, requestID, sourceVideoID string, startMs, endMs int64, maxRetry int, backoffBase time.Duration) (string, error)
}

// StreamURLCache is the subset of cache.StreamURLCache the engine needs.
type StreamURLCache interface {
	Get(requestID, sourceVideoID string) (string, bool)
	Store(sourceVideoID, url string)
	Invalidate(requestID, sourceVideoID string)
}

// Engine is the fetch/cut engine bound to one job's dependencies. It holds
// no per-job state (output paths are passed in per call) so one Engine is
// reused across every job a worker process runs.
type Engine struct {
	Retrieve    RetrieveClient
	URLCache    StreamURLCache
	RateLimiter *ratelimit.RetrieveLimiter
	Prober      video.Prober
}

// Result is the fetch/cut engine's output for one candidate attempt.
type Result struct {
	OutputPath string
	SourceType video.SourceType
	DurationMs int64
}

// FetchCandidate runs the five-step contract against one candidate: resolve
// (cache + up to 500ms jitter), rate-limit, cut, verify, duration check with
// one retry. A non-nil error normally wraps a rerrors.KindedError (see
// rerrors.KindOf) so callers can branch on retryability. A failed cut also
// invalidates the source video's cached stream URL, so the next attempt
// against that source re-resolves it.
func (e *Engine) FetchCandidate(ctx context.Context, requestID, clipTaskID string, candidate video.Candidate, maxRetry int, backoffBaseMs int, outputPath string) (Result, error) {
	streamURL, err := e.resolveStreamURL(ctx, requestID, candidate, maxRetry, backoffBaseMs)
	if err != nil {
		return Result{}, err
	}

	if err := e.RateLimiter.Wait(ctx); err != nil {
		return Result{}, rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("rate limiter wait cancelled: %w", err))
	}

	requestedDurationMs := candidate.DurationMs()

	if err := e.cut(ctx, streamURL, candidate.StartMs, requestedDurationMs, outputPath); err != nil {
		e.URLCache.Invalidate(requestID, candidate.SourceVideoID)
		return Result{}, err
	}

	result, err := e.verify(ctx, requestID, outputPath, requestedDurationMs)
	if err != nil {
		// One retry on verification failure, per the retryable-once rule.
		log.Log(requestID, "verification failed, retrying cut once", "clip_task_id", clipTaskID, "err", err.Error())
		if cutErr := e.cut(ctx, streamURL, candidate.StartMs, requestedDurationMs, outputPath); cutErr != nil {
			return Result{}, cutErr
		}
		result, err = e.verify(ctx, requestID, outputPath, requestedDurationMs)
		if err != nil {
			return Result{}, err
		}
	}

	result.OutputPath = outputPath
	result.SourceType = video.SourceTypeRemoteStream
	return result, nil
}

// CutLocalFile re-encodes a window of a local asset (either a matched
// local-file fallback or the placeholder clip) to the requested duration,
// satisfying fallback.Cutter.
func (e *Engine) CutLocalFile(ctx context.Context, sourcePath string, startMs, durationMs int64, outputPath string) error {
	return e.cut(ctx, sourcePath, startMs, durationMs, outputPath)
}

func (e *Engine) resolveStreamURL(ctx context.Context, requestID string, candidate video.Candidate, maxRetry int, backoffBaseMs int) (string, error) {
	if cached, ok := e.URLCache.Get(requestID, candidate.SourceVideoID); ok {
		return cached, nil
	}

	// Up to 500ms jitter before the first resolve call so a burst of
	// simultaneously-admitted tasks against the same source video doesn't
	// thunder into the retrieve service at once.
	jitter := time.Duration(rand.Intn(500)) * time.Millisecond
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return "", rerrors.ErrCancelled
	}

	streamURL, err := e.Retrieve.ResolveStreamURL(ctx, requestID, candidate.SourceVideoID, candidate.StartMs, candidate.EndMs, maxRetry, time.Duration(backoffBaseMs)*time.Millisecond)
	if err != nil {
		return "", err
	}
	e.URLCache.Store(candidate.SourceVideoID, streamURL)
	return streamURL, nil
}

// cut invokes the encoder with output-side seeking (-ss on the output, never
// the input, so the seek always re-encodes rather than snapping to the
// nearest keyframe) and a timeout scaled between 30s and 120s by the
// requested duration.
func (e *Engine) cut(ctx context.Context, inputURL string, startMs, durationMs int64, outputPath string) error {
	timeout := invocationTimeout(durationMs)
	cutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream := ffmpeg.Input(inputURL).
		Output(outputPath, ffmpeg.KwArgs{
			"ss":     fmt.Sprintf("%.3f", float64(startMs)/1000),
			"t":      fmt.Sprintf("%.3f", float64(durationMs)/1000),
			"c:v":    "libx264",
			"preset": "veryfast",
			"c:a":    "aac",
		}).
		OverWriteOutput()

	if err := subprocess.RunFFmpegStream(cutCtx, "", stream); err != nil {
		return rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("cut invocation timed out after %s scaled timeout: %w", timeout, err))
	}
	return nil
}

// verify confirms a video stream is present and the duration is within
// tolerance; a non-empty file with no video stream is deleted immediately.
func (e *Engine) verify(ctx context.Context, requestID, outputPath string, requestedDurationMs int64) (Result, error) {
	probe, err := e.Prober.ProbeFile(ctx, outputPath)
	if err != nil {
		return Result{}, rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("verification probe failed: %w", err))
	}
	if !probe.HasVideoStream {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.LogError(requestID, "failed to delete output with no video stream", rmErr, "path", outputPath)
		} else {
			log.Log(requestID, "deleted output with no video stream", "path", outputPath)
		}
		return Result{}, rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("verification failed: no video stream in %s", outputPath))
	}

	const tolerance = 50
	delta := probe.DurationMs - requestedDurationMs
	if delta < -tolerance || delta > tolerance {
		return Result{}, rerrors.Newf(rerrors.KindCandidateRetryable, "verification failed: duration %dms outside +/-%dms of requested %dms", probe.DurationMs, tolerance, requestedDurationMs)
	}

	metrics.Metrics.ClipDurationMs.WithLabelValues("success", string(video.SourceTypeRemoteStream)).Observe(float64(probe.DurationMs))
	return Result{DurationMs: probe.DurationMs}, nil
}

func invocationTimeout(durationMs int64) time.Duration {
	// Scale to four times the requested duration, clamped to [30s, 120s].
	scaled := time.Duration(durationMs) * time.Millisecond * 4
	if scaled < minInvocationTimeout {
		return minInvocationTimeout
	}
	if scaled > maxInvocationTimeout {
		return maxInvocationTimeout
	}
	return scaled
}
