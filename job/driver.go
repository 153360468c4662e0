// Package job implements the job driver: it pulls queued render-job
// identifiers one at a time, runs the clip phase through the scheduler,
// assembles the result, and writes final status. Every phase runs behind a
// generic panic-recovery wrapper so a phase panic becomes a driver-level
// error instead of crashing the process.
package job

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/lyricvid/render-worker/assembly"
	"github.com/lyricvid/render-worker/clients"
	"github.com/lyricvid/render-worker/config"
	rerrors "github.com/lyricvid/render-worker/errors"
	"github.com/lyricvid/render-worker/fallback"
	"github.com/lyricvid/render-worker/fetch"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/metrics"
	"github.com/lyricvid/render-worker/ratelimit"
	"github.com/lyricvid/render-worker/scheduler"
	"github.com/lyricvid/render-worker/video"
)

// TimelineLoader resolves a mix id to its locked timeline plus the original
// audio asset's filesystem path. The timeline is produced upstream and
// already locked by the time a job is queued, with no one fixed loading
// transport (lyric recognition and semantic matching both happen elsewhere)
// — so this stays an injected interface, not a concrete client, and main.go
// wires whatever the deployment needs.
type TimelineLoader interface {
	LoadTimeline(ctx context.Context, mixID string) (timeline video.Timeline, audioPath string, err error)
}

// StatusChecker reads a job's persisted status back, so the driver can skip
// a job that has already reached a terminal state (§6's idempotent-consumer
// contract — the same job id can be delivered more than once by the queue).
// A deployment with no separate status-read path can wire a checker that
// always reports JobStatusQueued; the driver then always proceeds, which is
// safe but forfeits the at-most-once-execution guarantee.
type StatusChecker interface {
	CurrentStatus(ctx context.Context, jobID string) (video.JobStatus, error)
}

// CandidateFetcher is the subset of *fetch.Engine the driver drives per
// clip task; an interface here lets driver tests fake the encoder/retrieve
// round trip instead of shelling out to a real ffmpeg binary.
type CandidateFetcher interface {
	FetchCandidate(ctx context.Context, requestID, clipTaskID string, candidate video.Candidate, maxRetry int, backoffBaseMs int, outputPath string) (fetch.Result, error)
}

// Driver glues the queue, timeline loading, scheduler, fetch/cut engine,
// fallback state machine and assembly into one job run, one job at a time
// per worker process.
type Driver struct {
	Queue          *clients.QueueClient
	Store          *config.Store
	Timelines      TimelineLoader
	StatusChecker  StatusChecker
	Status         clients.StatusClient
	StatusCallback string
	Engine         CandidateFetcher
	Fallback       *fallback.Machine
	Assembler      *assembly.Assembler
	Scheduler      *scheduler.Scheduler
	OutputRoot     string
	StatFile       fallback.StatFunc
}

// Run pulls jobs from the queue until ctx is cancelled, running one at a
// time. A fatal error from one job is logged and does not stop the loop;
// only ctx cancellation stops it.
func (d *Driver) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, mixID, err := d.Queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.LogError("", "failed to dequeue job", err)
			continue
		}
		if jobID == "" {
			continue
		}
		d.runOneRecovered(ctx, jobID, mixID)
	}
}

// runOneRecovered wraps runOne in the generic panic-recovery pattern so one
// job's panic cannot take down the worker process or leave the admission
// loop blocked for the next job.
func (d *Driver) runOneRecovered(ctx context.Context, jobID, mixID string) {
	_, err := recovered(func() (bool, error) {
		return true, d.runOne(ctx, jobID, mixID)
	})
	if err != nil {
		log.LogError(jobID, "render job failed", err, "mix_id", mixID)
	}
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in job driver, recovering", "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in job driver: %v", rec)
		}
	}()
	return f()
}

// runOne runs one render job to a terminal state: idempotence check, load
// timeline, per-job temp dir, clip phase, assembly, final status write,
// temp dir cleanup on every exit path.
func (d *Driver) runOne(ctx context.Context, jobID, mixID string) error {
	queuedAt := config.Clock.GetTime()
	metrics.Metrics.JobsInFlight.Inc()
	defer metrics.Metrics.JobsInFlight.Dec()

	if skip, err := d.alreadyTerminal(ctx, jobID); err != nil {
		return err
	} else if skip {
		log.Log(jobID, "job already in a terminal state, skipping", "mix_id", mixID)
		return nil
	}

	timeline, audioPath, err := d.Timelines.LoadTimeline(ctx, mixID)
	if err != nil {
		return d.fail(ctx, jobID, rerrors.New(rerrors.KindPreconditionFailed, fmt.Errorf("failed to load timeline: %w", err)))
	}
	if err := timeline.Validate(); err != nil {
		return d.fail(ctx, jobID, rerrors.New(rerrors.KindPreconditionFailed, err))
	}
	if _, err := os.Stat(audioPath); err != nil {
		return d.fail(ctx, jobID, rerrors.New(rerrors.KindPreconditionFailed, fmt.Errorf("audio asset unreachable: %w", err)))
	}

	jobDir := filepath.Join(d.OutputRoot, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return d.fail(ctx, jobID, rerrors.New(rerrors.KindPreconditionFailed, fmt.Errorf("failed to allocate job temp dir: %w", err)))
	}
	defer os.RemoveAll(jobDir)

	sched := d.Scheduler
	sched.ResetPeak()
	tasks := make([]*video.ClipTask, len(timeline.Lines))
	lines := make(map[string]video.LyricLine, len(timeline.Lines))
	for i, line := range timeline.Lines {
		tasks[i] = video.NewClipTask(line)
		lines[line.LineID] = line
	}

	d.Fallback.OutputDir = jobDir
	d.Assembler.OutputDir = jobDir

	stats := video.ClipStats{TotalTasks: len(tasks), GeneratedAt: config.Clock.GetTime()}
	clips := make([]assembly.ClipOutput, 0, len(tasks))

	clipErr := sched.RunClipPhase(ctx, tasks, lines, func(ctx context.Context, task *video.ClipTask, line video.LyricLine) error {
		return d.runClipTask(ctx, jobID, jobDir, d.Engine, task, line, &stats)
	})
	stats.PeakParallelism = sched.PeakParallelism()
	if clipErr != nil {
		return d.fail(ctx, jobID, clipErr)
	}

	for _, task := range tasks {
		clips = append(clips, assembly.ClipOutput{Line: lines[task.LineID], Path: task.TargetPath})
	}

	finalPath, err := d.Assembler.Assemble(ctx, jobID, timeline, clips, audioPath)
	if err != nil {
		return d.fail(ctx, jobID, err)
	}

	finishedAt := config.Clock.GetTime()
	avgDeltaMs, maxDeltaMs := alignmentDeltas(tasks, lines)
	alignment := video.AlignmentMetrics{
		LineCount:     len(timeline.Lines),
		AvgDeltaMs:    avgDeltaMs,
		MaxDeltaMs:    maxDeltaMs,
		TotalDuration: finishedAt.Sub(queuedAt),
		QueuedAt:      queuedAt,
		FinishedAt:    finishedAt,
	}

	return d.succeed(ctx, jobID, finalPath, stats, alignment)
}

// alignmentDeltas averages and maxes the per-line alignment delta (a
// produced clip's actual duration against its lyric line's requested
// duration) across every task that produced a clip; a task that never
// produced one (ClipTaskFailed) has no window to compare and is skipped.
func alignmentDeltas(tasks []*video.ClipTask, lines map[string]video.LyricLine) (avgDeltaMs, maxDeltaMs float64) {
	var sum float64
	var count int
	for _, task := range tasks {
		if task.State == video.ClipTaskFailed {
			continue
		}
		delta := math.Abs(float64(task.ProducedDurationMs - lines[task.LineID].DurationMs()))
		sum += delta
		if delta > maxDeltaMs {
			maxDeltaMs = delta
		}
		count++
	}
	if count > 0 {
		avgDeltaMs = sum / float64(count)
	}
	return avgDeltaMs, maxDeltaMs
}

// runClipTask drives one task through the fetch/cut engine's candidate list
// and, on exhaustion, the fallback state machine; it only returns an error
// for conditions the scheduler must treat as fatal (there are none at the
// task level today — every clip-level failure routes through fallback and
// is accounted for in stats instead of propagating).
func (d *Driver) runClipTask(ctx context.Context, jobID, jobDir string, engine CandidateFetcher, task *video.ClipTask, line video.LyricLine, stats *video.ClipStats) error {
	task.State = video.ClipTaskRunning
	task.StartedAt = time.Now()
	metrics.Metrics.ClipInFlight.Inc()
	defer metrics.Metrics.ClipInFlight.Dec()

	cfg := d.Store.Current()

	var sourceRelease ratelimit.Release
	releaseSource := func() {
		if sourceRelease != nil {
			sourceRelease()
			sourceRelease = nil
		}
	}
	defer releaseSource()

	for {
		candidate, ok := task.CurrentCandidate()
		if !ok {
			break
		}

		// A fallback candidate usually belongs to a different source_video_id
		// than the one before it, so the per-source reservation is re-acquired
		// against the current candidate on every pass rather than held for the
		// task's whole lifetime.
		releaseSource()
		release, err := d.Scheduler.AcquireSource(ctx, candidate.SourceVideoID)
		if err != nil {
			log.LogError(jobID, "per-source admission cancelled", err, "clip_task_id", task.ClipTaskID, "line_id", task.LineID, "candidate_index", task.CandidateIndex)
			metrics.Metrics.ClipFailures.WithLabelValues(reasonOf(err)).Inc()
			task.CandidateIndex++
			continue
		}
		sourceRelease = release

		outputPath := filepath.Join(jobDir, fmt.Sprintf("%s_%d.mp4", task.ClipTaskID, task.CandidateIndex))
		result, err := engine.FetchCandidate(ctx, jobID, task.ClipTaskID, candidate, cfg.MaxRetry, cfg.RetryBackoffBaseMs, outputPath)
		if err == nil {
			task.State = video.ClipTaskSuccess
			task.SourceType = result.SourceType
			task.TargetPath = result.OutputPath
			task.ProducedDurationMs = result.DurationMs
			break
		}
		log.LogError(jobID, "candidate failed", err, "clip_task_id", task.ClipTaskID, "line_id", task.LineID, "candidate_index", task.CandidateIndex)
		metrics.Metrics.ClipFailures.WithLabelValues(reasonOf(err)).Inc()
		task.CandidateIndex++
	}

	if task.State != video.ClipTaskSuccess {
		if err := d.Fallback.Resolve(ctx, jobID, task, d.StatFile, line, "candidates-exhausted"); err != nil {
			task.State = video.ClipTaskFailed
		} else {
			// Fallback cuts (local-file and placeholder) re-encode straight
			// to the line's requested window with no separate probe/verify
			// step, so the produced duration is the requested one by
			// construction.
			task.ProducedDurationMs = line.DurationMs()
		}
	}

	task.FinishedAt = time.Now()
	d.recordTaskStats(stats, task)
	return nil
}

func (d *Driver) recordTaskStats(stats *video.ClipStats, task *video.ClipTask) {
	switch task.State {
	case video.ClipTaskSuccess:
		stats.SuccessTasks++
	case video.ClipTaskFallbackLocal:
		stats.SuccessTasks++
		stats.FallbackTasks++
	case video.ClipTaskFallbackPlaceholder:
		stats.FailedTasks++
		stats.FallbackTasks++
		stats.PlaceholderTasks++
	default:
		stats.FailedTasks++
	}
}

func reasonOf(err error) string {
	if kind, ok := rerrors.KindOf(err); ok {
		return string(kind)
	}
	return "unknown"
}

func (d *Driver) alreadyTerminal(ctx context.Context, jobID string) (bool, error) {
	if d.StatusChecker == nil {
		return false, nil
	}
	status, err := d.StatusChecker.CurrentStatus(ctx, jobID)
	if err != nil {
		return false, nil
	}
	return status.IsTerminal(), nil
}

func (d *Driver) fail(ctx context.Context, jobID string, cause error) error {
	log.LogError(jobID, "job failed", cause)
	msg := clients.StatusMessage{
		JobID:     jobID,
		Status:    video.JobStatusFailed,
		ErrorLog:  cause.Error(),
		Timestamp: time.Now().Unix(),
	}
	if err := d.Status.SendStatus(ctx, d.StatusCallback, msg); err != nil {
		log.LogError(jobID, "failed to send failure status callback", err)
	}
	return cause
}

func (d *Driver) succeed(ctx context.Context, jobID, outputPath string, stats video.ClipStats, alignment video.AlignmentMetrics) error {
	msg := clients.StatusMessage{
		JobID:           jobID,
		Status:          video.JobStatusSuccess,
		Progress:        1,
		OutputAssetPath: outputPath,
		ClipStats:       stats,
		Alignment:       alignment,
		Timestamp:       time.Now().Unix(),
	}
	if err := d.Status.SendStatus(ctx, d.StatusCallback, msg); err != nil {
		log.LogError(jobID, "failed to send success status callback", err)
		return err
	}
	metrics.Metrics.AlignmentAvgDeltaMs.Set(alignment.AvgDeltaMs)
	metrics.Metrics.AlignmentMaxDeltaMs.Set(alignment.MaxDeltaMs)
	log.Log(jobID, "job completed", "output_path", outputPath, "success_tasks", stats.SuccessTasks, "fallback_tasks", stats.FallbackTasks, "placeholder_tasks", stats.PlaceholderTasks)
	return nil
}
