// Package scheduler admits ClipTasks against three concurrency limits at
// once: a global parallelism cap, a per-source-video cap, and (inside the
// fetch/cut engine itself) the external retrieve rate limit. Tasks are
// submitted upfront in line-number order with no completion-order guarantee.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/lyricvid/render-worker/config"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/ratelimit"
	"github.com/lyricvid/render-worker/video"
)

// Handler runs one clip task to a terminal state; the scheduler only owns
// admission, not clip execution semantics (that's fetch + fallback).
type Handler func(ctx context.Context, task *video.ClipTask, line video.LyricLine) error

// Scheduler admits tasks against the config in effect at admission time.
// max_parallelism is enforced with a condition-variable gate (generalized
// from the pack's atomic in-flight counter to a blocking wait, since a
// lowered cap must pause admission rather than reject it) so a hot-reload
// that lowers max_parallelism takes effect for every task admitted after the
// reload without requiring any in-flight task to be cancelled.
type Scheduler struct {
	store *config.Store
	slots *ratelimit.SlotLimiter

	mu            sync.Mutex
	cond          *sync.Cond
	inFlight      int
	peakParallelism int
}

// perSourceCapCeiling bounds the SlotLimiter's global half so it is never
// the binding constraint; the scheduler enforces the real (and
// dynamically-lowerable) global cap itself.
const perSourceCapCeiling = 1 << 20

func New(store *config.Store) *Scheduler {
	s := &Scheduler{
		store: store,
		slots: ratelimit.NewSlotLimiter(perSourceCapCeiling, int64(store.Current().PerVideoLimit)),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ApplyConfig updates the per-source cap for newly-created per-source
// semaphores (a source video already seen by this Scheduler keeps the cap it
// was first given), and wakes any admission loop blocked on the global cap so
// a raised max_parallelism takes effect immediately.
func (s *Scheduler) ApplyConfig(cfg config.RenderClipConfig) {
	s.slots.SetPerKeyCap(int64(cfg.PerVideoLimit))
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// PeakParallelism returns the highest number of simultaneously in-flight
// tasks observed since construction or the last ResetPeak, for ClipStats.
func (s *Scheduler) PeakParallelism() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakParallelism
}

// ResetPeak resets the peak-parallelism counter to the current in-flight
// count, which is zero between jobs. A worker process reuses one
// Scheduler across every job it runs (so a hot-reload reaches whichever job
// is currently admitting through it); ResetPeak lets the driver read a
// per-job peak out of that shared instance between runs.
func (s *Scheduler) ResetPeak() {
	s.mu.Lock()
	s.peakParallelism = s.inFlight
	s.mu.Unlock()
}

// RunClipPhase submits every task up front, ordered by line index, admits
// each against the global cap, and runs handler concurrently; per-source
// reservations are taken by the handler through AcquireSource.
// It returns once every task has reached a terminal state. The first fatal
// handler error cancels every other in-flight task and is returned; per-clip
// failures that the handler has already routed through fallback are not
// fatal and do not appear here.
func (s *Scheduler) RunClipPhase(ctx context.Context, tasks []*video.ClipTask, lines map[string]video.LyricLine, handler Handler) error {
	ordered := make([]*video.ClipTask, len(tasks))
	copy(ordered, tasks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].LineIndex < ordered[j].LineIndex })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Wakes every admission-gate waiter on cancellation so acquireGlobal's
	// cond.Wait loop can observe runCtx.Err() and return instead of blocking
	// forever once a fatal task failure cancels the run.
	go func() {
		<-runCtx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, len(ordered))

	for _, task := range ordered {
		task := task
		line := lines[task.LineID]

		if err := s.acquireGlobal(runCtx); err != nil {
			errCh <- err
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.releaseGlobal()

			if err := handler(runCtx, task, line); err != nil {
				log.LogError("", "clip task failed fatally", err, "clip_task_id", task.ClipTaskID, "line_id", task.LineID)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// AcquireSource blocks until a per-source-video slot for key is available, or
// ctx is cancelled first. A task holds its single global slot (acquired by
// RunClipPhase) for its whole lifetime, but a fallback candidate change can
// move it to a different source_video_id; callers re-acquire this once per
// candidate, releasing the previous key's reservation first, so the
// per_video_limit cap is always checked against the source currently being
// fetched rather than the one the task started on.
func (s *Scheduler) AcquireSource(ctx context.Context, key string) (ratelimit.Release, error) {
	return s.slots.Acquire(ctx, key)
}

func (s *Scheduler) acquireGlobal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inFlight >= s.store.Current().MaxParallelism {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.inFlight++
	if s.inFlight > s.peakParallelism {
		s.peakParallelism = s.inFlight
	}
	return nil
}

func (s *Scheduler) releaseGlobal() {
	s.mu.Lock()
	s.inFlight--
	s.cond.Broadcast()
	s.mu.Unlock()
}
