// Package ratelimit holds the concurrency and throughput primitives shared
// by the clip scheduler and the fetch/cut engine's retrieve step: a global
// parallelism cap, a per-source-video cap, and a token bucket for the
// external retrieve service's request rate.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// SlotLimiter bounds concurrency with a global cap and a lazily-created
// per-key cap, acquired together and released together — grounded on the
// pack's withSemaphore pattern, generalized from one semaphore to two that
// must both be held for the duration of a task.
type SlotLimiter struct {
	mu          sync.Mutex
	global      *semaphore.Weighted
	perKeyCap   int64
	perKey      map[string]*semaphore.Weighted
}

func NewSlotLimiter(globalCap, perKeyCap int64) *SlotLimiter {
	return &SlotLimiter{
		global:    semaphore.NewWeighted(globalCap),
		perKeyCap: perKeyCap,
		perKey:    make(map[string]*semaphore.Weighted),
	}
}

// SetPerKeyCap changes the per-key capacity for newly-created key semaphores.
// A key's semaphore is created once, on its first Acquire, and never
// recreated, so keys already seen keep the capacity they were created with;
// only keys first seen after the change get the new cap.
func (s *SlotLimiter) SetPerKeyCap(cap int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perKeyCap = cap
}

func (s *SlotLimiter) keySemaphore(key string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.perKey[key]
	if !ok {
		sem = semaphore.NewWeighted(s.perKeyCap)
		s.perKey[key] = sem
	}
	return sem
}

// Release is returned by Acquire; call it exactly once when the task is done.
type Release func()

// Acquire blocks until both the global slot and the per-key slot are
// available, or ctx is cancelled first. The returned Release must be called
// to free both slots atomically from the caller's perspective.
func (s *SlotLimiter) Acquire(ctx context.Context, key string) (Release, error) {
	if err := s.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	keySem := s.keySemaphore(key)
	if err := keySem.Acquire(ctx, 1); err != nil {
		s.global.Release(1)
		return nil, err
	}
	return func() {
		keySem.Release(1)
		s.global.Release(1)
	}, nil
}

// RetrieveLimiter wraps a token bucket for the external retrieve service,
// acquired inside the fetch engine per the admission-vs-retrieval split in
// the scheduler design: admission gates on SlotLimiter, retrieval gates here.
type RetrieveLimiter struct {
	limiter *rate.Limiter
}

// NewRetrieveLimiter builds a limiter for reqsPerMinute sustained throughput
// with a burst of burst concurrent requests.
func NewRetrieveLimiter(reqsPerMinute int, burst int) *RetrieveLimiter {
	perSecond := rate.Limit(float64(reqsPerMinute) / 60.0)
	return &RetrieveLimiter{limiter: rate.NewLimiter(perSecond, burst)}
}

func (r *RetrieveLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
