package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlotLimiterEnforcesGlobalCap(t *testing.T) {
	s := NewSlotLimiter(1, 5)
	ctx := context.Background()

	release1, err := s.Acquire(ctx, "video-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := s.Acquire(ctx, "video-2")
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked on the global cap")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should have unblocked after release")
	}
}

func TestSlotLimiterEnforcesPerKeyCap(t *testing.T) {
	s := NewSlotLimiter(5, 1)
	ctx := context.Background()

	releaseA, err := s.Acquire(ctx, "video-1")
	require.NoError(t, err)

	blocked := make(chan struct{})
	go func() {
		releaseB, err := s.Acquire(ctx, "video-1")
		require.NoError(t, err)
		close(blocked)
		releaseB()
	}()

	select {
	case <-blocked:
		t.Fatal("same-key acquire should have blocked on the per-key cap")
	case <-time.After(50 * time.Millisecond):
	}

	releaseA()
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("same-key acquire should have unblocked after release")
	}
}

func TestSlotLimiterDistinctKeysDoNotBlockEachOther(t *testing.T) {
	s := NewSlotLimiter(5, 1)
	ctx := context.Background()

	release1, err := s.Acquire(ctx, "video-1")
	require.NoError(t, err)
	defer release1()

	release2, err := s.Acquire(ctx, "video-2")
	require.NoError(t, err)
	defer release2()
}

func TestSlotLimiterAcquireRespectsContextCancellation(t *testing.T) {
	s := NewSlotLimiter(1, 1)
	ctx := context.Background()

	release, err := s.Acquire(ctx, "video-1")
	require.NoError(t, err)
	defer release()

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(cancelCtx, "video-1")
	require.Error(t, err)
}

func TestRetrieveLimiterWaitRespectsContext(t *testing.T) {
	r := NewRetrieveLimiter(1, 1)
	ctx := context.Background()
	require.NoError(t, r.Wait(ctx))

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, r.Wait(cancelCtx))
}
