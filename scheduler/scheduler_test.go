package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyricvid/render-worker/config"
	"github.com/lyricvid/render-worker/video"
	"github.com/stretchr/testify/require"
)

func newStore(maxParallelism, perVideoLimit int) *config.Store {
	cfg := config.DefaultRenderClipConfig()
	cfg.MaxParallelism = maxParallelism
	cfg.PerVideoLimit = perVideoLimit
	return config.NewStore(cfg)
}

func makeTasks(n int) ([]*video.ClipTask, map[string]video.LyricLine) {
	tasks := make([]*video.ClipTask, n)
	lines := make(map[string]video.LyricLine, n)
	for i := 0; i < n; i++ {
		line := video.LyricLine{
			LineID:     fmt.Sprintf("line-%d", i),
			Index:      i,
			StartMs:    int64(i * 1000),
			EndMs:      int64(i*1000 + 1000),
			Candidates: []video.Candidate{{SourceVideoID: fmt.Sprintf("src-%d", i)}},
		}
		tasks[i] = video.NewClipTask(line)
		lines[line.LineID] = line
	}
	return tasks, lines
}

func TestRunClipPhaseRunsEveryTaskToTerminal(t *testing.T) {
	s := New(newStore(2, 1))
	tasks, lines := makeTasks(5)
	var completed int32

	err := s.RunClipPhase(context.Background(), tasks, lines, func(ctx context.Context, task *video.ClipTask, line video.LyricLine) error {
		atomic.AddInt32(&completed, 1)
		task.State = video.ClipTaskSuccess
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(5), completed)
	for _, task := range tasks {
		require.Equal(t, video.ClipTaskSuccess, task.State)
	}
}

func TestRunClipPhaseEnforcesGlobalCap(t *testing.T) {
	s := New(newStore(2, 5))
	tasks, lines := makeTasks(6)

	var mu sync.Mutex
	current, peak := 0, 0
	err := s.RunClipPhase(context.Background(), tasks, lines, func(ctx context.Context, task *video.ClipTask, line video.LyricLine) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak, 2)
	require.Equal(t, peak, s.PeakParallelism())
}

func TestRunClipPhasePropagatesFatalErrorAndCancelsOthers(t *testing.T) {
	s := New(newStore(4, 5))
	tasks, lines := makeTasks(4)

	var cancelledSeen int32
	err := s.RunClipPhase(context.Background(), tasks, lines, func(ctx context.Context, task *video.ClipTask, line video.LyricLine) error {
		if task.LineIndex == 0 {
			return fmt.Errorf("fatal")
		}
		<-ctx.Done()
		atomic.AddInt32(&cancelledSeen, 1)
		return nil
	})
	require.Error(t, err)
	require.Greater(t, atomic.LoadInt32(&cancelledSeen), int32(0))
}

func TestApplyConfigWakesBlockedAdmission(t *testing.T) {
	store := newStore(1, 5)
	s := New(store)
	tasks, lines := makeTasks(2)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	go func() {
		s.RunClipPhase(context.Background(), tasks, lines, func(ctx context.Context, task *video.ClipTask, line video.LyricLine) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}()

	<-started
	cfg := store.Current()
	cfg.MaxParallelism = 2
	store.Swap(cfg)
	s.ApplyConfig(cfg)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("second task never admitted after cap raised")
	}
	close(release)
}
