package fallback

import (
	"context"
	"testing"

	"github.com/lyricvid/render-worker/video"
	"github.com/stretchr/testify/require"
)

type fakeCutter struct {
	err          error
	calledPaths  []string
}

func (f *fakeCutter) CutLocalFile(ctx context.Context, sourcePath string, startMs, durationMs int64, outputPath string) error {
	f.calledPaths = append(f.calledPaths, sourcePath)
	return f.err
}

func statAlways(exists bool) StatFunc {
	return func(path string) bool { return exists }
}

func TestResolveUsesLocalFileWhenPresent(t *testing.T) {
	cutter := &fakeCutter{}
	m := &Machine{Cutter: cutter, LocalMediaDir: "/media", PlaceholderPath: "/media/placeholder.mp4", OutputDir: "/out"}
	task := video.NewClipTask(video.LyricLine{LineID: "line-1", Candidates: []video.Candidate{{SourceVideoID: "vid-1"}}})

	err := m.Resolve(context.Background(), "req1", task, statAlways(true), video.LyricLine{LineID: "line-1", StartMs: 0, EndMs: 2000}, "candidates-exhausted")
	require.NoError(t, err)
	require.Equal(t, video.ClipTaskFallbackLocal, task.State)
	require.Equal(t, video.SourceTypeLocalFile, task.SourceType)
	require.Len(t, cutter.calledPaths, 1)
}

func TestResolveFallsThroughToPlaceholderWhenLocalMissing(t *testing.T) {
	cutter := &fakeCutter{}
	m := &Machine{Cutter: cutter, LocalMediaDir: "/media", PlaceholderPath: "/media/placeholder.mp4", OutputDir: "/out"}
	task := video.NewClipTask(video.LyricLine{LineID: "line-1", Candidates: []video.Candidate{{SourceVideoID: "vid-1"}}})

	err := m.Resolve(context.Background(), "req1", task, statAlways(false), video.LyricLine{LineID: "line-1", StartMs: 0, EndMs: 2000}, "candidates-exhausted")
	require.NoError(t, err)
	require.Equal(t, video.ClipTaskFallbackPlaceholder, task.State)
	require.Equal(t, video.SourceTypePlaceholder, task.SourceType)
	require.Equal(t, []string{"/media/placeholder.mp4"}, cutter.calledPaths)
}

func TestResolveZeroCandidatesGoesStraightToPlaceholder(t *testing.T) {
	cutter := &fakeCutter{}
	m := &Machine{Cutter: cutter, LocalMediaDir: "/media", PlaceholderPath: "/media/placeholder.mp4", OutputDir: "/out"}
	task := video.NewClipTask(video.LyricLine{LineID: "line-2", Candidates: nil})

	err := m.Resolve(context.Background(), "req1", task, statAlways(true), video.LyricLine{LineID: "line-2", StartMs: 0, EndMs: 1500}, "no-candidates")
	require.NoError(t, err)
	require.Equal(t, video.ClipTaskFallbackPlaceholder, task.State)
	require.Equal(t, []string{"/media/placeholder.mp4"}, cutter.calledPaths)
}

func TestResolveFailsWhenPlaceholderMissingAndLocalMissing(t *testing.T) {
	cutter := &fakeCutter{}
	m := &Machine{Cutter: cutter, LocalMediaDir: "/media", PlaceholderPath: "", OutputDir: "/out"}
	task := video.NewClipTask(video.LyricLine{LineID: "line-1", Candidates: []video.Candidate{{SourceVideoID: "vid-1"}}})

	err := m.Resolve(context.Background(), "req1", task, statAlways(false), video.LyricLine{LineID: "line-1", StartMs: 0, EndMs: 2000}, "candidates-exhausted")
	require.Error(t, err)
	require.Equal(t, video.ClipTaskFailed, task.State)
}

func TestResolvePlaceholderCutFailureFailsTask(t *testing.T) {
	cutter := &fakeCutter{err: context.DeadlineExceeded}
	m := &Machine{Cutter: cutter, LocalMediaDir: "/media", PlaceholderPath: "/media/placeholder.mp4", OutputDir: "/out"}
	task := video.NewClipTask(video.LyricLine{LineID: "line-1", Candidates: []video.Candidate{{SourceVideoID: "vid-1"}}})

	err := m.Resolve(context.Background(), "req1", task, statAlways(false), video.LyricLine{LineID: "line-1", StartMs: 0, EndMs: 2000}, "candidates-exhausted")
	require.Error(t, err)
	require.Equal(t, video.ClipTaskFailed, task.State)
}
