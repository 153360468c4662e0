// Package fallback implements the clip task's candidate-exhaustion fallback
// path: advance through ranked candidates, then local-file lookup by source
// video id, then a placeholder asset re-timed to the requested window.
package fallback

import (
	"context"
	"fmt"
	"path/filepath"

	rerrors "github.com/lyricvid/render-worker/errors"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/metrics"
	"github.com/lyricvid/render-worker/video"
)

// Cutter is the subset of fetch.Engine the fallback state machine drives for
// the local-file and placeholder re-encode steps.
type Cutter interface {
	CutLocalFile(ctx context.Context, sourcePath string, startMs, durationMs int64, outputPath string) error
}

// Machine runs the fallback sequence for one clip task once its candidate
// list is exhausted.
type Machine struct {
	Cutter        Cutter
	LocalMediaDir string
	PlaceholderPath string
	OutputDir     string
}

// localFileExt lists the extensions tried, in order, when locating a local
// asset for a source_video_id; the first existing path wins.
var localFileExt = []string{".mp4", ".mov", ".mkv"}

// StatFunc abstracts os.Stat so tests can simulate present/missing files
// without touching the real filesystem.
type StatFunc func(path string) (exists bool)

// Resolve runs candidate exhaustion -> local-file lookup -> placeholder for
// one task, logging each transition with clip_task_id/line_id/
// candidate_index/fallback_reason. A line with zero candidates enters
// directly at "candidates exhausted" since CandidateIndex is already 0 and
// CurrentCandidate immediately reports false.
func (m *Machine) Resolve(ctx context.Context, requestID string, task *video.ClipTask, statFile StatFunc, line video.LyricLine, reason string) error {
	log.Log(requestID, "clip candidates exhausted", "clip_task_id", task.ClipTaskID, "line_id", task.LineID, "candidate_index", task.CandidateIndex, "fallback_reason", reason)

	sourceVideoID, haveSourceVideoID := lastCandidateSourceVideoID(task.Candidates)
	var localPath string
	var ok bool
	if haveSourceVideoID {
		localPath, ok = m.findLocalFile(sourceVideoID, statFile)
	}
	if ok {
		outputPath := filepath.Join(m.OutputDir, fmt.Sprintf("%s.mp4", task.ClipTaskID))
		if err := m.Cutter.CutLocalFile(ctx, localPath, line.StartMs, line.DurationMs(), outputPath); err != nil {
			log.LogError(requestID, "local-file fallback cut failed, falling through to placeholder", err, "clip_task_id", task.ClipTaskID, "line_id", task.LineID)
		} else {
			task.State = video.ClipTaskFallbackLocal
			task.SourceType = video.SourceTypeLocalFile
			task.TargetPath = outputPath
			metrics.Metrics.ClipFailures.WithLabelValues("fallback-local").Inc()
			log.Log(requestID, "fallback transition", "clip_task_id", task.ClipTaskID, "line_id", task.LineID, "candidate_index", task.CandidateIndex, "fallback_reason", "local-file-found")
			return nil
		}
	} else {
		log.Log(requestID, "fallback transition", "clip_task_id", task.ClipTaskID, "line_id", task.LineID, "candidate_index", task.CandidateIndex, "fallback_reason", "local-file-missing")
	}

	if m.PlaceholderPath == "" {
		task.State = video.ClipTaskFailed
		return rerrors.New(rerrors.KindFallbackPlaceholderFail, fmt.Errorf("no placeholder asset configured for line %s", task.LineID))
	}

	outputPath := filepath.Join(m.OutputDir, fmt.Sprintf("%s.mp4", task.ClipTaskID))
	if err := m.Cutter.CutLocalFile(ctx, m.PlaceholderPath, 0, line.DurationMs(), outputPath); err != nil {
		task.State = video.ClipTaskFailed
		log.LogError(requestID, "placeholder fallback failed", err, "clip_task_id", task.ClipTaskID, "line_id", task.LineID)
		return rerrors.New(rerrors.KindFallbackPlaceholderFail, err)
	}

	task.State = video.ClipTaskFallbackPlaceholder
	task.SourceType = video.SourceTypePlaceholder
	task.TargetPath = outputPath
	metrics.Metrics.ClipPlaceholder.Inc()
	metrics.Metrics.ClipFailures.WithLabelValues("fallback-placeholder").Inc()
	log.Log(requestID, "fallback transition", "clip_task_id", task.ClipTaskID, "line_id", task.LineID, "candidate_index", task.CandidateIndex, "fallback_reason", "placeholder-used")
	return nil
}

// lastCandidateSourceVideoID returns the source_video_id of the
// last-attempted candidate, which is the most specific local-file lookup key
// available once the ranked list is exhausted; a zero-candidate line has no
// source_video_id at all and falls straight through to the placeholder.
func lastCandidateSourceVideoID(candidates []video.Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[len(candidates)-1].SourceVideoID, true
}

func (m *Machine) findLocalFile(sourceVideoID string, statFile StatFunc) (string, bool) {
	for _, ext := range localFileExt {
		candidate := filepath.Join(m.LocalMediaDir, sourceVideoID+ext)
		if statFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}
