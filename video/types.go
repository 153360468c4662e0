// Package video holds the data model shared by the scheduler, fetch/cut
// engine, fallback state machine and assembly: Timeline/LyricLine/Candidate
// as loaded from the locked timeline, the runtime ClipTask, RenderClipConfig's
// job-facing counterpart ClipStats, and the aggregate render metrics written
// back into the job record.
package video

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the RenderJob lifecycle state.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Candidate references a time window in an external source video, produced
// upstream by semantic matching. One failure on a candidate never taints any
// other candidate, including other candidates of the same source video.
type Candidate struct {
	SourceVideoID string
	StartMs       int64
	EndMs         int64
	Score         float64
	PreviewURL    string
}

func (c Candidate) DurationMs() int64 {
	return c.EndMs - c.StartMs
}

// LyricLine is one ordered line of the locked timeline. Invariant:
// StartMs < EndMs, lines are non-overlapping in timeline order, and line
// duration is at least 500ms; that invariant is enforced upstream. Validate
// asserts (does not silently repair) the per-line start/end and minimum
// duration checks; ordering and overlap between lines are not checked.
type LyricLine struct {
	LineID             string
	Index              int
	Text               string
	StartMs            int64
	EndMs              int64
	Candidates         []Candidate
	SelectedCandidate  int // index into Candidates, or -1 if no preference
}

func (l LyricLine) DurationMs() int64 {
	return l.EndMs - l.StartMs
}

func (l LyricLine) Validate() error {
	if l.EndMs <= l.StartMs {
		return fmt.Errorf("line %d: end_ms %d must be greater than start_ms %d", l.Index, l.EndMs, l.StartMs)
	}
	if l.DurationMs() < 500 {
		return fmt.Errorf("line %d: duration %dms is below the 500ms minimum", l.Index, l.DurationMs())
	}
	return nil
}

// Timeline is the locked, ordered sequence of lyric lines for one mix,
// anchored so that VocalStartMs marks the first vocal onset. The exact
// vocal-onset detection algorithm lives upstream; the core only consumes the
// offset.
type Timeline struct {
	MixID        string
	Lines        []LyricLine
	VocalStartMs int64
	Locked       bool
}

func (t Timeline) Validate() error {
	if !t.Locked {
		return fmt.Errorf("timeline for mix %s is not locked", t.MixID)
	}
	for _, l := range t.Lines {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SourceType is a closed tagged variant for where a clip's bytes came from,
// per the "dynamic dispatch on source_type" design note: modeled as a plain
// string enum recorded on ClipTask, not an interface hierarchy.
type SourceType string

const (
	SourceTypeRemoteStream SourceType = "remote-stream"
	SourceTypeLocalFile    SourceType = "local-file"
	SourceTypePlaceholder  SourceType = "placeholder"
)

// ClipTaskState is the per-task state machine position.
type ClipTaskState string

const (
	ClipTaskPending             ClipTaskState = "pending"
	ClipTaskRunning             ClipTaskState = "running"
	ClipTaskSuccess             ClipTaskState = "success"
	ClipTaskFallbackLocal       ClipTaskState = "fallback-local"
	ClipTaskFallbackPlaceholder ClipTaskState = "fallback-placeholder"
	ClipTaskFailed              ClipTaskState = "failed"
)

func (s ClipTaskState) Terminal() bool {
	switch s {
	case ClipTaskSuccess, ClipTaskFallbackLocal, ClipTaskFallbackPlaceholder, ClipTaskFailed:
		return true
	default:
		return false
	}
}

// ClipTask is the runtime unit of work for one lyric line. It is never
// persisted; only the terminal-state counts it contributes to ClipStats are.
type ClipTask struct {
	ClipTaskID      string
	LineID          string
	LineIndex       int
	Candidates      []Candidate
	CandidateIndex  int
	Attempt         int
	ParallelSlot    int
	State           ClipTaskState
	SourceType      SourceType
	TargetPath      string
	// ProducedDurationMs is the produced clip's actual duration, set once the
	// task reaches a terminal success state; it is the other half of a
	// per-line alignment delta, paired against the owning LyricLine's
	// DurationMs.
	ProducedDurationMs int64
	StartedAt          time.Time
	FinishedAt         time.Time
	ErrorCode          string
}

func NewClipTask(line LyricLine) *ClipTask {
	return &ClipTask{
		ClipTaskID:     uuid.NewString(),
		LineID:         line.LineID,
		LineIndex:      line.Index,
		Candidates:     line.Candidates,
		CandidateIndex: 0,
		State:          ClipTaskPending,
	}
}

// CurrentCandidate returns the candidate this task is presently attempting,
// and false once the candidate list is exhausted.
func (t *ClipTask) CurrentCandidate() (Candidate, bool) {
	if t.CandidateIndex < 0 || t.CandidateIndex >= len(t.Candidates) {
		return Candidate{}, false
	}
	return t.Candidates[t.CandidateIndex], true
}

// ClipStats is the aggregate written into RenderJob when it reaches a
// terminal state. Invariant: SuccessTasks+FailedTasks == TotalTasks, and
// FailedTasks >= PlaceholderTasks.
type ClipStats struct {
	TotalTasks        int
	SuccessTasks      int
	FailedTasks       int
	FallbackTasks     int
	PlaceholderTasks  int
	AvgTaskDurationMs float64
	P95TaskDurationMs float64
	PeakParallelism   int
	GeneratedAt       time.Time
}

// AlignmentMetrics are the aggregate render metrics written alongside
// ClipStats: subtitle/picture alignment deltas averaged and maxed across
// lines, plus overall timing.
type AlignmentMetrics struct {
	LineCount     int
	AvgDeltaMs    float64
	MaxDeltaMs    float64
	TotalDuration time.Duration
	QueuedAt      time.Time
	FinishedAt    time.Time
}

// RenderJob is a single rendering attempt for one mix, exclusively owned by
// one job driver invocation from queued through to a terminal state; it is
// never mutated after that.
type RenderJob struct {
	JobID            string
	MixID            string
	Status           JobStatus
	Progress         float64
	QueuedAt         time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
	ErrorDescription string
	OutputPath       string
	Stats            ClipStats
	Alignment        AlignmentMetrics
}
