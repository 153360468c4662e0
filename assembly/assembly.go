// Package assembly concatenates the produced clips in line order, burns in
// subtitles generated from the locked timeline, mixes the original audio
// track trimmed to the vocal-onset anchor, and asserts the final duration.
package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	rerrors "github.com/lyricvid/render-worker/errors"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/subprocess"
	"github.com/lyricvid/render-worker/video"
)

// durationTolerance is the final assertion's +/-200ms window against the
// sum of line durations (§4.6 step 5).
const durationTolerance = 200

// ClipOutput is one completed clip, in the order it must appear.
type ClipOutput struct {
	Line video.LyricLine
	Path string
}

// Assembler runs the five assembly steps against one job's completed clips.
type Assembler struct {
	Prober    video.Prober
	OutputDir string
}

// Assemble runs alignment logging, concatenation, subtitle burn-in, audio
// mux and the final duration assertion, returning
// the finished video's path. Any failure here is fatal to the job
// (assembly-failed), per §4.1/§4.6.
func (a *Assembler) Assemble(ctx context.Context, requestID string, timeline video.Timeline, clips []ClipOutput, audioTrackPath string) (string, error) {
	log.Log(requestID, "vocal onset alignment", "mix_id", timeline.MixID, "vocal_start_ms", timeline.VocalStartMs)

	concatPath := filepath.Join(a.OutputDir, "concat.mp4")
	if err := a.concatenate(ctx, requestID, clips, concatPath); err != nil {
		return "", rerrors.New(rerrors.KindAssemblyFailed, err)
	}

	subtitlePath := filepath.Join(a.OutputDir, "subtitles.ass")
	if err := GenerateSubtitles(timeline.Lines, timeline.VocalStartMs, subtitlePath); err != nil {
		return "", rerrors.New(rerrors.KindAssemblyFailed, err)
	}

	finalPath := filepath.Join(a.OutputDir, fmt.Sprintf("%s.mp4", timeline.MixID))
	if err := a.burnAndMux(ctx, requestID, concatPath, subtitlePath, audioTrackPath, timeline.VocalStartMs, finalPath); err != nil {
		return "", rerrors.New(rerrors.KindAssemblyFailed, err)
	}

	if err := a.assertDuration(ctx, finalPath, timeline.Lines); err != nil {
		return "", rerrors.New(rerrors.KindAssemblyFailed, err)
	}

	return finalPath, nil
}

// concatenate writes a concat-demuxer list file with one entry per given
// ClipOutput, in the order given, and runs the copy-concat. It does no gap
// filling: a clip shorter than its line is not extended, and a ClipOutput
// whose file is missing is not replaced, so the concat step fails on it.
func (a *Assembler) concatenate(ctx context.Context, requestID string, clips []ClipOutput, outputPath string) error {
	if len(clips) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(a.OutputDir, "concat_list.txt")
	if err := a.writeConcatList(clips, listPath); err != nil {
		return err
	}
	defer os.Remove(listPath)

	stream := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(outputPath, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput()

	if err := subprocess.RunFFmpegStream(ctx, requestID, stream); err != nil {
		return fmt.Errorf("concatenation failed: %w", err)
	}
	return nil
}

// writeConcatList writes a concat-demuxer list file in the order clips are
// given; clips must already be in line order by the time this is called.
func (a *Assembler) writeConcatList(clips []ClipOutput, listPath string) error {
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, clip := range clips {
		if _, err := fmt.Fprintf(f, "file '%s'\n", clip.Path); err != nil {
			f.Close()
			return fmt.Errorf("failed to write concat list entry: %w", err)
		}
	}
	return f.Close()
}

// burnAndMux burns the subtitle track into the concatenated video and
// replaces its audio with the original track, trimmed to start at the
// vocal-onset anchor, in a single re-encode pass.
func (a *Assembler) burnAndMux(ctx context.Context, requestID, concatPath, subtitlePath, audioTrackPath string, vocalStartMs int64, outputPath string) error {
	stream := ffmpeg.Input(concatPath).
		Input(audioTrackPath, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", float64(vocalStartMs)/1000)}).
		Output(outputPath, ffmpeg.KwArgs{
			"vf":     fmt.Sprintf("ass=%s", subtitlePath),
			"map":    []string{"0:v", "1:a"},
			"c:v":    "libx264",
			"preset": "veryfast",
			"c:a":    "aac",
			"shortest": "",
		}).
		OverWriteOutput()

	if err := subprocess.RunFFmpegStream(ctx, requestID, stream); err != nil {
		return fmt.Errorf("subtitle burn-in and audio mux failed: %w", err)
	}
	return nil
}

func (a *Assembler) assertDuration(ctx context.Context, finalPath string, lines []video.LyricLine) error {
	var expectedMs int64
	for _, l := range lines {
		expectedMs += l.DurationMs()
	}

	probe, err := a.Prober.ProbeFile(ctx, finalPath)
	if err != nil {
		return fmt.Errorf("final duration probe failed: %w", err)
	}

	delta := probe.DurationMs - expectedMs
	if delta < -durationTolerance || delta > durationTolerance {
		return fmt.Errorf("final duration %dms outside +/-%dms of expected %dms", probe.DurationMs, durationTolerance, expectedMs)
	}
	return nil
}
