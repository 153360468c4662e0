package assembly

import (
	"fmt"
	"os"
	"strings"

	"github.com/lyricvid/render-worker/video"
)

// ASS style constants for one fixed line-level style: white fill, black
// outline, bottom-center, no per-word highlight (a karaoke line is sung as a
// whole, not word-timed).
const (
	subtitleFontName = "Noto Sans"
	subtitleFontSize = 72

	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorSemiBlack = "&H80000000"

	subtitleOutline = 4
	subtitleMarginV = 160
)

// GenerateSubtitles writes one ASS dialogue line per lyric line, timed to
// the line's window after vocal-onset correction, to outputPath.
func GenerateSubtitles(lines []video.LyricLine, vocalStartMs int64, outputPath string) error {
	if len(lines) == 0 {
		return fmt.Errorf("no lyric lines to generate subtitles from")
	}

	var sb strings.Builder
	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	sb.WriteString("PlayResX: 1080\n")
	sb.WriteString("PlayResY: 1920\n")
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	sb.WriteString(fmt.Sprintf(
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,0,0,1,%d,0,2,40,40,%d,1\n\n",
		subtitleFontName, subtitleFontSize, assColorWhite, assColorWhite, assColorBlack, assColorSemiBlack, subtitleOutline, subtitleMarginV,
	))

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, line := range lines {
		startSec := float64(line.StartMs-vocalStartMs) / 1000
		endSec := float64(line.EndMs-vocalStartMs) / 1000
		text := escapeASSText(line.Text)
		sb.WriteString(fmt.Sprintf("Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", formatASSTime(startSec), formatASSTime(endSec), text))
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}
	return nil
}

func escapeASSText(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\\", "\\\\"), "\n", "\\N")
}

func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
