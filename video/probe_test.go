package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestParseProbeOutputReportsNoVideoStreamWithoutError(t *testing.T) {
	result, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{CodecType: "audio"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.HasVideoStream)
}

func TestParseProbeOutputDuration(t *testing.T) {
	result, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{
			DurationSeconds: 3.5,
			Size:            "123456",
		},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", CodecName: "h264"},
		},
	})
	require.NoError(t, err)
	require.True(t, result.HasVideoStream)
	require.Equal(t, int64(3500), result.DurationMs)
	require.Equal(t, int64(123456), result.SizeBytes)
}

func TestParseProbeOutputFallsBackToStreamDuration(t *testing.T) {
	result, err := parseProbeOutput(&ffprobe.ProbeData{
		Format: &ffprobe.Format{},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", CodecName: "h264", Duration: "2.0"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2000), result.DurationMs)
}
