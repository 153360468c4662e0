package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTimelineSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"mix_id": "mix-1",
			"vocal_start_ms": 250,
			"locked": true,
			"audio_path": "/media/mix-1.wav",
			"lines": [
				{"line_id": "l1", "index": 0, "text": "hello", "start_ms": 0, "end_ms": 2000, "selected_candidate": 0,
				 "candidates": [{"source_video_id": "src-1", "start_ms": 0, "end_ms": 2000, "score": 0.9}]}
			]
		}`)
	}))
	defer srv.Close()

	c := NewTimelineClient(srv.URL)
	timeline, audioPath, err := c.LoadTimeline(context.Background(), "mix-1")
	require.NoError(t, err)
	require.Equal(t, "/media/mix-1.wav", audioPath)
	require.True(t, timeline.Locked)
	require.Equal(t, int64(250), timeline.VocalStartMs)
	require.Len(t, timeline.Lines, 1)
	require.Equal(t, "l1", timeline.Lines[0].LineID)
	require.Len(t, timeline.Lines[0].Candidates, 1)
	require.Equal(t, "src-1", timeline.Lines[0].Candidates[0].SourceVideoID)
}

func TestLoadTimelineNonRetryableOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewTimelineClient(srv.URL)
	_, _, err := c.LoadTimeline(context.Background(), "mix-missing")
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestLoadTimelineRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"mix_id": "mix-1", "locked": true, "audio_path": "/media/mix-1.wav", "lines": []}`)
	}))
	defer srv.Close()

	c := NewTimelineClient(srv.URL)
	timeline, _, err := c.LoadTimeline(context.Background(), "mix-1")
	require.NoError(t, err)
	require.Equal(t, "mix-1", timeline.MixID)
	require.Equal(t, 2, attempts)
}
