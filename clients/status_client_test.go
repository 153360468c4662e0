package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyricvid/render-worker/video"
	"github.com/stretchr/testify/require"
)

func TestSendStatusPostsJSON(t *testing.T) {
	var received StatusMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPStatusClient()
	err := c.SendStatus(context.Background(), srv.URL, StatusMessage{
		JobID:  "job-1",
		Status: video.JobStatusRunning,
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", received.JobID)
	require.Equal(t, video.JobStatusRunning, received.Status)
}

func TestSendStatusSkipsEmptyCallbackURL(t *testing.T) {
	c := NewHTTPStatusClient()
	err := c.SendStatus(context.Background(), "", StatusMessage{JobID: "job-1"})
	require.NoError(t, err)
}

func TestSendStatusFailsOn4xxWithoutRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPStatusClient()
	err := c.SendStatus(context.Background(), srv.URL, StatusMessage{JobID: "job-1"})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
