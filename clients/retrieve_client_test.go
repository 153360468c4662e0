package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveStreamURLSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stream_url": "https://cdn.example.com/video-1.mp4"}`))
	}))
	defer srv.Close()

	c := NewRetrieveClient(srv.URL, "token")
	url, err := c.ResolveStreamURL(context.Background(), "req1", "video-1", 0, 5000, 2, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/video-1.mp4", url)
}

func TestResolveStreamURLNonRetryableOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRetrieveClient(srv.URL, "token")
	_, err := c.ResolveStreamURL(context.Background(), "req1", "video-1", 0, 5000, 3, 5*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestResolveStreamURLRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"stream_url": "https://cdn.example.com/video-1.mp4"}`))
	}))
	defer srv.Close()

	c := NewRetrieveClient(srv.URL, "token")
	url, err := c.ResolveStreamURL(context.Background(), "req1", "video-1", 0, 5000, 3, 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/video-1.mp4", url)
	require.Equal(t, 2, attempts)
}
