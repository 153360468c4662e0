package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamURLCacheGetMiss(t *testing.T) {
	c := NewStreamURLCache(time.Hour)
	_, ok := c.Get("req1", "video-1")
	require.False(t, ok)
}

func TestStreamURLCacheStoreAndGet(t *testing.T) {
	c := NewStreamURLCache(time.Hour)
	c.Store("video-1", "https://example.com/video-1.mp4")
	url, ok := c.Get("req1", "video-1")
	require.True(t, ok)
	require.Equal(t, "https://example.com/video-1.mp4", url)
}

func TestStreamURLCacheExpiry(t *testing.T) {
	c := NewStreamURLCache(time.Minute)
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }
	c.Store("video-1", "https://example.com/video-1.mp4")

	fakeNow = fakeNow.Add(2 * time.Minute)
	_, ok := c.Get("req1", "video-1")
	require.False(t, ok)
}

func TestStreamURLCacheInvalidate(t *testing.T) {
	c := NewStreamURLCache(time.Hour)
	c.Store("video-1", "https://example.com/video-1.mp4")
	c.Invalidate("req1", "video-1")
	_, ok := c.Get("req1", "video-1")
	require.False(t, ok)
}
