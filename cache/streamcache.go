package cache

import (
	"time"

	"github.com/lyricvid/render-worker/log"
)

// streamURLEntry is one cached resolved stream URL for a source_video_id,
// per the design note calling out the stream-URL cache as one of the three
// pieces of explicitly-synchronized global mutable state.
type streamURLEntry struct {
	url       string
	expiresAt time.Time
}

// StreamURLCache caches the external retrieve service's resolved stream URL
// per source_video_id so repeated candidates against the same source video
// don't re-resolve on every clip task. Entries expire after ttl; the fetch/cut
// engine also invalidates an entry immediately, rather than waiting out the
// TTL, when a cut against the cached URL fails (the encoder's failure is not
// broken down by HTTP status, so any failed cut counts).
type StreamURLCache struct {
	entries *Cache[streamURLEntry]
	ttl     time.Duration
	now     func() time.Time
}

func NewStreamURLCache(ttl time.Duration) *StreamURLCache {
	return &StreamURLCache{
		entries: New[streamURLEntry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached URL for sourceVideoID, or ("", false) if absent or
// expired. An expired entry is evicted as a side effect.
func (s *StreamURLCache) Get(requestID, sourceVideoID string) (string, bool) {
	entry := s.entries.Get(sourceVideoID)
	if entry.url == "" {
		return "", false
	}
	if s.now().After(entry.expiresAt) {
		s.entries.Remove(requestID, sourceVideoID)
		return "", false
	}
	return entry.url, true
}

func (s *StreamURLCache) Store(sourceVideoID, url string) {
	s.entries.Store(sourceVideoID, streamURLEntry{
		url:       url,
		expiresAt: s.now().Add(s.ttl),
	})
}

// Invalidate drops a cached URL immediately, e.g. after a failed cut against
// an expired or revoked link.
func (s *StreamURLCache) Invalidate(requestID, sourceVideoID string) {
	s.entries.Remove(requestID, sourceVideoID)
	log.Log(requestID, "Invalidated stream URL cache entry", "source_video_id", sourceVideoID)
}
