package config

import "sync/atomic"

// Store is the single atomically-swappable holder for the live
// RenderClipConfig. Readers call Current() on every admission decision; the
// config watcher calls Swap() after validating an incoming hot-reload
// message. This is one of the three pieces of explicitly-synchronized global
// mutable state the design allows (the others are the stream-URL cache and
// the rate limiter); no other process-wide config singleton should exist.
type Store struct {
	ptr atomic.Pointer[RenderClipConfig]
}

func NewStore(initial RenderClipConfig) *Store {
	s := &Store{}
	s.Swap(initial)
	return s
}

func (s *Store) Current() RenderClipConfig {
	return *s.ptr.Load()
}

func (s *Store) Swap(cfg RenderClipConfig) {
	c := cfg
	s.ptr.Store(&c)
}
