package clients

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff is the shared exponential-backoff policy constructor used by
// the retrieve client's retry loop and the config watcher's reconnect loop.
func newBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
