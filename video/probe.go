package video

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// ProbeResult is the subset of a media-probe's output the fetch/cut engine
// and assembly actually need: whether a video stream is present (a
// non-empty file with no video stream is a verification failure, not a
// success) and the probed duration, used for the +/-50ms / +/-200ms
// tolerance checks.
type ProbeResult struct {
	HasVideoStream bool
	DurationMs     int64
	SizeBytes      int64
}

// Prober is implemented by Probe; a fake is used in fetch/assembly tests.
type Prober interface {
	ProbeFile(ctx context.Context, path string) (ProbeResult, error)
}

// Probe wraps gopkg.in/vansante/go-ffprobe.v2, retried with exponential
// backoff since ffprobe can transiently fail against a just-written file on
// some filesystems.
type Probe struct{}

func (p Probe) ProbeFile(ctx context.Context, path string) (ProbeResult, error) {
	data, err := p.runProbe(ctx, path)
	if err != nil {
		return ProbeResult{}, err
	}
	return parseProbeOutput(data)
}

func (p Probe) runProbe(ctx context.Context, path string) (data *ffprobe.ProbeData, err error) {
	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	err = backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return nil, fmt.Errorf("error probing %s: %w", path, err)
	}
	return data, nil
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (ProbeResult, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		// No video stream is a verification failure the caller treats as a
		// failed-candidate-attempt, not a probe error: HasVideoStream:false
		// with a nil error keeps that branch reachable for a real probe.
		return ProbeResult{HasVideoStream: false}, nil
	}

	var durationSecs float64
	if probeData.Format != nil {
		durationSecs = probeData.Format.DurationSeconds
	}
	if durationSecs == 0 {
		if d, err := strconv.ParseFloat(videoStream.Duration, 64); err == nil {
			durationSecs = d
		}
	}

	var sizeBytes int64
	if probeData.Format != nil && probeData.Format.Size != "" {
		sizeBytes, _ = strconv.ParseInt(probeData.Format.Size, 10, 64)
	}

	return ProbeResult{
		HasVideoStream: true,
		DurationMs:     int64(durationSecs * 1000),
		SizeBytes:      sizeBytes,
	}, nil
}
