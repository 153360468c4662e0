package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/metrics"
	"github.com/lyricvid/render-worker/video"
)

// StatusMessage is the persisted-job-state payload posted to the status
// callback URL: job_status/progress/output_asset_path/error_log/metrics.render
// fields named in §6, flattened for JSON transport.
type StatusMessage struct {
	JobID            string             `json:"job_id"`
	Status           video.JobStatus    `json:"job_status"`
	Progress         float64            `json:"progress"`
	OutputAssetPath  string             `json:"output_asset_path,omitempty"`
	ErrorLog         string             `json:"error_log,omitempty"`
	ClipStats        video.ClipStats    `json:"clip_stats"`
	Alignment        video.AlignmentMetrics `json:"alignment"`
	Timestamp        int64              `json:"timestamp"`
}

// StatusClient is implemented by the HTTP callback client; a fake is used in
// job driver tests.
type StatusClient interface {
	SendStatus(ctx context.Context, callbackURL string, msg StatusMessage) error
}

// HTTPStatusClient posts StatusMessage as JSON to the callback URL with
// bounded retry.
type HTTPStatusClient struct {
	httpClient *http.Client
}

func NewHTTPStatusClient() *HTTPStatusClient {
	return &HTTPStatusClient{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPStatusClient) SendStatus(ctx context.Context, callbackURL string, msg StatusMessage) error {
	if callbackURL == "" {
		return nil
	}
	host := hostOf(callbackURL)
	start := time.Now()

	operation := func() error {
		body, err := json.Marshal(msg)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal status message: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status callback returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("status callback returned %d", resp.StatusCode))
		}
		return nil
	}

	b := newBackOff(200*time.Millisecond, 5*time.Second)
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx))
	metrics.Metrics.StatusClient.RequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Metrics.StatusClient.FailureCount.WithLabelValues(host, "send").Inc()
		log.LogError(msg.JobID, "failed to send status callback", err, "callback_url", log.RedactURL(callbackURL))
		return err
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return u.Host
}
