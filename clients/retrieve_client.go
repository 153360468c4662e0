package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	rerrors "github.com/lyricvid/render-worker/errors"
	"github.com/lyricvid/render-worker/log"
	"github.com/lyricvid/render-worker/metrics"
)

// RetrieveClient resolves a candidate's source_video_id + time window into a
// directly-fetchable stream URL from the external media service (§6);
// search/matching itself is out of scope, this only resolves an already
// chosen candidate.
type RetrieveClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

func NewRetrieveClient(baseURL, apiToken string) *RetrieveClient {
	return &RetrieveClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type resolveStreamResponse struct {
	StreamURL string `json:"stream_url"`
}

// ResolveStreamURL resolves one source video's window to a stream URL,
// retrying transient failures (network-io, remote-http-5xx) with exponential
// backoff up to maxRetry times after the first attempt; remote-http-4xx is classified non-retryable
// and returned immediately per the fetch/cut engine's error taxonomy.
func (c *RetrieveClient) ResolveStreamURL(ctx context.Context, requestID, sourceVideoID string, startMs, endMs int64, maxRetry int, backoffBase time.Duration) (string, error) {
	var result string
	start := time.Now()
	host := c.host()

	operation := func() error {
		streamURL, err := c.resolveOnce(ctx, sourceVideoID, startMs, endMs)
		if err != nil {
			if kind, ok := rerrors.KindOf(err); ok && kind == rerrors.KindCandidatePermanent {
				return backoff.Permanent(err)
			}
			return err
		}
		result = streamURL
		return nil
	}

	b := newBackOff(backoffBase, 2*time.Second)
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetry)), ctx))
	metrics.Metrics.RetrieveClient.RequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Metrics.RetrieveClient.FailureCount.WithLabelValues(host, statusCodeOf(err)).Inc()
		log.LogError(requestID, "retrieve client failed to resolve stream URL", err, "source_video_id", sourceVideoID)
		return "", err
	}
	return result, nil
}

func (c *RetrieveClient) resolveOnce(ctx context.Context, sourceVideoID string, startMs, endMs int64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", rerrors.New(rerrors.KindCandidatePermanent, fmt.Errorf("invalid retrieve base URL: %w", err))
	}
	u = u.JoinPath("videos", sourceVideoID, "resolve")
	q := u.Query()
	q.Set("start_ms", strconv.FormatInt(startMs, 10))
	q.Set("end_ms", strconv.FormatInt(endMs, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", rerrors.New(rerrors.KindCandidatePermanent, err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("retrieve request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("rate limited by retrieve service"))
	case resp.StatusCode >= 500:
		return "", rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("retrieve service returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", rerrors.New(rerrors.KindCandidatePermanent, fmt.Errorf("retrieve service returned %d", resp.StatusCode))
	}

	var parsed resolveStreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", rerrors.New(rerrors.KindCandidateRetryable, fmt.Errorf("failed to decode retrieve response: %w", err))
	}
	return parsed.StreamURL, nil
}

func (c *RetrieveClient) host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "unknown"
	}
	return u.Host
}

func statusCodeOf(err error) string {
	kind, ok := rerrors.KindOf(err)
	if !ok {
		return "unknown"
	}
	return string(kind)
}
