package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	rerrors "github.com/lyricvid/render-worker/errors"
	"github.com/lyricvid/render-worker/video"
)

// timelineResponse is the wire shape of a locked timeline as served by the
// upstream timeline service: the semantic matching and vocal-onset detection
// that produce it are both out of scope here, this client only reads the
// already-locked result plus the original audio asset's local path.
type timelineResponse struct {
	MixID        string `json:"mix_id"`
	VocalStartMs int64  `json:"vocal_start_ms"`
	Locked       bool   `json:"locked"`
	AudioPath    string `json:"audio_path"`
	Lines        []struct {
		LineID            string `json:"line_id"`
		Index             int    `json:"index"`
		Text              string `json:"text"`
		StartMs           int64  `json:"start_ms"`
		EndMs             int64  `json:"end_ms"`
		SelectedCandidate int    `json:"selected_candidate"`
		Candidates        []struct {
			SourceVideoID string  `json:"source_video_id"`
			StartMs       int64   `json:"start_ms"`
			EndMs         int64   `json:"end_ms"`
			Score         float64 `json:"score"`
			PreviewURL    string  `json:"preview_url"`
		} `json:"candidates"`
	} `json:"lines"`
}

// TimelineClient resolves a mix id to its locked Timeline over HTTP,
// satisfying job.TimelineLoader. The timeline is produced and locked by an
// upstream service with no one fixed transport, so this is one concrete,
// swappable choice — a deployment without a separate timeline service can
// wire any other TimelineLoader implementation instead.
type TimelineClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewTimelineClient(baseURL string) *TimelineClient {
	return &TimelineClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *TimelineClient) LoadTimeline(ctx context.Context, mixID string) (video.Timeline, string, error) {
	var resp timelineResponse
	operation := func() error {
		fetched, err := c.fetchOnce(ctx, mixID)
		if err != nil {
			return err
		}
		resp = fetched
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
	if err != nil {
		return video.Timeline{}, "", err
	}

	timeline := video.Timeline{
		MixID:        resp.MixID,
		VocalStartMs: resp.VocalStartMs,
		Locked:       resp.Locked,
		Lines:        make([]video.LyricLine, len(resp.Lines)),
	}
	for i, line := range resp.Lines {
		candidates := make([]video.Candidate, len(line.Candidates))
		for j, cand := range line.Candidates {
			candidates[j] = video.Candidate{
				SourceVideoID: cand.SourceVideoID,
				StartMs:       cand.StartMs,
				EndMs:         cand.EndMs,
				Score:         cand.Score,
				PreviewURL:    cand.PreviewURL,
			}
		}
		timeline.Lines[i] = video.LyricLine{
			LineID:            line.LineID,
			Index:             line.Index,
			Text:              line.Text,
			StartMs:           line.StartMs,
			EndMs:             line.EndMs,
			Candidates:        candidates,
			SelectedCandidate: line.SelectedCandidate,
		}
	}
	return timeline, resp.AudioPath, nil
}

func (c *TimelineClient) fetchOnce(ctx context.Context, mixID string) (timelineResponse, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return timelineResponse{}, backoff.Permanent(rerrors.New(rerrors.KindPreconditionFailed, fmt.Errorf("invalid timeline service base URL: %w", err)))
	}
	u = u.JoinPath("mixes", mixID, "timeline")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return timelineResponse{}, backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return timelineResponse{}, fmt.Errorf("timeline request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return timelineResponse{}, fmt.Errorf("timeline service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return timelineResponse{}, backoff.Permanent(fmt.Errorf("timeline service returned %d", resp.StatusCode))
	}

	var parsed timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return timelineResponse{}, backoff.Permanent(fmt.Errorf("failed to decode timeline response: %w", err))
	}
	return parsed, nil
}
