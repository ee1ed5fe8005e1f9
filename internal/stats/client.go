// Package stats implements the read-only video statistics source backed by
// the YouTube Data API v3. The runner treats any error from this package as
// "skip this iteration"; partial field updates never happen.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/soundlift/promo-monitor/internal/config"
	"github.com/soundlift/promo-monitor/internal/pkg/httpretry"
)

// VideoStats is one coherent observation of a video's public counters.
type VideoStats struct {
	Views    int64
	Likes    int64
	Comments int64
	Title    string
}

// Client is a YouTube Data API v3 client scoped to the videos endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a stats client from configuration.
func NewClient(cfg config.YouTubeConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// videosResponse mirrors the subset of the videos.list payload we read.
// YouTube returns the statistics counters as decimal strings.
type videosResponse struct {
	Items []struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// VideoStats fetches the current counters for one video.
func (c *Client) VideoStats(ctx context.Context, videoID string) (*VideoStats, error) {
	params := url.Values{}
	params.Set("part", "statistics,snippet")
	params.Set("id", videoID)
	params.Set("key", c.apiKey)

	fullURL := c.baseURL + "/videos?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed videosResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Items) == 0 {
		return nil, fmt.Errorf("video %s not found", videoID)
	}

	item := parsed.Items[0]
	out := &VideoStats{Title: item.Snippet.Title}
	if out.Views, err = parseCount(item.Statistics.ViewCount); err != nil {
		return nil, fmt.Errorf("parsing view count: %w", err)
	}
	if out.Likes, err = parseCount(item.Statistics.LikeCount); err != nil {
		return nil, fmt.Errorf("parsing like count: %w", err)
	}
	if out.Comments, err = parseCount(item.Statistics.CommentCount); err != nil {
		return nil, fmt.Errorf("parsing comment count: %w", err)
	}
	return out, nil
}

// parseCount handles the API's string-encoded counters. Videos with a
// counter hidden (ratings disabled, comments off) omit the field entirely;
// that reads as zero, not an error.
func parseCount(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
