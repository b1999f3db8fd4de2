// Package answers queries the Wolfram|Alpha short answers and simple
// image APIs and reshapes the simple API's composite image into
// chat-sized attachments.
package answers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kitmatheinfo/latexfogel/internal/observability"
)

const defaultBaseURL = "https://api.wolframalpha.com"

// Client talks to the Wolfram|Alpha v1 API.
type Client struct {
	appID   string
	baseURL string
	http    *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewClient(appID string, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		appID:   appID,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		metrics: metrics,
		logger:  logger.With("component", "answers"),
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// SetTimeout overrides the HTTP client timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.http.Timeout = d
}

// ShortAnswer returns the single-line answer for a query. The API answers
// 501 with a human-readable explanation when it has no result; that text
// is returned as the answer rather than as an error.
func (c *Client) ShortAnswer(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("i", query)
	params.Set("appid", c.appID)

	start := time.Now()
	body, status, err := c.get(ctx, "/v1/result", params)
	if err != nil {
		c.metrics.ObserveAnswers("result", "error", time.Since(start))
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusNotImplemented:
		c.metrics.ObserveAnswers("result", "success", time.Since(start))
		return string(body), nil
	default:
		c.metrics.ObserveAnswers("result", "error", time.Since(start))
		return "", fmt.Errorf("short answer API returned status %d", status)
	}
}

// SimpleQuery returns the composite answer image for a query. The labelbar
// layout inserts a colored marker row above each section, which is what
// SliceImage later splits on.
func (c *Client) SimpleQuery(ctx context.Context, query string) ([]byte, error) {
	params := url.Values{}
	params.Set("i", query)
	params.Set("units", "metric")
	params.Set("appid", c.appID)
	params.Set("layout", "labelbar")

	start := time.Now()
	body, status, err := c.get(ctx, "/v1/simple", params)
	if err != nil {
		c.metrics.ObserveAnswers("simple", "error", time.Since(start))
		return nil, err
	}
	if status != http.StatusOK {
		c.metrics.ObserveAnswers("simple", "error", time.Since(start))
		return nil, fmt.Errorf("simple API returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
	c.metrics.ObserveAnswers("simple", "success", time.Since(start))
	return body, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	c.logger.Debug("answers API call", "path", path, "status", resp.StatusCode, "bytes", len(body))
	return body, resp.StatusCode, nil
}
