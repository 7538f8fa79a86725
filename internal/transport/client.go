// Package transport talks to the vitals backend over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vitals-service/internal/logger"
	"vitals-service/internal/models"
)

const (
	DefaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4096
)

// ErrRequestFailed covers network errors, timeouts and non-2xx statuses.
var ErrRequestFailed = errors.New("vitals request failed")

// ErrInvalidResponse indicates the backend answered with a malformed body.
var ErrInvalidResponse = errors.New("vitals invalid response")

// ErrRejected indicates the backend answered success=false.
var ErrRejected = errors.New("vitals request rejected")

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a client for the backend at baseURL. A nil httpClient
// gets one with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("vitals api base url required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	} else if httpClient.Timeout == 0 {
		httpClient.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL: trimmed,
		http:    httpClient,
		log:     log.With("component", "transport"),
	}, nil
}

// Send posts sample and only logs failures. It satisfies collector.Sender.
func (c *Client) Send(ctx context.Context, sample models.Sample) {
	if _, err := c.Post(ctx, sample); err != nil {
		c.log.Warn("send sample failed", "id", sample.ID, "error", err)
		return
	}
	c.log.Debug("sample sent", "id", sample.ID, "score", sample.Score)
}

// Post submits sample to /api/metrics and returns the stored form.
func (c *Client) Post(ctx context.Context, sample models.Sample) (models.Sample, error) {
	body, err := json.Marshal(sample)
	if err != nil {
		return models.Sample{}, fmt.Errorf("marshal sample: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/metrics", bytes.NewReader(body))
	if err != nil {
		return models.Sample{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var stored models.Sample
	if err := c.do(req, &stored); err != nil {
		return models.Sample{}, err
	}
	return stored, nil
}

// Latest returns up to limit recent samples, oldest first. Failures yield an
// empty slice.
func (c *Client) Latest(ctx context.Context, limit int) []models.Sample {
	u := c.baseURL + "/api/metrics?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.log.Warn("build latest request failed", "error", err)
		return []models.Sample{}
	}

	var samples []models.Sample
	if err := c.do(req, &samples); err != nil {
		c.log.Warn("fetch latest samples failed", "limit", limit, "error", err)
		return []models.Sample{}
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	return samples
}

// Historical fetches the window covering the last hours. It returns nil on
// any failure.
func (c *Client) Historical(ctx context.Context, hours int) *models.HistoricalWindow {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/metrics/historical/%d", c.baseURL, hours), nil)
	if err != nil {
		c.log.Warn("build historical request failed", "error", err)
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("fetch historical failed", "hours", hours, "error", fmt.Errorf("%w: %v", ErrRequestFailed, err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("fetch historical failed", "hours", hours, "error", errorForStatus(resp))
		return nil
	}

	var out models.HistoricalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Warn("decode historical failed", "hours", hours, "error", fmt.Errorf("%w: %v", ErrInvalidResponse, err))
		return nil
	}
	if !out.Success {
		c.log.Warn("historical rejected", "hours", hours, "error", fmt.Errorf("%w: %s", ErrRejected, out.Error))
		return nil
	}
	if out.Data == nil {
		out.Data = []models.Sample{}
	}
	return &models.HistoricalWindow{Data: out.Data, TimeRange: out.TimeRange, Aggregates: out.Aggregates}
}

// do sends req and decodes the data field of a {success,data,error} envelope
// into dst.
func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorForStatus(resp)
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrRejected, env.Error)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidResponse)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, summary)
}
