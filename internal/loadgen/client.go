// Package loadgen drives synthetic dashboard components through the REST
// ingest API with scripted degradation scenarios.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Client posts telemetry to a running monitoring server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an ingest client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ReportError posts one error report.
func (c *Client) ReportError(ctx context.Context, report telemetry.ErrorReport) error {
	return c.post(ctx, "/api/v1/telemetry/errors", report)
}

// ReportMetric posts one performance metric.
func (c *Client) ReportMetric(ctx context.Context, metric telemetry.PerformanceMetric) error {
	return c.post(ctx, "/api/v1/telemetry/metrics", metric)
}

// RegisterComponent registers a component for recovery and health tracking.
func (c *Client) RegisterComponent(ctx context.Context, name string) error {
	return c.post(ctx, "/api/v1/recovery/components", map[string]interface{}{"name": name})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}
