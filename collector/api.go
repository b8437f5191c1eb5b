package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every data call.
	DefaultTimeout = 10 * time.Second
	// DefaultPingTimeout bounds Ping.
	DefaultPingTimeout = 5 * time.Second

	userAgent = "misskey-exporter/0.1"
)

// APIClient talks to the administrative API of a Misskey server.
// None of its methods return errors: failures are logged and reported as
// an absent (nil) result so that an unhealthy API never aborts a cycle.
type APIClient struct {
	BaseURL     string       // e.g. "http://localhost:3000"
	HTTP        *http.Client // injected for testability
	Log         *zap.Logger
	UserAgent   string
	Timeout     time.Duration
	PingTimeout time.Duration
}

// NewAPIClient returns a ready-to-use client.
func NewAPIClient(baseURL string, log *zap.Logger) *APIClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIClient{
		BaseURL:     baseURL,
		HTTP:        &http.Client{},
		Log:         log,
		UserAgent:   userAgent,
		Timeout:     DefaultTimeout,
		PingTimeout: DefaultPingTimeout,
	}
}

// MakeRequest POSTs body as JSON to endpoint and decodes the reply into T.
// It returns nil on any transport error, timeout, non-2xx status or decode
// failure.
func MakeRequest[T any](ctx context.Context, c *APIClient, endpoint string, body any) *T {
	var out T
	if err := c.post(ctx, endpoint, body, c.Timeout, &out); err != nil {
		c.Log.Error("misskey api call failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil
	}
	return &out
}

func (c *APIClient) post(ctx context.Context, endpoint string, body any, timeout time.Duration, out any) error {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

// GetServerStats calls /api/stats.
func (c *APIClient) GetServerStats(ctx context.Context) *ServerStats {
	return MakeRequest[ServerStats](ctx, c, "/api/stats", nil)
}

// GetInstanceMeta calls /api/meta without the detailed payload.
func (c *APIClient) GetInstanceMeta(ctx context.Context) *InstanceMeta {
	return MakeRequest[InstanceMeta](ctx, c, "/api/meta", map[string]any{"detail": false})
}

// GetFederationStats calls /api/federation/stats.
func (c *APIClient) GetFederationStats(ctx context.Context) *FederationStats {
	return MakeRequest[FederationStats](ctx, c, "/api/federation/stats", nil)
}

// Ping reports whether /api/ping answers with a 2xx within PingTimeout.
func (c *APIClient) Ping(ctx context.Context) bool {
	if err := c.post(ctx, "/api/ping", nil, c.PingTimeout, nil); err != nil {
		c.Log.Debug("misskey api ping failed", zap.Error(err))
		return false
	}
	return true
}
