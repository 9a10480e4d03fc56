// Package upstream executes the forwarded call against the real provider API.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/costspent/llm-gateway/internal/providers"
)

// DefaultTimeout bounds one upstream call. Generation can be slow; two
// minutes is generous without letting a wedged provider pin a goroutine.
const DefaultTimeout = 120 * time.Second

// ErrTimeout marks the distinct upstream-timeout failure. It is logged with
// zero cost and never retried by the gateway.
var ErrTimeout = errors.New("upstream timeout")

// Result is one completed upstream exchange.
type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Duration   time.Duration
}

// Client issues provider calls with a bounded timeout.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration

	// baseURLOverride replaces the provider base URL when set (tests).
	baseURLOverride string
}

// NewClient creates a Client with the given per-call timeout (0 = default).
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// NewClientWithBaseURL pins every provider to one base URL. Test hook.
func NewClientWithBaseURL(timeout time.Duration, baseURL string) *Client {
	c := NewClient(timeout)
	c.baseURLOverride = baseURL
	return c
}

// Forward issues the call and reads the full response. Vendor error statuses
// come back in Result untranslated. The call runs on a context detached from
// the inbound request: a client that disconnects mid-call must not abort the
// exchange, or the log entry and budget accounting would be lost.
func (c *Client) Forward(ctx context.Context, provider, apiKey, path, method string, body []byte) (*Result, error) {
	base := c.baseURLOverride
	if base == "" {
		base = providers.BaseURL(provider)
	}
	if base == "" {
		return nil, fmt.Errorf("no base URL for provider %q", provider)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, base+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeaders(req, provider, apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, duration.Round(time.Millisecond))
		}
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w reading response", ErrTimeout)
		}
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Header:     resp.Header,
		Duration:   duration,
	}, nil
}

// setAuthHeaders applies each provider's credential header convention.
func setAuthHeaders(req *http.Request, provider, apiKey string) {
	switch provider {
	case models.ProviderAnthropic:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case models.ProviderGoogle:
		req.Header.Set("x-goog-api-key", apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
