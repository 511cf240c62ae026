package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"aigw/internal/observability"
	"aigw/internal/util"
)

const (
	// maxResponseBodySize bounds how much of a backend response is read.
	maxResponseBodySize = 16 * 1024 * 1024

	defaultInvokeTimeout = 30 * time.Second
)

// Client invokes backend instances over HTTP and translates transport
// and status failures into the gateway error taxonomy so the retry
// executor and circuit breakers can classify them.
type Client struct {
	client *http.Client
	logger observability.Logger
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a backend client with a shared pooled transport.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &Client{
		client: &http.Client{Transport: transport},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Invoke posts the payload to the instance at the given path and
// returns the response body. The in-flight connection count is held
// for the duration of the call so the balancer sees real utilization.
func (c *Client) Invoke(ctx context.Context, inst *Instance, path string, payload json.RawMessage) (json.RawMessage, error) {
	timeout := inst.Timeout
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inst.Acquire()
	defer inst.Release()

	start := time.Now()
	body, err := c.do(ctx, inst, path, payload)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	GetBackendMetrics().requestDuration.WithLabelValues(inst.Service, inst.Name, outcome).Observe(elapsed.Seconds())

	if err != nil {
		return nil, c.translate(inst, elapsed, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, inst *Instance, path string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.Address+path, bytes.NewReader(payload))
	if err != nil {
		return nil, util.NewPermanentBackendError(inst.Service, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, err
	}

	if err := c.statusError(inst, resp, body); err != nil {
		return nil, err
	}
	return body, nil
}

// statusError maps a non-2xx response to a taxonomy error.
func (c *Client) statusError(inst *Instance, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		exhausted := util.NewResourceExhaustedError(inst.Service, parseRetryAfter(resp.Header.Get("Retry-After")))
		exhausted.Cause = fmt.Errorf("status %d: %s", code, truncateBody(body))
		return exhausted
	case code >= 500 || code == http.StatusRequestTimeout:
		berr := util.NewRetryableBackendError(inst.Service, fmt.Sprintf("status %d: %s", code, truncateBody(body)), nil)
		berr.Instance = inst.Name
		berr.Status = code
		return berr
	default:
		berr := util.NewPermanentBackendError(inst.Service, fmt.Sprintf("status %d: %s", code, truncateBody(body)), nil)
		berr.Instance = inst.Name
		berr.Status = code
		return berr
	}
}

// translate maps transport-level failures to the taxonomy. A deadline
// that fired while the request was in flight consumed backend capacity,
// so it carries a cause and counts against the breaker.
func (c *Client) translate(inst *Instance, elapsed time.Duration, err error) error {
	var berr *util.BackendError
	if errors.As(err, &berr) {
		return err
	}
	var exhausted *util.ResourceExhaustedError
	if errors.As(err, &exhausted) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		derr := util.NewDeadlineError(inst.Service+" call", elapsed)
		derr.Cause = err
		return derr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		derr := util.NewDeadlineError(inst.Service+" call", elapsed)
		derr.Cause = err
		return derr
	}

	translated := util.NewRetryableBackendError(inst.Service, "request failed", err)
	translated.Instance = inst.Name
	return translated
}

// Probe performs a health check request and returns the parsed report
// together with the round-trip time.
func (c *Client) Probe(ctx context.Context, inst *Instance) (ResourceMetrics, time.Duration, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.Address+"/health", nil)
	if err != nil {
		return ResourceMetrics{}, 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ResourceMetrics{}, time.Since(start), err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodySize))
	rtt := time.Since(start)
	if err != nil {
		return ResourceMetrics{}, rtt, err
	}
	if resp.StatusCode != http.StatusOK {
		return ResourceMetrics{}, rtt, fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}

	var report healthResponse
	if err := json.Unmarshal(body, &report); err != nil {
		return ResourceMetrics{}, rtt, nil
	}
	return ResourceMetrics{
		CPUPercent:    report.CPUPercent,
		MemoryPercent: report.MemoryPercent,
		LatencyMillis: report.LatencyMillis,
	}, rtt, nil
}

// parseRetryAfter parses a Retry-After header value in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncateBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
