// Package client provides the bounded upstream transport for the profiling service.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"profiling-proxy-go/internal/config"
	"profiling-proxy-go/internal/metrics"
	"profiling-proxy-go/internal/model"
	"profiling-proxy-go/internal/retry"
)

const userAgent = "profiling-proxy-go/1.0"

// maxDrainBytes caps how much of a retryable response body is read before the
// connection is reused for the next attempt.
const maxDrainBytes = 64 * 1024

// TransportError reports a failure to reach the upstream after the retry
// policy was exhausted or instructed an immediate stop.
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s %s failed after %d attempt(s): %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProfilingClient sends requests to the upstream profiling service through a
// bounded connection pool. One client is created per upstream base URL at
// process start and reused for every request; it is safe for concurrent use.
type ProfilingClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	policy     *retry.Policy
	sem        *semaphore.Weighted
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates a ProfilingClient. The pool holds at most
// cfg.Upstream.MaxConnections connections to the upstream; sends beyond that
// bound queue on a semaphore instead of opening new connections. The
// per-attempt timeout covers dialing and waiting for response headers, so a
// slow body stream is never cut off mid-relay. The metrics parameter is
// optional; pass nil to disable upstream metrics recording.
func New(cfg *config.Config, policy *retry.Policy, logger *slog.Logger, m *metrics.Metrics) (*ProfilingClient, error) {
	base, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	maxConns := cfg.Upstream.MaxConnections
	timeout := cfg.Upstream.RequestTimeout()

	transport := &http.Transport{
		MaxConnsPerHost:       maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &ProfilingClient{
		httpClient: &http.Client{Transport: transport},
		baseURL:    base,
		policy:     policy,
		sem:        semaphore.NewWeighted(int64(maxConns)),
		logger:     logger.With("component", "profiling_client"),
		metrics:    m,
	}, nil
}

// Send issues the outbound request, retrying per the retry policy, and
// returns the upstream response with its body left unread. Ownership of the
// body transfers to the caller, which must drain or close it; ctx governs the
// whole exchange including body streaming, so cancelling it releases the
// pooled connection.
func (c *ProfilingClient) Send(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &TransportError{Method: out.Method, Path: pathOnly(out.Path), Attempts: 0, Err: err}
	}
	defer c.sem.Release(1)

	target, err := c.upstreamURL(out.Path)
	if err != nil {
		return nil, &TransportError{Method: out.Method, Path: out.Path, Attempts: 0, Err: err}
	}
	path := target.Path

	for attempt := 1; ; attempt++ {
		resp, err := c.do(ctx, out, target.String())

		if err == nil && !retry.RetryableStatus(resp.StatusCode) {
			return wrapResponse(resp), nil
		}

		delay, again := c.policy.ShouldRetry(out.Method, path, attempt, resp, err)
		if !again {
			if err != nil {
				return nil, &TransportError{Method: out.Method, Path: path, Attempts: attempt, Err: err}
			}
			// Retryable status on the final attempt: the status code is
			// relayed to the caller, not turned into an error.
			return wrapResponse(resp), nil
		}

		if resp != nil {
			drain(resp.Body)
		}

		c.logger.Debug("retrying upstream request",
			"method", out.Method,
			"path", path,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &TransportError{Method: out.Method, Path: path, Attempts: attempt, Err: ctx.Err()}
		}
	}
}

// do runs a single attempt. The request is rebuilt from the immutable
// OutboundRequest so the body can be replayed on retry.
func (c *ProfilingClient) do(ctx context.Context, out *model.OutboundRequest, target string) (*http.Response, error) {
	var body io.Reader
	if out.Body != nil {
		body = bytes.NewReader(out.Body)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(out.Method)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		if err == nil {
			c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
		}
	}

	return resp, err
}

// upstreamURL resolves the outbound path (which may carry an encoded query
// string) against the fixed upstream base URL.
func (c *ProfilingClient) upstreamURL(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse outbound path: %w", err)
	}
	u := *c.baseURL
	u.Path = ref.Path
	u.RawQuery = ref.RawQuery
	return &u, nil
}

func wrapResponse(resp *http.Response) *model.ProxyResponse {
	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}
}

// drain consumes a bounded amount of a discarded response body and closes it
// so the connection can return to the pool before the next attempt.
func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}

func pathOnly(path string) string {
	if ref, err := url.Parse(path); err == nil {
		return ref.Path
	}
	return path
}
