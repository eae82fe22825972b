// Package service implements the proxy client for the profiling service.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"profiling-proxy-go/internal/auth"
	"profiling-proxy-go/internal/client"
	"profiling-proxy-go/internal/config"
	"profiling-proxy-go/internal/model"
)

// ProxyService builds outbound requests and forwards them to the upstream
// profiling service. It attaches a freshly minted bearer token when the
// deployment requires authenticated upstream calls.
type ProxyService struct {
	client   *client.ProfilingClient
	tokens   auth.TokenProvider
	logger   *slog.Logger
	audience string
	authed   bool
}

// NewProxyService creates a ProxyService. tokens may be nil when
// cfg.Auth.Required is false.
func NewProxyService(c *client.ProfilingClient, tokens auth.TokenProvider, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	if cfg.Auth.Required && tokens == nil {
		return nil, fmt.Errorf("auth.required is set but no token provider is configured")
	}

	return &ProxyService{
		client:   c,
		tokens:   tokens,
		logger:   logger.With("component", "proxy_service"),
		audience: cfg.Upstream.BaseURL,
		authed:   cfg.Auth.Required,
	}, nil
}

// Forward sends a request to the upstream profiling service and returns the
// response with its body unread. The caller owns the body and must drain or
// close it. TransportError and AuthError propagate unchanged; the caller
// decides how to surface them.
func (s *ProxyService) Forward(ctx context.Context, method, path string, params url.Values, header http.Header, body []byte) (*model.ProxyResponse, error) {
	out := model.NewOutboundRequest(method, path, params, header, body)
	if body != nil && out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", "application/json")
	}

	if s.authed {
		token, err := s.tokens.Mint(ctx, s.audience)
		if err != nil {
			return nil, err
		}
		out.Header.Set("Authorization", "Bearer "+token)
	}

	s.logger.Debug("forwarding request",
		"method", method,
		"path", path,
	)

	return s.client.Send(ctx, out)
}
