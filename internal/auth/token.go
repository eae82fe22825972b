// Package auth mints short-lived bearer tokens for outbound calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"profiling-proxy-go/internal/config"
)

// AuthError reports a failure to mint an identity token. It is an
// infrastructure fault, surfaced to callers as a 5xx.
type AuthError struct {
	Audience string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mint token for audience %s: %v", e.Audience, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TokenProvider mints a bearer token valid for the given audience URL. Tokens
// are short-lived; callers request a fresh one per outbound call rather than
// caching.
type TokenProvider interface {
	Mint(ctx context.Context, audience string) (string, error)
}

// OAuth2Provider implements TokenProvider with the OAuth2 client-credentials
// grant, passing the audience as a token-endpoint parameter.
type OAuth2Provider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	logger       *slog.Logger
}

// NewOAuth2Provider creates an OAuth2Provider from the auth config section.
func NewOAuth2Provider(cfg *config.Config, logger *slog.Logger) *OAuth2Provider {
	return &OAuth2Provider{
		tokenURL:     cfg.Auth.TokenURL,
		clientID:     cfg.Auth.ClientID,
		clientSecret: cfg.Auth.ClientSecret,
		scopes:       cfg.Auth.Scopes,
		logger:       logger.With("component", "token_provider"),
	}
}

// Mint fetches a fresh access token scoped to audience.
func (p *OAuth2Provider) Mint(ctx context.Context, audience string) (string, error) {
	cc := &clientcredentials.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		TokenURL:     p.tokenURL,
		Scopes:       p.scopes,
		EndpointParams: url.Values{
			"audience": {audience},
		},
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return "", &AuthError{Audience: audience, Err: err}
	}
	if strings.TrimSpace(tok.AccessToken) == "" || !tok.Valid() {
		return "", &AuthError{Audience: audience, Err: errors.New("received invalid token")}
	}

	p.logger.Debug("minted upstream token", "audience", audience)
	return tok.AccessToken, nil
}
