// Package auth acquires and caches short-lived credentials for tool calls.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/sage/pkg/httpclient"
)

// Credential is a short-lived token scoped to an authorization principal.
type Credential struct {
	Token     string
	Principal string
	ExpiresAt time.Time
}

// Valid reports whether the credential is usable at the given skew before
// expiry. A zero ExpiresAt means the issuer provided no expiry; the
// credential is then treated as valid.
func (c *Credential) Valid(skew time.Duration) bool {
	if c == nil || c.Token == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(skew).Before(c.ExpiresAt)
}

// TokenSource yields credentials scoped to a principal.
type TokenSource interface {
	Token(ctx context.Context, principal string) (*Credential, error)
}

// HTTPTokenSource fetches credentials from an issuer's token endpoint and
// caches them per principal until near expiry.
type HTTPTokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	refreshSkew  time.Duration
	client       *httpclient.Client

	mu     sync.RWMutex
	cache  map[string]*Credential
	flight singleflight.Group
}

// NewHTTPTokenSource creates a token source backed by an HTTP issuer.
func NewHTTPTokenSource(tokenURL, clientID, clientSecret string, refreshSkew time.Duration) *HTTPTokenSource {
	if refreshSkew <= 0 {
		refreshSkew = 30 * time.Second
	}
	return &HTTPTokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshSkew:  refreshSkew,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
		cache: make(map[string]*Credential),
	}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

// Token returns a cached credential for the principal, fetching a fresh one
// when the cached copy is absent or within the refresh skew of expiry.
// Fetches are deduplicated per principal; a slow issuer call never blocks
// cache hits or fetches for other principals.
func (s *HTTPTokenSource) Token(ctx context.Context, principal string) (*Credential, error) {
	if cred := s.cached(principal); cred != nil {
		return cred, nil
	}

	v, err, _ := s.flight.Do(principal, func() (any, error) {
		if cred := s.cached(principal); cred != nil {
			return cred, nil
		}

		cred, err := s.fetch(ctx, principal)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[principal] = cred
		s.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

func (s *HTTPTokenSource) cached(principal string) *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cred, ok := s.cache[principal]; ok && cred.Valid(s.refreshSkew) {
		return cred
	}
	return nil
}

func (s *HTTPTokenSource) fetch(ctx context.Context, principal string) (*Credential, error) {
	body, err := json.Marshal(tokenRequest{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Audience:     principal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned an empty token")
	}

	return &Credential{
		Token:     tr.AccessToken,
		Principal: principal,
		ExpiresAt: tokenExpiry(tr),
	}, nil
}

// tokenExpiry determines expiry from expires_in, falling back to the JWT
// exp claim when the token parses as a JWT. Signature verification is the
// endpoint's job, not ours, so the claim is read without validation.
func tokenExpiry(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	token, err := jwt.ParseInsecure([]byte(tr.AccessToken))
	if err != nil {
		return time.Time{}
	}
	return token.Expiration()
}

// StaticTokenSource returns a fixed credential for every principal.
// Intended for tests and local development.
type StaticTokenSource struct {
	TokenValue string
}

func (s *StaticTokenSource) Token(ctx context.Context, principal string) (*Credential, error) {
	if s.TokenValue == "" {
		return nil, fmt.Errorf("static token source has no token configured")
	}
	return &Credential{Token: s.TokenValue, Principal: principal}, nil
}
