// Package auth verifies bearer tokens against the external identity service.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnauthorized marks a missing, invalid, or expired token.
var ErrUnauthorized = eris.New("auth: unauthorized")

// Verifier resolves a bearer token to the user it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// Option configures the client.
type Option func(*httpVerifier)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(v *httpVerifier) {
		v.http = hc
	}
}

type httpVerifier struct {
	baseURL string
	http    *http.Client
}

// NewVerifier creates a Verifier that introspects tokens via GET
// <baseURL>/auth/v1/user with the token as a bearer header.
func NewVerifier(baseURL string, opts ...Option) Verifier {
	v := &httpVerifier{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

type userResponse struct {
	ID string `json:"id"`
}

func (v *httpVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", eris.Wrap(err, "auth: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "auth: verify token")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "auth: read response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	default:
		return "", eris.Errorf("auth: identity service returned status %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return "", eris.Wrap(err, "auth: unmarshal user")
	}
	if user.ID == "" {
		return "", ErrUnauthorized
	}
	return user.ID, nil
}
