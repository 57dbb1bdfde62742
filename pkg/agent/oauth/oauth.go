// Package oauth implements the credential lifecycle for the two AI
// providers the agent talks to: the Qwen device-code flow (PKCE) and the
// Google installed-app authorization-code flow. Tokens are persisted
// through a Store and kept fresh by a Manager that refreshes or
// re-authorizes as needed.
package oauth

import (
	"context"
	"fmt"
	"time"
)

// Provider identifiers. Exactly one token record exists per provider.
const (
	ProviderQwen   = "qwen"
	ProviderGoogle = "google"
)

// Token is the persisted OAuth token record for one provider.
type Token struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the token is within margin of its expiry.
func (t *Token) Expired(margin time.Duration) bool {
	return !t.ExpiresAt.Add(-margin).After(time.Now())
}

// Store persists token records. The SQLite repository and the encrypted
// file vault both implement it. Only the Manager writes token state.
type Store interface {
	GetToken(ctx context.Context, provider string) (*Token, error)
	SaveToken(ctx context.Context, token *Token) error
	DeleteToken(ctx context.Context, provider string) error
}

// Authorizer runs a provider's interactive authorization flow from
// scratch and returns a fresh token. DeviceFlow and AuthCodeFlow
// implement it.
type Authorizer interface {
	// Authorize runs the full interactive flow. It blocks until the user
	// completes or rejects authorization, or ctx is done.
	Authorize(ctx context.Context) (*Token, error)

	// Refresh exchanges a refresh token for a new token. A *RefreshError
	// means the refresh token was rejected and must not be retried.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// Provider returns the provider identifier.
	Provider() string
}

// tokenResponse is the provider token endpoint payload. Field names are
// wire-exact for both providers.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ResourceURL  string `json:"resource_url"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// DeviceAuthError indicates the device-code request itself was rejected.
type DeviceAuthError struct {
	Status int
	Body   string
}

func (e *DeviceAuthError) Error() string {
	return fmt.Sprintf("device authorization failed: %d - %s", e.Status, e.Body)
}

// AuthTimeoutError indicates the device polling deadline was exceeded
// without the user completing authorization.
type AuthTimeoutError struct {
	Deadline time.Duration
}

func (e *AuthTimeoutError) Error() string {
	return fmt.Sprintf("authorization timed out after %s", e.Deadline)
}

// AuthDeniedError is a terminal denial or expiry from the provider
// (error=access_denied or error=expired_token).
type AuthDeniedError struct {
	Reason string
}

func (e *AuthDeniedError) Error() string {
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

// RefreshError indicates a refresh token was rejected. The Manager
// recovers from it locally by discarding the record and re-authorizing;
// callers of Manager.EnsureValid never observe it.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh rejected: %d - %s", e.Status, e.Body)
}
