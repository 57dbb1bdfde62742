package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Qwen OAuth endpoints and client registration.
const (
	QwenBaseURL       = "https://chat.qwen.ai"
	QwenDeviceCodeURL = QwenBaseURL + "/api/v1/oauth2/device/code"
	QwenTokenURL      = QwenBaseURL + "/api/v1/oauth2/token"
	QwenClientID      = "f0304373b74a44d2b584a3fb70ca9e56"
	QwenScope         = "openid profile email model.completion"

	deviceGrantType  = "urn:ietf:params:oauth:grant-type:device_code"
	refreshGrantType = "refresh_token"

	defaultPollInterval  = 5 * time.Second
	defaultFlowDeadline  = 600 * time.Second
	defaultTokenLifetime = 3600 * time.Second
)

// DevicePrompt carries what the user needs to complete authorization on a
// second device. Presentation is up to the caller.
type DevicePrompt struct {
	UserCode        string
	VerificationURI string
	ExpiresIn       time.Duration
}

// pollStatus is the tagged outcome of one token-exchange poll. Pending and
// slow-down are expected loop conditions, not errors.
type pollStatus int

const (
	pollPending pollStatus = iota
	pollSlowDown
	pollSuccess
	pollDenied
	pollExpired
)

// DeviceFlow runs the OAuth device-code + PKCE flow against the Qwen
// provider. It implements Authorizer.
type DeviceFlow struct {
	clientID      string
	scope         string
	deviceCodeURL string
	tokenURL      string

	client *http.Client
	logger *slog.Logger

	// prompt surfaces the user code and verification URL. Required for
	// interactive use; a nil prompt only logs.
	prompt func(DevicePrompt)

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// resourceURL is the chat endpoint host the last token response
	// carried, if any. Read by the Qwen chat transport.
	mu          sync.Mutex
	resourceURL string
}

// DeviceFlowOption configures a DeviceFlow.
type DeviceFlowOption func(*DeviceFlow)

// WithDevicePrompt sets the callback that displays the user code.
func WithDevicePrompt(fn func(DevicePrompt)) DeviceFlowOption {
	return func(f *DeviceFlow) { f.prompt = fn }
}

// WithDeviceEndpoints overrides the device-code and token endpoints.
func WithDeviceEndpoints(deviceCodeURL, tokenURL string) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.deviceCodeURL = deviceCodeURL
		f.tokenURL = tokenURL
	}
}

// WithDeviceHTTPClient overrides the HTTP client.
func WithDeviceHTTPClient(c *http.Client) DeviceFlowOption {
	return func(f *DeviceFlow) { f.client = c }
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(logger *slog.Logger) DeviceFlowOption {
	return func(f *DeviceFlow) { f.logger = logger }
}

// NewDeviceFlow creates the Qwen device-code authorizer.
func NewDeviceFlow(opts ...DeviceFlowOption) *DeviceFlow {
	f := &DeviceFlow{
		clientID:      QwenClientID,
		scope:         QwenScope,
		deviceCodeURL: QwenDeviceCodeURL,
		tokenURL:      QwenTokenURL,
		client:        &http.Client{Timeout: 60 * time.Second},
		logger:        slog.Default().With("component", "oauth-device"),
		now:           time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider returns "qwen".
func (f *DeviceFlow) Provider() string { return ProviderQwen }

// ResourceURL returns the chat endpoint override from the most recent
// token response, or "" if the provider never sent one.
func (f *DeviceFlow) ResourceURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resourceURL
}

// deviceCodeResponse is the device-code endpoint payload.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Authorize runs the full device-code flow: request a code, surface it to
// the user, and poll the token endpoint until success, denial, or the
// provider's deadline.
func (f *DeviceFlow) Authorize(ctx context.Context) (*Token, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	dc, err := f.requestDeviceCode(ctx, pkce)
	if err != nil {
		return nil, err
	}

	verificationURI := dc.VerificationURIComplete
	if verificationURI == "" {
		verificationURI = dc.VerificationURI
	}
	if verificationURI == "" {
		verificationURI = QwenBaseURL + "/device"
	}

	expiresIn := defaultFlowDeadline
	if dc.ExpiresIn > 0 {
		expiresIn = time.Duration(dc.ExpiresIn) * time.Second
	}
	interval := defaultPollInterval
	if dc.Interval > 0 {
		interval = time.Duration(dc.Interval) * time.Second
	}

	f.logger.Info("device authorization pending", "user_code", dc.UserCode, "expires_in", expiresIn)
	if f.prompt != nil {
		f.prompt(DevicePrompt{
			UserCode:        dc.UserCode,
			VerificationURI: verificationURI,
			ExpiresIn:       expiresIn,
		})
	}

	deadline := f.now().Add(expiresIn)
	for f.now().Before(deadline) {
		if err := f.sleep(ctx, interval); err != nil {
			return nil, err
		}

		status, token, err := f.pollToken(ctx, dc.DeviceCode, pkce.Verifier)
		if err != nil {
			// Transient network failure: keep polling within the deadline.
			f.logger.Debug("device poll network error, retrying", "error", err)
			continue
		}

		switch status {
		case pollSuccess:
			return token, nil
		case pollPending:
		case pollSlowDown:
			interval += 5 * time.Second
		case pollDenied:
			return nil, &AuthDeniedError{Reason: "access_denied"}
		case pollExpired:
			return nil, &AuthDeniedError{Reason: "expired_token"}
		}
	}

	return nil, &AuthTimeoutError{Deadline: expiresIn}
}

// requestDeviceCode POSTs the device-code request with the PKCE challenge.
func (f *DeviceFlow) requestDeviceCode(ctx context.Context, pkce *PKCEChallenge) (*deviceCodeResponse, error) {
	form := url.Values{
		"client_id":             {f.clientID},
		"scope":                 {f.scope},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.deviceCodeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-request-id", uuid.NewString())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device code request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading device code response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeviceAuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}
	if dc.DeviceCode == "" {
		return nil, &DeviceAuthError{Status: resp.StatusCode, Body: string(body)}
	}
	return &dc, nil
}

// pollToken performs one token-exchange attempt and classifies the result.
// A returned error means the request itself failed (network), which the
// caller treats as retryable.
func (f *DeviceFlow) pollToken(ctx context.Context, deviceCode, verifier string) (pollStatus, *Token, error) {
	form := url.Values{
		"grant_type":    {deviceGrantType},
		"client_id":     {f.clientID},
		"device_code":   {deviceCode},
		"code_verifier": {verifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return pollPending, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return pollPending, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pollPending, nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return pollPending, nil, err
		}
		if tr.AccessToken == "" {
			return pollPending, nil, nil
		}
		return pollSuccess, f.tokenFromResponse(&tr), nil

	case resp.StatusCode == http.StatusBadRequest:
		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return pollPending, nil, nil
		}
		switch tr.Error {
		case "authorization_pending":
			return pollPending, nil, nil
		case "slow_down":
			return pollSlowDown, nil, nil
		case "access_denied":
			return pollDenied, nil, nil
		case "expired_token":
			return pollExpired, nil, nil
		default:
			return pollPending, nil, nil
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		// Rate limited: same backoff as slow_down.
		return pollSlowDown, nil, nil

	default:
		f.logger.Debug("unexpected poll status", "status", resp.StatusCode)
		return pollPending, nil, nil
	}
}

// Refresh exchanges the refresh token for a new token.
func (f *DeviceFlow) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"grant_type":    {refreshGrantType},
		"refresh_token": {refreshToken},
		"client_id":     {f.clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RefreshError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing refresh response: %w", err)
	}
	return f.tokenFromResponse(&tr), nil
}

// tokenFromResponse builds a Token and records any resource_url override.
func (f *DeviceFlow) tokenFromResponse(tr *tokenResponse) *Token {
	if tr.ResourceURL != "" {
		f.mu.Lock()
		f.resourceURL = tr.ResourceURL
		f.mu.Unlock()
		f.logger.Debug("provider supplied resource_url", "resource_url", tr.ResourceURL)
	}
	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	return &Token{
		Provider:     ProviderQwen,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    f.now().Add(lifetime),
	}
}
