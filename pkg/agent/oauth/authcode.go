package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Google OAuth endpoints and scopes for the Gemini provider.
const (
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// GoogleScopes are the scopes the Gemini transport needs.
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/generative-language.retriever",
	"https://www.googleapis.com/auth/cloud-platform",
}

// clientSecretFile mirrors the Google Cloud Console download format. Both
// "installed" (desktop app) and "web" shapes are accepted.
type clientSecretFile struct {
	Installed *clientSecretInfo `json:"installed"`
	Web       *clientSecretInfo `json:"web"`
}

type clientSecretInfo struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURI     string `json:"token_uri"`
}

// AuthCodeFlow runs the Google installed-app authorization-code flow: it
// opens a browser, listens on a local ephemeral port for the redirect, and
// exchanges the authorization code for tokens. It implements Authorizer.
type AuthCodeFlow struct {
	clientSecretPath string
	authURL          string
	tokenURL         string
	scopes           []string

	client *http.Client
	logger *slog.Logger

	// openBrowser launches the user's browser; replaced in tests.
	openBrowser func(url string) error

	now func() time.Time
}

// AuthCodeOption configures an AuthCodeFlow.
type AuthCodeOption func(*AuthCodeFlow)

// WithAuthCodeEndpoints overrides the authorize and token endpoints.
func WithAuthCodeEndpoints(authURL, tokenURL string) AuthCodeOption {
	return func(f *AuthCodeFlow) {
		f.authURL = authURL
		f.tokenURL = tokenURL
	}
}

// WithAuthCodeLogger sets the logger.
func WithAuthCodeLogger(logger *slog.Logger) AuthCodeOption {
	return func(f *AuthCodeFlow) { f.logger = logger }
}

// WithAuthCodeBrowser overrides how the authorization URL is opened.
func WithAuthCodeBrowser(open func(url string) error) AuthCodeOption {
	return func(f *AuthCodeFlow) { f.openBrowser = open }
}

// WithAuthCodeHTTPClient overrides the HTTP client.
func WithAuthCodeHTTPClient(c *http.Client) AuthCodeOption {
	return func(f *AuthCodeFlow) { f.client = c }
}

// NewAuthCodeFlow creates the Google authorizer. clientSecretPath points
// at the OAuth client JSON downloaded from the Google Cloud Console.
func NewAuthCodeFlow(clientSecretPath string, opts ...AuthCodeOption) *AuthCodeFlow {
	f := &AuthCodeFlow{
		clientSecretPath: clientSecretPath,
		authURL:          GoogleAuthURL,
		tokenURL:         GoogleTokenURL,
		scopes:           GoogleScopes,
		client:           &http.Client{Timeout: 30 * time.Second},
		logger:           slog.Default().With("component", "oauth-authcode"),
		openBrowser:      openInBrowser,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider returns "google".
func (f *AuthCodeFlow) Provider() string { return ProviderGoogle }

// loadClientSecret reads and validates the client credentials file.
func (f *AuthCodeFlow) loadClientSecret() (*clientSecretInfo, error) {
	data, err := os.ReadFile(f.clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("client secret file not found at %s: %w", f.clientSecretPath, err)
	}
	var cs clientSecretFile
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.clientSecretPath, err)
	}
	info := cs.Installed
	if info == nil {
		info = cs.Web
	}
	if info == nil || info.ClientID == "" {
		return nil, fmt.Errorf("%s has no installed/web client credentials", f.clientSecretPath)
	}
	return info, nil
}

// Authorize runs the browser + local-redirect flow and exchanges the
// authorization code for tokens.
func (f *AuthCodeFlow) Authorize(ctx context.Context) (*Token, error) {
	info, err := f.loadClientSecret()
	if err != nil {
		return nil, err
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	// Ephemeral port so repeated runs never collide.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting redirect listener: %w", err)
	}
	defer listener.Close()

	redirectURI := fmt.Sprintf("http://%s/oauth/callback", listener.Addr().String())

	type callback struct {
		code string
		err  string
	}
	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if errParam := q.Get("error"); errParam != "" {
			fmt.Fprint(w, "Authorization failed. You can close this window.")
			select {
			case results <- callback{err: errParam}:
			default:
			}
			return
		}
		fmt.Fprint(w, "Authorization complete. You can close this window.")
		select {
		case results <- callback{code: q.Get("code")}:
		default:
		}
	})

	server := &http.Server{Handler: mux}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	params := url.Values{
		"client_id":             {info.ClientID},
		"response_type":         {"code"},
		"redirect_uri":          {redirectURI},
		"scope":                 {strings.Join(f.scopes, " ")},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
	}
	authorizeURL := f.authURL + "?" + params.Encode()

	f.logger.Info("opening browser for authorization", "redirect_uri", redirectURI)
	if err := f.openBrowser(authorizeURL); err != nil {
		f.logger.Warn("could not open browser, visit the URL manually", "url", authorizeURL)
	}

	var cb callback
	select {
	case cb = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if cb.err != "" {
		return nil, &AuthDeniedError{Reason: cb.err}
	}
	if cb.code == "" {
		return nil, &AuthDeniedError{Reason: "empty authorization code"}
	}

	return f.exchangeCode(ctx, info, cb.code, pkce.Verifier, redirectURI)
}

// exchangeCode trades the authorization code for tokens.
func (f *AuthCodeFlow) exchangeCode(ctx context.Context, info *clientSecretInfo, code, verifier, redirectURI string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {info.ClientID},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
	}
	if info.ClientSecret != "" {
		form.Set("client_secret", info.ClientSecret)
	}

	tr, err := f.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &AuthDeniedError{Reason: "token response missing access_token"}
	}
	return f.tokenFromResponse(tr), nil
}

// Refresh exchanges the refresh token for a new access token.
func (f *AuthCodeFlow) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	info, err := f.loadClientSecret()
	if err != nil {
		// Without client credentials a refresh cannot even be attempted.
		return nil, &RefreshError{Status: 0, Body: err.Error()}
	}

	form := url.Values{
		"grant_type":    {refreshGrantType},
		"refresh_token": {refreshToken},
		"client_id":     {info.ClientID},
	}
	if info.ClientSecret != "" {
		form.Set("client_secret", info.ClientSecret)
	}

	tr, err := f.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	token := f.tokenFromResponse(tr)
	if token.RefreshToken == "" {
		// Google omits refresh_token on refresh responses; keep the old one.
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// postToken POSTs a form to the token endpoint and decodes the response.
// Non-200 responses come back as *RefreshError for the Manager to classify.
func (f *AuthCodeFlow) postToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RefreshError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	return &tr, nil
}

func (f *AuthCodeFlow) tokenFromResponse(tr *tokenResponse) *Token {
	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	return &Token{
		Provider:     ProviderGoogle,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    f.now().Add(lifetime),
	}
}

// randomState produces an unguessable CSRF state parameter.
func randomState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// openInBrowser launches the default browser for the current platform.
func openInBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
