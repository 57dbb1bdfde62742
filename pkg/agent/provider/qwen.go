package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/oauth"
)

// DefaultQwenModel is the model the OAuth grant allows.
const DefaultQwenModel = "coder-model"

// defaultQwenAPIURL is used when the token response carried no
// resource_url override.
const defaultQwenAPIURL = oauth.QwenBaseURL + "/api/v1/chat/completions"

// Qwen is the chat transport for the device-flow provider. The endpoint
// is dynamic: a resource_url from the token response replaces the
// default host.
type Qwen struct {
	model   string
	manager *oauth.Manager
	flow    *oauth.DeviceFlow
	client  *http.Client
	logger  *slog.Logger

	// apiURL overrides endpoint resolution entirely (tests).
	apiURL string
}

// QwenOption configures the Qwen transport.
type QwenOption func(*Qwen)

// WithQwenModel sets the model name.
func WithQwenModel(model string) QwenOption {
	return func(q *Qwen) { q.model = model }
}

// WithQwenHTTPClient overrides the HTTP client.
func WithQwenHTTPClient(c *http.Client) QwenOption {
	return func(q *Qwen) { q.client = c }
}

// WithQwenLogger sets the logger.
func WithQwenLogger(logger *slog.Logger) QwenOption {
	return func(q *Qwen) { q.logger = logger }
}

// WithQwenAPIURL pins the completions endpoint, bypassing resource_url
// resolution.
func WithQwenAPIURL(url string) QwenOption {
	return func(q *Qwen) { q.apiURL = url }
}

// NewQwen creates the Qwen chat transport. The device flow is consulted
// for resource_url overrides; the manager supplies access tokens.
func NewQwen(manager *oauth.Manager, flow *oauth.DeviceFlow, opts ...QwenOption) *Qwen {
	q := &Qwen{
		model:   DefaultQwenModel,
		manager: manager,
		flow:    flow,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default().With("component", "qwen"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns "qwen".
func (q *Qwen) Name() string { return oauth.ProviderQwen }

// EnsureValidToken authorizes or refreshes as needed.
func (q *Qwen) EnsureValidToken(ctx context.Context) error {
	_, err := q.manager.EnsureValid(ctx)
	return err
}

// endpoint resolves the completions URL for this call.
func (q *Qwen) endpoint() string {
	if q.apiURL != "" {
		return q.apiURL
	}
	base := defaultQwenAPIURL
	if q.flow != nil {
		if ru := q.flow.ResourceURL(); ru != "" {
			base = ru
		}
	}
	return NormalizeCompletionsURL(base)
}

// NormalizeCompletionsURL coerces a host or base URL into a completions
// endpoint: scheme added if missing, trailing slash stripped, and the
// /v1/chat/completions suffix appended exactly once. Normalizing an
// already-normalized URL returns it unchanged.
func NormalizeCompletionsURL(base string) string {
	if !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.Contains(base, "/chat/completions") {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		base += "/chat/completions"
	}
	return base
}

type qwenChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type qwenChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends the conversation to the completions endpoint. On a 401 it
// forces one token refresh and retries; a second 401 is terminal.
func (q *Qwen) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	accessToken, err := q.manager.EnsureValid(ctx)
	if err != nil {
		return "", err
	}

	text, status, err := q.chatOnce(ctx, accessToken, messages, temperature, maxTokens)
	if status == http.StatusUnauthorized {
		q.logger.Warn("401 from completions endpoint, forcing token refresh")
		accessToken, err = q.manager.ForceRefresh(ctx)
		if err != nil {
			return "", err
		}
		text, status, err = q.chatOnce(ctx, accessToken, messages, temperature, maxTokens)
		if status == http.StatusUnauthorized {
			return "", &AuthError{Provider: q.Name()}
		}
	}
	return text, err
}

// chatOnce performs a single completions request.
func (q *Qwen) chatOnce(ctx context.Context, accessToken string, messages []Message, temperature float64, maxTokens int) (string, int, error) {
	body, err := json.Marshal(qwenChatRequest{
		Model:       q.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-AuthType", "qwen-oauth")
	req.Header.Set("X-DashScope-WorkSpace", "default")

	resp, err := q.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("reading chat response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed qwenChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("parsing chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", resp.StatusCode, fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, resp.StatusCode, nil
}
