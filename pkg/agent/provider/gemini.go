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

// DefaultGeminiModel is the default model for the auth-code provider.
const DefaultGeminiModel = "gemini-pro"

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// historyStartTurn satisfies the provider's requirement that the first
// conversation turn is user-authored.
const historyStartTurn = "[History Start]"

// Gemini is the chat transport for the auth-code provider.
type Gemini struct {
	model   string
	baseURL string
	manager *oauth.Manager
	client  *http.Client
	logger  *slog.Logger
}

// GeminiOption configures the Gemini transport.
type GeminiOption func(*Gemini)

// WithGeminiModel sets the model name.
func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// WithGeminiBaseURL overrides the API base URL (tests).
func WithGeminiBaseURL(url string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimSuffix(url, "/") }
}

// WithGeminiHTTPClient overrides the HTTP client.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.client = c }
}

// WithGeminiLogger sets the logger.
func WithGeminiLogger(logger *slog.Logger) GeminiOption {
	return func(g *Gemini) { g.logger = logger }
}

// NewGemini creates the Gemini chat transport.
func NewGemini(manager *oauth.Manager, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		model:   DefaultGeminiModel,
		baseURL: defaultGeminiBaseURL,
		manager: manager,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default().With("component", "gemini"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "google".
func (g *Gemini) Name() string { return oauth.ProviderGoogle }

// EnsureValidToken authorizes or refreshes as needed.
func (g *Gemini) EnsureValidToken(ctx context.Context) error {
	_, err := g.manager.EnsureValid(ctx)
	return err
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"system_instruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  geminiGenConfig  `json:"generationConfig"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// buildGeminiRequest splits out the system instruction, maps assistant
// turns to the "model" role, and prepends a synthetic user turn when the
// trimmed history would otherwise open with a model turn.
func buildGeminiRequest(messages []Message, temperature float64, maxTokens int) *geminiRequest {
	req := &geminiRequest{
		GenerationConfig: geminiGenConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	}

	for _, m := range messages {
		if m.Role == RoleSystem {
			req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	if len(req.Contents) > 0 && req.Contents[0].Role == "model" {
		req.Contents = append([]geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: historyStartTurn}},
		}}, req.Contents...)
	}

	return req
}

// Chat sends the conversation to generateContent. On a 401 it forces one
// token refresh and retries; a second 401 is terminal.
func (g *Gemini) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	accessToken, err := g.manager.EnsureValid(ctx)
	if err != nil {
		return "", err
	}

	text, status, err := g.chatOnce(ctx, accessToken, messages, temperature, maxTokens)
	if status == http.StatusUnauthorized {
		g.logger.Warn("401 from generateContent, forcing token refresh")
		accessToken, err = g.manager.ForceRefresh(ctx)
		if err != nil {
			return "", err
		}
		text, status, err = g.chatOnce(ctx, accessToken, messages, temperature, maxTokens)
		if status == http.StatusUnauthorized {
			return "", &AuthError{Provider: g.Name()}
		}
	}
	return text, err
}

func (g *Gemini) chatOnce(ctx context.Context, accessToken string, messages []Message, temperature float64, maxTokens int) (string, int, error) {
	body, err := json.Marshal(buildGeminiRequest(messages, temperature, maxTokens))
	if err != nil {
		return "", 0, fmt.Errorf("encoding generateContent request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("creating generateContent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("generateContent request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("reading generateContent response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("parsing generateContent response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", resp.StatusCode, fmt.Errorf("generateContent response has no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), resp.StatusCode, nil
}
