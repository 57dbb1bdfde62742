// Package provider implements the chat transports for the two AI
// providers. Both speak through a valid OAuth access token obtained from
// the token lifecycle manager and retry exactly once on HTTP 401.
package provider

import (
	"context"
	"fmt"
)

// Message roles shared by both providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatProvider is the polymorphic surface the relay engine and response
// generator depend on. Qwen (device flow) and Gemini (auth-code flow)
// implement it.
type ChatProvider interface {
	// Name returns the provider identifier ("qwen" or "google").
	Name() string

	// EnsureValidToken makes sure a usable access token exists,
	// authorizing interactively if needed.
	EnsureValidToken(ctx context.Context) error

	// Chat sends the conversation and returns the assistant reply text.
	Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// APIError is a non-success provider response, surfaced after the single
// 401-retry budget is exhausted. It is never retried here.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

// AuthError means the provider rejected the access token twice in a row;
// the second 401 is terminal for the request.
type AuthError struct {
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: request unauthorized after token refresh", e.Provider)
}
