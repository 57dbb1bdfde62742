// Package generator turns an incoming message plus recent conversation
// context into style-matched draft replies.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/provider"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
)

// contextWindow is how many recent messages are sent as conversation
// context.
const contextWindow = 15

// defaultTemperature is used for single-draft generation.
const defaultTemperature = 0.8

// maxTokens caps generated reply length.
const maxTokens = 1024

// Generator produces draft replies through a chat provider.
type Generator struct {
	provider    provider.ChatProvider
	stylePrompt string
	logger      *slog.Logger
}

// New creates a Generator. stylePrompt is the rendered style profile
// fragment from the style package.
func New(p provider.ChatProvider, stylePrompt string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider:    p,
		stylePrompt: stylePrompt,
		logger:      logger.With("component", "generator"),
	}
}

// Generate produces one draft reply to incoming from contactName.
func (g *Generator) Generate(ctx context.Context, contextMsgs []*store.Message, incoming, contactName string) (string, error) {
	messages := g.buildConversation(contextMsgs, incoming, contactName, true)
	resp, err := g.provider.Chat(ctx, messages, defaultTemperature, maxTokens)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return stripWrappingQuotes(resp), nil
}

// GenerateMultiple produces count alternative drafts at increasing
// temperatures, so later alternatives get progressively looser.
func (g *Generator) GenerateMultiple(ctx context.Context, contextMsgs []*store.Message, incoming, contactName string, count int) ([]string, error) {
	options := make([]string, 0, count)
	for i := 0; i < count; i++ {
		temp := 0.7 + float64(i)*0.15
		messages := g.buildConversation(contextMsgs, incoming, contactName, false)
		resp, err := g.provider.Chat(ctx, messages, temp, maxTokens)
		if err != nil {
			return nil, fmt.Errorf("generating alternative %d: %w", i+1, err)
		}
		options = append(options, stripWrappingQuotes(resp))
	}
	return options, nil
}

// buildConversation assembles the system prompt and the conversation
// turns. Outgoing history maps to the assistant role.
func (g *Generator) buildConversation(contextMsgs []*store.Message, incoming, contactName string, withContextNote bool) []provider.Message {
	system := g.stylePrompt + fmt.Sprintf(`

You are responding to a message from %s. Generate a natural response that perfectly matches the communication style described above.
`, contactName)
	if withContextNote {
		system += `
The conversation context is provided. Generate ONLY the response message - no explanations, no meta-commentary, just the message as the person would send it.`
	} else {
		system += `
Generate ONLY the response message - no explanations, no meta-commentary.`
	}

	messages := []provider.Message{{Role: provider.RoleSystem, Content: system}}

	window := contextMsgs
	if len(window) > contextWindow {
		window = window[len(window)-contextWindow:]
	}
	for _, m := range window {
		role := provider.RoleUser
		if m.IsOutgoing {
			role = provider.RoleAssistant
		}
		messages = append(messages, provider.Message{Role: role, Content: m.Text})
	}

	return append(messages, provider.Message{Role: provider.RoleUser, Content: incoming})
}

// stripWrappingQuotes removes a single layer of quotes some models wrap
// replies in.
func stripWrappingQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[1 : len(s)-1]
		}
	}
	return s
}
