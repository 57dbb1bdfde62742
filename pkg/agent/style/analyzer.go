package style

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/provider"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
)

// Qualitative is the AI-derived half of a style profile.
type Qualitative struct {
	Formality        string   `json:"formality"`
	Tone             []string `json:"tone"`
	LanguageFeatures []string `json:"language_features"`
	GreetingStyle    string   `json:"greeting_style"`
	ClosingStyle     string   `json:"closing_style"`
	HumorLevel       string   `json:"humor_level"`
	Directness       string   `json:"directness"`
}

// Profile is a full style profile as persisted in the store.
type Profile struct {
	Metrics        Metrics     `json:"metrics"`
	Qualitative    Qualitative `json:"qualitative"`
	SampleMessages []string    `json:"sample_messages"`
}

// ProfileStore is the persistence surface the analyzer needs.
type ProfileStore interface {
	GetStyleProfile(ctx context.Context, contactID int64) (*store.StyleProfile, error)
	SaveStyleProfile(ctx context.Context, p *store.StyleProfile) error
}

// Analyzer computes and caches style profiles.
type Analyzer struct {
	repo     ProfileStore
	provider provider.ChatProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalyzer creates an Analyzer using the given chat provider for the
// qualitative pass.
func NewAnalyzer(repo ProfileStore, p provider.ChatProvider, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		repo:     repo,
		provider: p,
		logger:   logger.With("component", "style"),
		now:      time.Now,
	}
}

// minSampleWarning is the outgoing message count below which the
// profile is likely unreliable.
const minSampleWarning = 10

// Analyze builds the style profile for a contact from their full
// message history. A cached profile is reused when it was computed
// from at least 90% as many messages as are available now, unless
// forceRefresh is set.
func (a *Analyzer) Analyze(ctx context.Context, contactID int64, messages []*store.Message, forceRefresh bool) (*Profile, error) {
	if !forceRefresh {
		cached, err := a.repo.GetStyleProfile(ctx, contactID)
		if err != nil {
			return nil, err
		}
		if cached != nil && float64(cached.MessageCount) >= float64(len(messages))*0.9 {
			var p Profile
			if err := json.Unmarshal(cached.StyleJSON, &p); err == nil {
				a.logger.Debug("using cached style profile", "contact", contactID)
				return &p, nil
			}
			a.logger.Warn("cached style profile unreadable, recomputing", "contact", contactID)
		}
	}

	var mine []*store.Message
	for _, m := range messages {
		if m.IsOutgoing {
			mine = append(mine, m)
		}
	}
	if len(mine) < minSampleWarning {
		a.logger.Warn("few messages for style analysis", "contact", contactID, "count", len(mine))
	}

	profile := &Profile{
		Metrics:     CalculateMetrics(mine),
		Qualitative: a.aiAnalyze(ctx, mine),
	}
	for _, m := range lastN(mine, 20) {
		profile.SampleMessages = append(profile.SampleMessages, m.Text)
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encoding style profile: %w", err)
	}
	err = a.repo.SaveStyleProfile(ctx, &store.StyleProfile{
		ContactID:    contactID,
		StyleJSON:    raw,
		AnalyzedAt:   a.now(),
		MessageCount: len(mine),
	})
	if err != nil {
		return nil, fmt.Errorf("caching style profile: %w", err)
	}
	return profile, nil
}

const analyzeSystemPrompt = `You are a communication style analyst. Analyze the following messages and extract the user's writing style characteristics.

Return a JSON object with these fields:
- formality: "formal", "informal", or "mixed"
- tone: list of 2-3 tone descriptors (e.g., "friendly", "sarcastic", "professional")
- language_features: list of notable features (e.g., "uses slang", "short sentences", "detailed explanations")
- greeting_style: how they typically greet (or "none" if they don't)
- closing_style: how they typically end messages (or "none")
- humor_level: "none", "occasional", or "frequent"
- directness: "direct", "indirect", or "mixed"

Return ONLY valid JSON, no other text.`

// aiAnalyze runs the qualitative pass over the newest 100 messages.
// Any failure degrades to neutral defaults rather than failing the
// whole analysis.
func (a *Analyzer) aiAnalyze(ctx context.Context, messages []*store.Message) Qualitative {
	var sb strings.Builder
	sb.WriteString("Analyze these messages from a user:\n\n")
	for _, m := range lastN(messages, 100) {
		sb.WriteString("- ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nReturn the style analysis as JSON.")

	resp, err := a.provider.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: analyzeSystemPrompt},
		{Role: provider.RoleUser, Content: sb.String()},
	}, 0.3, 1024)
	if err != nil {
		a.logger.Warn("qualitative analysis failed, using defaults", "error", err)
		return defaultQualitative()
	}

	var q Qualitative
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &q); err != nil {
		a.logger.Warn("qualitative analysis returned invalid JSON, using defaults", "error", err)
		return defaultQualitative()
	}
	return q
}

func defaultQualitative() Qualitative {
	return Qualitative{
		Formality:        "mixed",
		Tone:             []string{"neutral"},
		LanguageFeatures: []string{},
		GreetingStyle:    "none",
		ClosingStyle:     "none",
		HumorLevel:       "occasional",
		Directness:       "direct",
	}
}

// stripCodeFence removes a wrapping markdown code fence, if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func lastN(messages []*store.Message, n int) []*store.Message {
	if len(messages) > n {
		return messages[len(messages)-n:]
	}
	return messages
}
