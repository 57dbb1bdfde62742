package style

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/provider"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
)

func outgoing(texts ...string) []*store.Message {
	msgs := make([]*store.Message, len(texts))
	for i, t := range texts {
		msgs[i] = &store.Message{
			TelegramMsgID: int64(i + 1),
			ContactID:     42,
			Text:          t,
			IsOutgoing:    true,
			Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestCalculateMetricsEmpty(t *testing.T) {
	m := CalculateMetrics(nil)
	if m.MessagesAnalyzed != 0 || m.AvgMessageLength != 0 {
		t.Errorf("empty metrics = %+v", m)
	}
	if m.TopEmojis == nil || m.CommonPhrases == nil {
		t.Error("empty metrics should have empty, non-nil slices")
	}
}

func TestCalculateMetricsBasics(t *testing.T) {
	m := CalculateMetrics(outgoing(
		"Hey there!",
		"ok",
		"What time? 🔥🔥",
	))

	if m.MessagesAnalyzed != 3 {
		t.Errorf("MessagesAnalyzed = %d", m.MessagesAnalyzed)
	}
	// Word counts: 2, 1, 3.
	if want := 2.0; m.AvgWordsPerMsg != want {
		t.Errorf("AvgWordsPerMsg = %v, want %v", m.AvgWordsPerMsg, want)
	}
	// Two of three start uppercase.
	if want := 2.0 / 3.0; m.CapitalizedRatio != want {
		t.Errorf("CapitalizedRatio = %v, want %v", m.CapitalizedRatio, want)
	}
	// One emoji run across three messages.
	if want := 1.0 / 3.0; m.EmojiFrequency != want {
		t.Errorf("EmojiFrequency = %v, want %v", m.EmojiFrequency, want)
	}
	if len(m.TopEmojis) != 1 || m.TopEmojis[0] != "🔥🔥" {
		t.Errorf("TopEmojis = %v", m.TopEmojis)
	}
	// Punctuation: one "!", one "?": ratio 0.5 each.
	if m.PunctuationStyle["!"] != 0.5 || m.PunctuationStyle["?"] != 0.5 {
		t.Errorf("PunctuationStyle = %v", m.PunctuationStyle)
	}
}

func TestCalculateMetricsCommonPhrases(t *testing.T) {
	m := CalculateMetrics(outgoing(
		"sounds good to me",
		"sounds good to me",
		"sounds good to me",
		"no way",
	))
	// "sounds good" appears 3 times and must be present; "no way"
	// appears once and must not.
	found := false
	for _, p := range m.CommonPhrases {
		if p == "sounds good" {
			found = true
		}
		if p == "no way" {
			t.Errorf("phrase below threshold included: %q", p)
		}
	}
	if !found {
		t.Errorf("CommonPhrases = %v, want to include \"sounds good\"", m.CommonPhrases)
	}
}

// scriptedProvider returns a fixed response or error.
type scriptedProvider struct {
	response string
	err      error
	calls    int
}

func (p *scriptedProvider) Name() string                                { return "qwen" }
func (p *scriptedProvider) EnsureValidToken(_ context.Context) error    { return nil }
func (p *scriptedProvider) Chat(_ context.Context, _ []provider.Message, temperature float64, _ int) (string, error) {
	p.calls++
	if temperature != 0.3 {
		return "", &provider.APIError{Status: 400, Body: "unexpected temperature"}
	}
	return p.response, p.err
}

// memProfiles is an in-memory ProfileStore.
type memProfiles struct {
	profile *store.StyleProfile
}

func (m *memProfiles) GetStyleProfile(_ context.Context, _ int64) (*store.StyleProfile, error) {
	return m.profile, nil
}
func (m *memProfiles) SaveStyleProfile(_ context.Context, p *store.StyleProfile) error {
	m.profile = p
	return nil
}

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	prov := &scriptedProvider{response: "```json\n{\"formality\":\"informal\",\"tone\":[\"friendly\"],\"humor_level\":\"frequent\",\"directness\":\"direct\"}\n```"}
	repo := &memProfiles{}
	a := NewAnalyzer(repo, prov, nil)

	msgs := outgoing("hey", "yo", "sup", "lol ok", "sure thing",
		"on my way", "be there soon", "haha nice", "ok cool", "later")
	p, err := a.Analyze(context.Background(), 42, msgs, false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Qualitative.Formality != "informal" || p.Qualitative.HumorLevel != "frequent" {
		t.Errorf("Qualitative = %+v", p.Qualitative)
	}
	if repo.profile == nil {
		t.Fatal("profile not cached")
	}
	if repo.profile.MessageCount != 10 {
		t.Errorf("cached MessageCount = %d, want 10", repo.profile.MessageCount)
	}
	if len(p.SampleMessages) != 10 {
		t.Errorf("SampleMessages = %d, want 10", len(p.SampleMessages))
	}
}

func TestAnalyzeFallsBackToDefaults(t *testing.T) {
	prov := &scriptedProvider{response: "this is not json"}
	a := NewAnalyzer(&memProfiles{}, prov, nil)

	p, err := a.Analyze(context.Background(), 42, outgoing("hello"), false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Qualitative.Formality != "mixed" || p.Qualitative.Directness != "direct" {
		t.Errorf("defaults not applied: %+v", p.Qualitative)
	}
}

func TestAnalyzeUsesCache(t *testing.T) {
	cached := &Profile{Qualitative: Qualitative{Formality: "formal"}}
	raw, _ := json.Marshal(cached)
	repo := &memProfiles{profile: &store.StyleProfile{
		ContactID:    42,
		StyleJSON:    raw,
		MessageCount: 10,
	}}
	prov := &scriptedProvider{response: "{}"}
	a := NewAnalyzer(repo, prov, nil)

	// 10 cached vs 10 available: cache is fresh enough.
	p, err := a.Analyze(context.Background(), 42, outgoing(
		"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"), false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Qualitative.Formality != "formal" {
		t.Errorf("cache not used: %+v", p.Qualitative)
	}
	if prov.calls != 0 {
		t.Errorf("provider called %d times, want 0", prov.calls)
	}
}

func TestAnalyzeRecomputesStaleCache(t *testing.T) {
	cached := &Profile{Qualitative: Qualitative{Formality: "formal"}}
	raw, _ := json.Marshal(cached)
	repo := &memProfiles{profile: &store.StyleProfile{
		ContactID:    42,
		StyleJSON:    raw,
		MessageCount: 5,
	}}
	prov := &scriptedProvider{response: `{"formality":"informal"}`}
	a := NewAnalyzer(repo, prov, nil)

	// 5 cached vs 10 available: below the 90% threshold.
	p, err := a.Analyze(context.Background(), 42, outgoing(
		"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"), false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Qualitative.Formality != "informal" {
		t.Errorf("stale cache reused: %+v", p.Qualitative)
	}
	if prov.calls != 1 {
		t.Errorf("provider calls = %d, want 1", prov.calls)
	}
}

func TestAnalyzeForceRefreshSkipsCache(t *testing.T) {
	cached := &Profile{Qualitative: Qualitative{Formality: "formal"}}
	raw, _ := json.Marshal(cached)
	repo := &memProfiles{profile: &store.StyleProfile{
		ContactID:    42,
		StyleJSON:    raw,
		MessageCount: 100,
	}}
	prov := &scriptedProvider{response: `{"formality":"informal"}`}
	a := NewAnalyzer(repo, prov, nil)

	p, err := a.Analyze(context.Background(), 42, outgoing("a"), true)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if p.Qualitative.Formality != "informal" {
		t.Errorf("force refresh ignored: %+v", p.Qualitative)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPromptContainsProfileDetails(t *testing.T) {
	p := &Profile{
		Metrics: Metrics{
			AvgWordsPerMsg: 7.4,
			TopEmojis:      []string{"🔥", "😂"},
			CommonPhrases:  []string{"sounds good", "on my way"},
		},
		Qualitative: Qualitative{
			Formality:  "informal",
			Tone:       []string{"friendly", "playful"},
			HumorLevel: "frequent",
			Directness: "direct",
		},
		SampleMessages: []string{"sounds good 🔥", "on my way"},
	}
	prompt := Prompt(p)

	for _, want := range []string{
		"**Formality:** informal",
		"**Tone:** friendly, playful",
		"~7 words",
		"🔥",
		"sounds good",
		"IMPORTANT RULES",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
