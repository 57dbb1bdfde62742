// Package style builds communication style profiles from a contact's
// outgoing message history: quantitative metrics computed locally plus
// a qualitative AI pass, cached in the store.
package style

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
)

// emojiPattern matches runs of common emoji ranges. A run of adjacent
// emoji counts as one occurrence.
var emojiPattern = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}\x{2702}-\x{27B0}\x{24C2}-\x{1F251}]+`)

// Metrics is the quantitative half of a style profile.
type Metrics struct {
	AvgMessageLength  float64            `json:"avg_message_length"`
	AvgWordsPerMsg    float64            `json:"avg_words_per_message"`
	EmojiFrequency    float64            `json:"emoji_frequency"`
	TopEmojis         []string           `json:"top_emojis"`
	PunctuationStyle  map[string]float64 `json:"punctuation_style"`
	CapitalizedRatio  float64            `json:"capitalization_ratio"`
	CommonPhrases     []string           `json:"common_phrases"`
	MessagesAnalyzed  int                `json:"message_count_analyzed"`
}

var punctuationMarks = []string{"!", "?", ".", ",", "..."}

// CalculateMetrics computes style metrics over the given messages,
// which should be the contact side's own (outgoing) messages.
func CalculateMetrics(messages []*store.Message) Metrics {
	if len(messages) == 0 {
		return Metrics{
			TopEmojis:        []string{},
			PunctuationStyle: map[string]float64{},
			CommonPhrases:    []string{},
		}
	}

	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Text
	}

	var totalLen, totalWords int
	for _, t := range texts {
		totalLen += len([]rune(t))
		totalWords += len(strings.Fields(t))
	}

	emojiCounts := map[string]int{}
	totalEmojis := 0
	for _, t := range texts {
		for _, e := range emojiPattern.FindAllString(t, -1) {
			emojiCounts[e]++
			totalEmojis++
		}
	}

	punctCounts := map[string]int{}
	totalPunct := 0
	for _, t := range texts {
		for _, p := range punctuationMarks {
			n := strings.Count(t, p)
			punctCounts[p] += n
			totalPunct += n
		}
	}
	if totalPunct == 0 {
		totalPunct = 1
	}
	punctRatios := make(map[string]float64, len(punctCounts))
	for p, n := range punctCounts {
		punctRatios[p] = float64(n) / float64(totalPunct)
	}

	capitalized := 0
	for _, t := range texts {
		runes := []rune(t)
		if len(runes) > 0 && unicode.IsUpper(runes[0]) {
			capitalized++
		}
	}

	phraseCounts := map[string]int{}
	for _, t := range texts {
		words := strings.Fields(strings.ToLower(t))
		for i := 0; i+1 < len(words); i++ {
			phraseCounts[words[i]+" "+words[i+1]]++
		}
		for i := 0; i+2 < len(words); i++ {
			phraseCounts[words[i]+" "+words[i+1]+" "+words[i+2]]++
		}
	}

	return Metrics{
		AvgMessageLength: float64(totalLen) / float64(len(texts)),
		AvgWordsPerMsg:   float64(totalWords) / float64(len(texts)),
		EmojiFrequency:   float64(totalEmojis) / float64(len(texts)),
		TopEmojis:        topKeys(emojiCounts, 10, 1),
		PunctuationStyle: punctRatios,
		CapitalizedRatio: float64(capitalized) / float64(len(texts)),
		CommonPhrases:    topKeys(phraseCounts, 10, 3),
		MessagesAnalyzed: len(messages),
	}
}

// topKeys returns up to limit keys with count >= minCount, most
// frequent first; ties break lexicographically for determinism.
func topKeys(counts map[string]int, limit, minCount int) []string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n >= minCount {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
