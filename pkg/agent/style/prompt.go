package style

import (
	"fmt"
	"strings"
)

// Prompt renders a profile into the system-prompt fragment that steers
// response generation toward the person's voice.
func Prompt(p *Profile) string {
	var parts []string
	parts = append(parts,
		"You are mimicking a specific person's communication style. Here are their characteristics:",
		"")

	q := p.Qualitative
	if q.Formality != "" {
		parts = append(parts, "**Formality:** "+q.Formality)
	}
	if len(q.Tone) > 0 {
		parts = append(parts, "**Tone:** "+strings.Join(q.Tone, ", "))
	}
	if q.Directness != "" {
		parts = append(parts, "**Directness:** "+q.Directness)
	}
	if q.HumorLevel != "" {
		parts = append(parts, "**Humor:** "+q.HumorLevel)
	}
	if len(q.LanguageFeatures) > 0 {
		parts = append(parts, "**Style features:** "+strings.Join(q.LanguageFeatures, ", "))
	}

	parts = append(parts, fmt.Sprintf("\n**Average message length:** ~%d words", int(p.Metrics.AvgWordsPerMsg)))
	if len(p.Metrics.TopEmojis) > 0 {
		parts = append(parts, "**Commonly used emojis:** "+strings.Join(firstN(p.Metrics.TopEmojis, 5), " "))
	}
	if len(p.Metrics.CommonPhrases) > 0 {
		parts = append(parts, "**Common phrases:** "+strings.Join(firstN(p.Metrics.CommonPhrases, 5), ", "))
	}

	if len(p.SampleMessages) > 0 {
		parts = append(parts, "\n**Example messages from this person:**")
		samples := p.SampleMessages
		if len(samples) > 5 {
			samples = samples[len(samples)-5:]
		}
		for _, s := range samples {
			parts = append(parts, fmt.Sprintf("- %q", s))
		}
	}

	parts = append(parts,
		"",
		"IMPORTANT RULES:",
		"1. Match their message length - keep responses similar in length to their typical messages",
		"2. Use their emoji patterns - include emojis if they use them, avoid if they don't",
		"3. Match their formality and tone exactly",
		"4. Use their common phrases when natural",
		"5. DO NOT be robotic or obviously AI - be natural and conversational",
		"6. Respond in the same language as the conversation",
	)

	return strings.Join(parts, "\n")
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
