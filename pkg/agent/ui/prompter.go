// Package ui is the interactive terminal front end for the relay's
// decision cycle, built on huh forms.
package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/relay"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/telegram"
)

// Prompter implements relay.Prompter with terminal forms.
type Prompter struct{}

// NewPrompter creates the terminal prompter.
func NewPrompter() *Prompter { return &Prompter{} }

// PromptAction shows the incoming message and candidate, then asks for
// a decision. Choosing edit opens a text field; submitting it empty
// keeps the decision cycle open.
func (p *Prompter) PromptAction(ctx context.Context, incoming *telegram.Incoming, candidate *relay.Candidate) (relay.Decision, error) {
	title := fmt.Sprintf("Incoming: %s", incoming.Text)
	var description string
	if candidate.Err != nil {
		description = fmt.Sprintf("Generation failed: %v", candidate.Err)
	} else {
		description = fmt.Sprintf("Draft reply: %s", candidate.Text)
	}

	var action relay.Action
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[relay.Action]().
			Title(title).
			Description(description).
			Options(
				huh.NewOption("Send", relay.ActionSend),
				huh.NewOption("Edit", relay.ActionEdit),
				huh.NewOption("Regenerate", relay.ActionRegenerate),
				huh.NewOption("Show alternatives", relay.ActionAlternatives),
				huh.NewOption("Skip", relay.ActionSkip),
			).
			Value(&action),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return relay.Decision{}, fmt.Errorf("action prompt: %w", err)
	}

	decision := relay.Decision{Action: action}
	if action == relay.ActionEdit {
		text := candidate.Text
		edit := huh.NewForm(huh.NewGroup(
			huh.NewText().
				Title("Edit reply").
				Value(&text),
		))
		if err := edit.RunWithContext(ctx); err != nil {
			return relay.Decision{}, fmt.Errorf("edit prompt: %w", err)
		}
		decision.EditedText = text
	}
	return decision, nil
}

// PickAlternative presents the drafts plus a "keep current" escape;
// the escape returns -1.
func (p *Prompter) PickAlternative(ctx context.Context, options []string) (int, error) {
	opts := make([]huh.Option[int], 0, len(options)+1)
	for i, o := range options {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%d. %s", i+1, o), i))
	}
	opts = append(opts, huh.NewOption("None of these", -1))

	choice := -1
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title("Pick a reply").
			Options(opts...).
			Value(&choice),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return -1, fmt.Errorf("alternatives prompt: %w", err)
	}
	return choice, nil
}

// Compile-time interface verification.
var _ relay.Prompter = (*Prompter)(nil)
