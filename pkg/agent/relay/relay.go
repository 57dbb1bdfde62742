// Package relay is the message loop: a listener feeds inbound messages
// into a queue, and a single processor drains it, generating a reply
// candidate per message and driving the interactive decision cycle
// (send, edit, regenerate, alternatives, skip) or the unattended
// auto-reply path. One message is fully resolved before the next is
// dequeued, so replies are never interleaved.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/telegram"
)

// Action is a decision on the current reply candidate.
type Action int

const (
	ActionSend Action = iota
	ActionEdit
	ActionRegenerate
	ActionAlternatives
	ActionSkip
)

// Decision is the outcome of one prompt round.
type Decision struct {
	Action Action
	// EditedText carries the replacement text for ActionEdit.
	EditedText string
}

// Candidate is the current draft reply. Err is set when the last
// generation attempt failed; the same action set is still offered so
// the user can regenerate or skip.
type Candidate struct {
	Text        string
	Temperature float64
	Err         error
}

// Prompter collects decisions from the user.
type Prompter interface {
	// PromptAction presents the candidate and returns the chosen action.
	PromptAction(ctx context.Context, incoming *telegram.Incoming, candidate *Candidate) (Decision, error)
	// PickAlternative presents options and returns the chosen index, or
	// -1 when none is chosen.
	PickAlternative(ctx context.Context, options []string) (int, error)
}

// Transport sends outgoing messages.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
}

// History records traffic and serves context windows.
type History interface {
	RecordIncoming(ctx context.Context, msg *telegram.Incoming) error
	RecordOutgoing(ctx context.Context, chatID, messageID int64, text string) error
	RecentContext(ctx context.Context, contactID int64, limit int) ([]*store.Message, error)
}

// Generator produces reply drafts.
type Generator interface {
	Generate(ctx context.Context, contextMsgs []*store.Message, incoming, contactName string) (string, error)
	GenerateMultiple(ctx context.Context, contextMsgs []*store.Message, incoming, contactName string, count int) ([]string, error)
}

// Config tunes the engine.
type Config struct {
	// AutoReply generates and sends without prompting.
	AutoReply bool
	// AutoReplyDelay is waited before generating in auto-reply mode.
	AutoReplyDelay time.Duration
	// AutoReplyStartSpec and AutoReplyStopSpec are optional cron
	// expressions that switch auto-reply mode on and off.
	AutoReplyStartSpec string
	AutoReplyStopSpec  string
	// ContextLimit is the context window size for generation.
	ContextLimit int
	// AlternativeCount is how many drafts ActionAlternatives requests.
	AlternativeCount int
	// PollInterval bounds how long the processor sleeps between queue
	// checks, so cancellation is observed promptly.
	PollInterval time.Duration
}

// Engine wires the queue, processor, and collaborators together.
type Engine struct {
	contact   *store.Contact
	transport Transport
	history   History
	gen       Generator
	prompter  Prompter
	cfg       Config
	logger    *slog.Logger

	mu        sync.Mutex
	queue     []*telegram.Incoming
	autoReply bool
}

// New creates an Engine for one contact's conversation.
func New(contact *store.Contact, transport Transport, history History, gen Generator, prompter Prompter, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 15
	}
	if cfg.AlternativeCount <= 0 {
		cfg.AlternativeCount = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		contact:   contact,
		transport: transport,
		history:   history,
		gen:       gen,
		prompter:  prompter,
		cfg:       cfg,
		logger:    logger.With("component", "relay"),
		autoReply: cfg.AutoReply,
	}
}

// Enqueue appends one inbound message in arrival order.
func (e *Engine) Enqueue(msg *telegram.Incoming) {
	e.mu.Lock()
	e.queue = append(e.queue, msg)
	n := len(e.queue)
	e.mu.Unlock()
	e.logger.Debug("message queued", "msg_id", msg.MessageID, "depth", n)
}

// QueueDepth returns the number of pending messages.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Listen consumes the transport's message stream, enqueueing messages
// from this engine's contact. It returns when ctx is cancelled or the
// stream closes. Run Listen and Run as separate goroutines; they only
// meet at the queue.
func (e *Engine) Listen(ctx context.Context, messages <-chan *telegram.Incoming) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.ChatID != e.contact.TelegramID {
				continue
			}
			e.Enqueue(msg)
		}
	}
}

// SetAutoReply toggles auto-reply mode.
func (e *Engine) SetAutoReply(on bool) {
	e.mu.Lock()
	e.autoReply = on
	e.mu.Unlock()
	e.logger.Info("auto-reply mode changed", "enabled", on)
}

func (e *Engine) autoReplyOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoReply
}

// Run drains the queue until ctx is cancelled, resolving each message
// through a terminal state before dequeuing the next. When auto-reply
// cron specs are configured, they toggle the mode while Run is active.
func (e *Engine) Run(ctx context.Context) error {
	if stop, err := e.startSchedule(); err != nil {
		return err
	} else if stop != nil {
		defer stop()
	}

	for {
		msg := e.dequeue()
		if msg == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}
		if err := e.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("message processing failed", "msg_id", msg.MessageID, "error", err)
		}
	}
}

// startSchedule registers cron jobs toggling auto-reply mode. Returns
// a stop function, or nil when no schedule is configured.
func (e *Engine) startSchedule() (func(), error) {
	if e.cfg.AutoReplyStartSpec == "" && e.cfg.AutoReplyStopSpec == "" {
		return nil, nil
	}
	c := cron.New()
	if spec := e.cfg.AutoReplyStartSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() { e.SetAutoReply(true) }); err != nil {
			return nil, fmt.Errorf("invalid auto-reply start schedule %q: %w", spec, err)
		}
	}
	if spec := e.cfg.AutoReplyStopSpec; spec != "" {
		if _, err := c.AddFunc(spec, func() { e.SetAutoReply(false) }); err != nil {
			return nil, fmt.Errorf("invalid auto-reply stop schedule %q: %w", spec, err)
		}
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (e *Engine) dequeue() *telegram.Incoming {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	msg := e.queue[0]
	e.queue = e.queue[1:]
	return msg
}

// process resolves one message through a terminal state.
func (e *Engine) process(ctx context.Context, msg *telegram.Incoming) error {
	if err := e.history.RecordIncoming(ctx, msg); err != nil {
		return err
	}

	if e.autoReplyOn() {
		return e.autoReplyCycle(ctx, msg)
	}
	return e.decisionCycle(ctx, msg)
}

// autoReplyCycle waits the configured delay, generates once, and sends
// unconditionally.
func (e *Engine) autoReplyCycle(ctx context.Context, msg *telegram.Incoming) error {
	if d := e.cfg.AutoReplyDelay; d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	contextMsgs, err := e.history.RecentContext(ctx, e.contact.TelegramID, e.cfg.ContextLimit)
	if err != nil {
		return err
	}
	text, err := e.gen.Generate(ctx, contextMsgs, msg.Text, e.contact.DisplayName())
	if err != nil {
		return fmt.Errorf("auto-reply generation: %w", err)
	}
	return e.transmit(ctx, text)
}

// decisionCycle runs the interactive state machine until the message
// reaches sent or skipped.
func (e *Engine) decisionCycle(ctx context.Context, msg *telegram.Incoming) error {
	contextMsgs, err := e.history.RecentContext(ctx, e.contact.TelegramID, e.cfg.ContextLimit)
	if err != nil {
		return err
	}
	name := e.contact.DisplayName()

	candidate := &Candidate{Temperature: 0.8}
	candidate.Text, candidate.Err = e.gen.Generate(ctx, contextMsgs, msg.Text, name)
	if candidate.Err != nil {
		e.logger.Warn("generation failed, offering retry", "error", candidate.Err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		decision, err := e.prompter.PromptAction(ctx, msg, candidate)
		if err != nil {
			return fmt.Errorf("prompting for action: %w", err)
		}

		switch decision.Action {
		case ActionSend:
			if candidate.Err != nil || candidate.Text == "" {
				e.logger.Warn("no candidate to send, staying in decision cycle")
				continue
			}
			if err := e.transmit(ctx, candidate.Text); err != nil {
				e.logger.Error("send failed, staying in decision cycle", "error", err)
				candidate.Err = err
				continue
			}
			return nil

		case ActionEdit:
			text := strings.TrimSpace(decision.EditedText)
			if text == "" {
				continue
			}
			if err := e.transmit(ctx, text); err != nil {
				e.logger.Error("send failed, staying in decision cycle", "error", err)
				candidate.Err = err
				continue
			}
			return nil

		case ActionRegenerate:
			candidate.Text, candidate.Err = e.gen.Generate(ctx, contextMsgs, msg.Text, name)
			if candidate.Err != nil {
				e.logger.Warn("regeneration failed, offering retry", "error", candidate.Err)
			}

		case ActionAlternatives:
			options, err := e.gen.GenerateMultiple(ctx, contextMsgs, msg.Text, name, e.cfg.AlternativeCount)
			if err != nil {
				e.logger.Warn("alternatives generation failed", "error", err)
				candidate.Err = err
				continue
			}
			idx, err := e.prompter.PickAlternative(ctx, options)
			if err != nil {
				return fmt.Errorf("picking alternative: %w", err)
			}
			if idx < 0 || idx >= len(options) {
				// None chosen: prior candidate stays intact.
				continue
			}
			if err := e.transmit(ctx, options[idx]); err != nil {
				e.logger.Error("send failed, staying in decision cycle", "error", err)
				candidate.Err = err
				continue
			}
			return nil

		case ActionSkip:
			e.logger.Info("message skipped", "msg_id", msg.MessageID)
			return nil

		default:
			return fmt.Errorf("unknown action %d", decision.Action)
		}
	}
}

// transmit sends text and persists it as an outgoing message.
func (e *Engine) transmit(ctx context.Context, text string) error {
	msgID, err := e.transport.SendMessage(ctx, e.contact.TelegramID, text)
	if err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	if err := e.history.RecordOutgoing(ctx, e.contact.TelegramID, msgID, text); err != nil {
		return fmt.Errorf("persisting reply: %w", err)
	}
	return nil
}
