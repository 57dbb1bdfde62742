// Package history records conversation traffic into the store and
// serves recent context windows for response generation. The Bot API
// has no backfill endpoint, so history accumulates from live updates
// and from outgoing sends recorded by the relay.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/telegram"
)

// Repository is the store surface the recorder needs.
type Repository interface {
	UpsertContact(ctx context.Context, c *store.Contact) error
	SaveMessages(ctx context.Context, messages []*store.Message) (int, error)
	GetMessages(ctx context.Context, contactID int64, q store.MessageQuery) ([]*store.Message, error)
	MessageCount(ctx context.Context, contactID int64) (int, error)
	LatestMessageTime(ctx context.Context, contactID int64) (time.Time, error)
}

// Recorder persists incoming and outgoing messages.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder backed by the given repository.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger.With("component", "history")}
}

// RecordIncoming stores one incoming message and refreshes the sender's
// contact record. Duplicate deliveries (same message ID) are ignored.
func (r *Recorder) RecordIncoming(ctx context.Context, msg *telegram.Incoming) error {
	contact := &store.Contact{
		TelegramID: msg.ChatID,
		Username:   msg.Username,
		FirstName:  msg.FirstName,
		LastName:   msg.LastName,
		IsUser:     !msg.FromBot,
	}
	if err := r.repo.UpsertContact(ctx, contact); err != nil {
		return fmt.Errorf("recording contact: %w", err)
	}

	n, err := r.repo.SaveMessages(ctx, []*store.Message{{
		TelegramMsgID: msg.MessageID,
		ContactID:     msg.ChatID,
		Text:          msg.Text,
		IsOutgoing:    false,
		Timestamp:     msg.Timestamp,
	}})
	if err != nil {
		return fmt.Errorf("recording incoming message: %w", err)
	}
	if n == 0 {
		r.logger.Debug("duplicate message skipped", "msg_id", msg.MessageID, "chat", msg.ChatID)
	}
	return nil
}

// RecordOutgoing stores a message the agent sent.
func (r *Recorder) RecordOutgoing(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := r.repo.SaveMessages(ctx, []*store.Message{{
		TelegramMsgID: messageID,
		ContactID:     chatID,
		Text:          text,
		IsOutgoing:    true,
		Timestamp:     time.Now(),
	}})
	if err != nil {
		return fmt.Errorf("recording outgoing message: %w", err)
	}
	return nil
}

// RecentContext returns the newest limit messages for a contact in
// chronological order.
func (r *Recorder) RecentContext(ctx context.Context, contactID int64, limit int) ([]*store.Message, error) {
	msgs, err := r.repo.GetMessages(ctx, contactID, store.MessageQuery{})
	if err != nil {
		return nil, fmt.Errorf("loading context for %d: %w", contactID, err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// SyncedSince reports the newest stored timestamp for a contact; zero
// means nothing recorded yet.
func (r *Recorder) SyncedSince(ctx context.Context, contactID int64) (time.Time, error) {
	return r.repo.LatestMessageTime(ctx, contactID)
}
