package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/telegram"
)

func newRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRecorder(s, nil), s
}

func TestRecordIncomingCreatesContactAndMessage(t *testing.T) {
	r, s := newRecorder(t)
	ctx := context.Background()

	msg := &telegram.Incoming{
		MessageID: 100,
		ChatID:    42,
		FromID:    42,
		Username:  "alice",
		FirstName: "Alice",
		Text:      "hello",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := r.RecordIncoming(ctx, msg); err != nil {
		t.Fatalf("RecordIncoming: %v", err)
	}

	c, err := s.GetContact(ctx, 42)
	if err != nil || c == nil {
		t.Fatalf("GetContact: %v %+v", err, c)
	}
	if c.Username != "alice" || !c.IsUser {
		t.Errorf("contact = %+v", c)
	}

	n, _ := s.MessageCount(ctx, 42)
	if n != 1 {
		t.Errorf("MessageCount = %d, want 1", n)
	}

	// Redelivery of the same message is not an error and not a duplicate.
	if err := r.RecordIncoming(ctx, msg); err != nil {
		t.Fatalf("RecordIncoming redelivery: %v", err)
	}
	n, _ = s.MessageCount(ctx, 42)
	if n != 1 {
		t.Errorf("MessageCount after redelivery = %d, want 1", n)
	}
}

func TestRecordOutgoing(t *testing.T) {
	r, s := newRecorder(t)
	ctx := context.Background()

	if err := s.UpsertContact(ctx, &store.Contact{TelegramID: 42}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if err := r.RecordOutgoing(ctx, 42, 200, "my reply"); err != nil {
		t.Fatalf("RecordOutgoing: %v", err)
	}

	msgs, err := s.GetMessages(ctx, 42, store.MessageQuery{OutgoingOnly: true})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "my reply" || !msgs[0].IsOutgoing {
		t.Errorf("outgoing messages = %+v", msgs)
	}
}

func TestRecentContextWindow(t *testing.T) {
	r, s := newRecorder(t)
	ctx := context.Background()

	if err := s.UpsertContact(ctx, &store.Contact{TelegramID: 42}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var batch []*store.Message
	for i := 0; i < 20; i++ {
		batch = append(batch, &store.Message{
			TelegramMsgID: int64(i + 1),
			ContactID:     42,
			Text:          fmt.Sprintf("msg %d", i+1),
			IsOutgoing:    i%2 == 0,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	if _, err := s.SaveMessages(ctx, batch); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	msgs, err := r.RecentContext(ctx, 42, 15)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if len(msgs) != 15 {
		t.Fatalf("len = %d, want 15", len(msgs))
	}
	if msgs[0].Text != "msg 6" || msgs[14].Text != "msg 20" {
		t.Errorf("window = %q .. %q, want msg 6 .. msg 20", msgs[0].Text, msgs[14].Text)
	}

	// Fewer messages than the limit returns them all.
	msgs, err = r.RecentContext(ctx, 42, 100)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if len(msgs) != 20 {
		t.Errorf("len = %d, want 20", len(msgs))
	}
}

func TestSyncedSince(t *testing.T) {
	r, s := newRecorder(t)
	ctx := context.Background()

	ts, err := r.SyncedSince(ctx, 42)
	if err != nil {
		t.Fatalf("SyncedSince: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("SyncedSince on empty history = %v, want zero", ts)
	}

	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertContact(ctx, &store.Contact{TelegramID: 42}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if _, err := s.SaveMessages(ctx, []*store.Message{
		{TelegramMsgID: 1, ContactID: 42, Text: "x", Timestamp: when},
	}); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	ts, err = r.SyncedSince(ctx, 42)
	if err != nil {
		t.Fatalf("SyncedSince: %v", err)
	}
	if !ts.Equal(when) {
		t.Errorf("SyncedSince = %v, want %v", ts, when)
	}
}
