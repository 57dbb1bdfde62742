package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/oauth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetToken(ctx, oauth.ProviderQwen)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got != nil {
		t.Fatalf("GetToken on empty store = %+v, want nil", got)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	tok := &oauth.Token{
		Provider:     oauth.ProviderQwen,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    expires,
	}
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err = s.GetToken(ctx, oauth.ProviderQwen)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got == nil || got.AccessToken != "at-1" || got.RefreshToken != "rt-1" {
		t.Errorf("GetToken = %+v", got)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}

	// Overwrite replaces the record in place.
	tok.AccessToken = "at-2"
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatalf("SaveToken overwrite: %v", err)
	}
	got, _ = s.GetToken(ctx, oauth.ProviderQwen)
	if got.AccessToken != "at-2" {
		t.Errorf("after overwrite AccessToken = %q, want at-2", got.AccessToken)
	}

	if err := s.DeleteToken(ctx, oauth.ProviderQwen); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	got, _ = s.GetToken(ctx, oauth.ProviderQwen)
	if got != nil {
		t.Errorf("GetToken after delete = %+v, want nil", got)
	}
}

func TestTokensAreIndependentPerProvider(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{oauth.ProviderQwen, oauth.ProviderGoogle} {
		err := s.SaveToken(ctx, &oauth.Token{
			Provider:     p,
			AccessToken:  "at-" + p,
			RefreshToken: "rt-" + p,
			ExpiresAt:    time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveToken(%s): %v", p, err)
		}
	}

	if err := s.DeleteToken(ctx, oauth.ProviderQwen); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	got, err := s.GetToken(ctx, oauth.ProviderGoogle)
	if err != nil || got == nil {
		t.Fatalf("google token lost after qwen delete: %v %+v", err, got)
	}
}

func TestUpsertContact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &Contact{TelegramID: 42, Username: "alice", FirstName: "Alice", IsUser: true}
	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	c.FirstName = "Alicia"
	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact update: %v", err)
	}

	got, err := s.GetContact(ctx, 42)
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.FirstName != "Alicia" {
		t.Errorf("FirstName = %q, want Alicia", got.FirstName)
	}

	all, err := s.ListContacts(ctx)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListContacts = %d rows, want 1 (upsert, not insert)", len(all))
	}
}

func TestContactDisplayName(t *testing.T) {
	tests := []struct {
		contact Contact
		want    string
	}{
		{Contact{FirstName: "Bob", LastName: "Lee"}, "Bob Lee"},
		{Contact{FirstName: "Bob"}, "Bob"},
		{Contact{Username: "bob"}, "@bob"},
		{Contact{TelegramID: 7}, "User 7"},
	}
	for _, tt := range tests {
		if got := tt.contact.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.contact, got, tt.want)
		}
	}
}

func TestSaveMessagesSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := []*Message{
		{TelegramMsgID: 1, ContactID: 42, Text: "hi", IsOutgoing: false, Timestamp: base},
		{TelegramMsgID: 2, ContactID: 42, Text: "hey", IsOutgoing: true, Timestamp: base.Add(time.Minute)},
	}
	n, err := s.SaveMessages(ctx, batch)
	if err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	// Re-saving the same batch plus one new message inserts only the new one.
	batch = append(batch, &Message{TelegramMsgID: 3, ContactID: 42, Text: "sup", Timestamp: base.Add(2 * time.Minute)})
	n, err = s.SaveMessages(ctx, batch)
	if err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}

	// Same message ID under a different contact is a distinct message.
	n, err = s.SaveMessages(ctx, []*Message{
		{TelegramMsgID: 1, ContactID: 99, Text: "other chat", Timestamp: base},
	})
	if err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1 (unique per contact)", n)
	}
}

func TestGetMessagesOrderingAndFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of order on purpose.
	_, err := s.SaveMessages(ctx, []*Message{
		{TelegramMsgID: 3, ContactID: 42, Text: "third", IsOutgoing: true, Timestamp: base.Add(2 * time.Minute)},
		{TelegramMsgID: 1, ContactID: 42, Text: "first", IsOutgoing: false, Timestamp: base},
		{TelegramMsgID: 2, ContactID: 42, Text: "second", IsOutgoing: true, Timestamp: base.Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	msgs, err := s.GetMessages(ctx, 42, MessageQuery{})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Text != want {
			t.Errorf("msgs[%d].Text = %q, want %q", i, msgs[i].Text, want)
		}
	}

	msgs, err = s.GetMessages(ctx, 42, MessageQuery{Since: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("GetMessages since: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "second" {
		t.Errorf("since filter = %d msgs, first %q", len(msgs), msgs[0].Text)
	}

	msgs, err = s.GetMessages(ctx, 42, MessageQuery{OutgoingOnly: true})
	if err != nil {
		t.Fatalf("GetMessages outgoing: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("outgoing filter = %d msgs, want 2", len(msgs))
	}
	for _, m := range msgs {
		if !m.IsOutgoing {
			t.Errorf("outgoing filter returned incoming message %q", m.Text)
		}
	}

	n, err := s.MessageCount(ctx, 42)
	if err != nil || n != 3 {
		t.Errorf("MessageCount = %d (%v), want 3", n, err)
	}

	latest, err := s.LatestMessageTime(ctx, 42)
	if err != nil {
		t.Fatalf("LatestMessageTime: %v", err)
	}
	if !latest.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("LatestMessageTime = %v, want %v", latest, base.Add(2*time.Minute))
	}

	latest, err = s.LatestMessageTime(ctx, 999)
	if err != nil {
		t.Fatalf("LatestMessageTime empty: %v", err)
	}
	if !latest.IsZero() {
		t.Errorf("LatestMessageTime for unknown contact = %v, want zero", latest)
	}
}

func TestStyleProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetStyleProfile(ctx, 42)
	if err != nil {
		t.Fatalf("GetStyleProfile: %v", err)
	}
	if got != nil {
		t.Fatalf("GetStyleProfile on empty store = %+v, want nil", got)
	}

	p := &StyleProfile{
		ContactID:    42,
		StyleJSON:    json.RawMessage(`{"avg_length":12.5}`),
		AnalyzedAt:   time.Now().UTC().Truncate(time.Second),
		MessageCount: 120,
	}
	if err := s.SaveStyleProfile(ctx, p); err != nil {
		t.Fatalf("SaveStyleProfile: %v", err)
	}

	got, err = s.GetStyleProfile(ctx, 42)
	if err != nil {
		t.Fatalf("GetStyleProfile: %v", err)
	}
	if got.MessageCount != 120 || string(got.StyleJSON) != `{"avg_length":12.5}` {
		t.Errorf("GetStyleProfile = %+v", got)
	}

	// Replacing keeps one row per contact.
	p.MessageCount = 150
	if err := s.SaveStyleProfile(ctx, p); err != nil {
		t.Fatalf("SaveStyleProfile replace: %v", err)
	}
	got, _ = s.GetStyleProfile(ctx, 42)
	if got.MessageCount != 150 {
		t.Errorf("MessageCount after replace = %d, want 150", got.MessageCount)
	}
}
