// Package store is the SQLite persistence layer: contacts, conversation
// messages, cached style profiles, and OAuth token records. It is the
// single durable source of truth on process restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/oauth"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    telegram_id INTEGER UNIQUE NOT NULL,
    username TEXT,
    first_name TEXT,
    last_name TEXT,
    is_user BOOLEAN DEFAULT TRUE,
    last_synced TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    telegram_msg_id INTEGER NOT NULL,
    contact_id INTEGER NOT NULL REFERENCES contacts(telegram_id),
    text TEXT,
    is_outgoing BOOLEAN NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    UNIQUE(telegram_msg_id, contact_id)
);

CREATE TABLE IF NOT EXISTS style_profiles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id INTEGER UNIQUE NOT NULL REFERENCES contacts(telegram_id),
    style_json TEXT NOT NULL,
    analyzed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    message_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
    provider TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_outgoing ON messages(is_outgoing);
`

// Contact is a Telegram peer the agent can relay for.
type Contact struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	IsUser     bool
}

// DisplayName returns the friendliest available name.
func (c *Contact) DisplayName() string {
	if c.FirstName != "" {
		name := c.FirstName
		if c.LastName != "" {
			name += " " + c.LastName
		}
		return name
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return fmt.Sprintf("User %d", c.TelegramID)
}

// Message is one stored conversation message.
type Message struct {
	TelegramMsgID int64
	ContactID     int64
	Text          string
	IsOutgoing    bool
	Timestamp     time.Time
}

// StyleProfile is a cached style analysis for one contact.
type StyleProfile struct {
	ContactID    int64
	StyleJSON    json.RawMessage
	AnalyzedAt   time.Time
	MessageCount int
}

// Store wraps the SQLite database. It implements oauth.Store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------- Contacts ----------

// UpsertContact inserts or updates a contact record.
func (s *Store) UpsertContact(ctx context.Context, c *Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (telegram_id, username, first_name, last_name, is_user, last_synced)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(telegram_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			is_user = excluded.is_user,
			last_synced = CURRENT_TIMESTAMP`,
		c.TelegramID, c.Username, c.FirstName, c.LastName, c.IsUser)
	if err != nil {
		return fmt.Errorf("upserting contact %d: %w", c.TelegramID, err)
	}
	return nil
}

// GetContact returns a contact by Telegram ID, or nil if unknown.
func (s *Store) GetContact(ctx context.Context, telegramID int64) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT telegram_id, username, first_name, last_name, is_user
		FROM contacts WHERE telegram_id = ?`, telegramID)

	var c Contact
	err := row.Scan(&c.TelegramID, &c.Username, &c.FirstName, &c.LastName, &c.IsUser)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading contact %d: %w", telegramID, err)
	}
	return &c, nil
}

// ListContacts returns all known contacts, most recently synced first.
func (s *Store) ListContacts(ctx context.Context) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT telegram_id, username, first_name, last_name, is_user
		FROM contacts ORDER BY last_synced DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.TelegramID, &c.Username, &c.FirstName, &c.LastName, &c.IsUser); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

// ---------- Messages ----------

// SaveMessages inserts messages, silently skipping duplicates (same
// telegram_msg_id + contact_id). Returns the number actually inserted.
func (s *Store) SaveMessages(ctx context.Context, messages []*Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (telegram_msg_id, contact_id, text, is_outgoing, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range messages {
		res, err := stmt.ExecContext(ctx, m.TelegramMsgID, m.ContactID, m.Text, m.IsOutgoing, m.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, fmt.Errorf("inserting message %d: %w", m.TelegramMsgID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing messages: %w", err)
	}
	return inserted, nil
}

// MessageQuery filters GetMessages.
type MessageQuery struct {
	Since        time.Time
	OutgoingOnly bool
}

// GetMessages returns a contact's messages in ascending timestamp order.
func (s *Store) GetMessages(ctx context.Context, contactID int64, q MessageQuery) ([]*Message, error) {
	query := `SELECT telegram_msg_id, contact_id, text, is_outgoing, timestamp
		FROM messages WHERE contact_id = ?`
	args := []any{contactID}

	if !q.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.OutgoingOnly {
		query += " AND is_outgoing = TRUE"
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.TelegramMsgID, &m.ContactID, &m.Text, &m.IsOutgoing, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MessageCount returns how many messages are stored for a contact.
func (s *Store) MessageCount(ctx context.Context, contactID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE contact_id = ?", contactID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// LatestMessageTime returns the newest stored timestamp for a contact,
// or the zero time when no messages exist.
func (s *Store) LatestMessageTime(ctx context.Context, contactID int64) (time.Time, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(timestamp) FROM messages WHERE contact_id = ?", contactID).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest message time: %w", err)
	}
	if !ts.Valid || ts.String == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(ts.String)
}

// ---------- Style profiles ----------

// SaveStyleProfile inserts or replaces a contact's cached style profile.
func (s *Store) SaveStyleProfile(ctx context.Context, p *StyleProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO style_profiles (contact_id, style_json, analyzed_at, message_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			style_json = excluded.style_json,
			analyzed_at = excluded.analyzed_at,
			message_count = excluded.message_count`,
		p.ContactID, string(p.StyleJSON), p.AnalyzedAt.UTC().Format(time.RFC3339Nano), p.MessageCount)
	if err != nil {
		return fmt.Errorf("saving style profile for %d: %w", p.ContactID, err)
	}
	return nil
}

// GetStyleProfile returns a contact's cached style profile, or nil.
func (s *Store) GetStyleProfile(ctx context.Context, contactID int64) (*StyleProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id, style_json, analyzed_at, message_count
		FROM style_profiles WHERE contact_id = ?`, contactID)

	var p StyleProfile
	var styleJSON, analyzedAt string
	err := row.Scan(&p.ContactID, &styleJSON, &analyzedAt, &p.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading style profile for %d: %w", contactID, err)
	}
	p.StyleJSON = json.RawMessage(styleJSON)
	p.AnalyzedAt, err = parseTimestamp(analyzedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------- OAuth tokens (oauth.Store) ----------

// GetToken returns the token record for a provider, or nil.
func (s *Store) GetToken(ctx context.Context, provider string) (*oauth.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, access_token, refresh_token, expires_at
		FROM oauth_tokens WHERE provider = ?`, provider)

	var t oauth.Token
	var expiresAt string
	err := row.Scan(&t.Provider, &t.AccessToken, &t.RefreshToken, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading token for %s: %w", provider, err)
	}
	t.ExpiresAt, err = parseTimestamp(expiresAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveToken inserts or replaces the provider's token record.
func (s *Store) SaveToken(ctx context.Context, token *oauth.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		token.Provider, token.AccessToken, token.RefreshToken, token.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving token for %s: %w", token.Provider, err)
	}
	return nil
}

// DeleteToken removes the provider's token record.
func (s *Store) DeleteToken(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM oauth_tokens WHERE provider = ?", provider)
	if err != nil {
		return fmt.Errorf("deleting token for %s: %w", provider, err)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// Compile-time interface verification.
var _ oauth.Store = (*Store)(nil)
