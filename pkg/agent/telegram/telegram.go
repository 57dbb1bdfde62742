// Package telegram is a thin Telegram Bot API client used by the relay:
// long polling for incoming updates, message sending, and chat lookups.
// It talks to the HTTP API directly.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Incoming is one message received from the long-poll loop.
type Incoming struct {
	MessageID int64
	ChatID    int64
	FromID    int64
	FromBot   bool
	Username  string
	FirstName string
	LastName  string
	Text      string
	Timestamp time.Time
}

// ChatInfo describes a peer resolved via getChat.
type ChatInfo struct {
	ID        int64
	Type      string
	Username  string
	FirstName string
	LastName  string
	Title     string
}

// Client is the Bot API client. Create with New, then Connect to start
// the update loop.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// messages carries incoming updates to the relay. Bounded so a stuck
	// consumer cannot wedge the poll loop; overflow is dropped with a log.
	messages chan *Incoming

	connected atomic.Bool
	offset    int64

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the Bot API base URL (tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Bot API client for the given bot token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:    token,
		baseURL:  "https://api.telegram.org/bot" + token,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   slog.Default().With("component", "telegram"),
		messages: make(chan *Incoming, 256),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect verifies the token with getMe and starts the polling loop.
// Calling Connect on an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if c.connected.Load() {
		return nil
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	me, err := c.getMe()
	if err != nil {
		return fmt.Errorf("telegram: verifying token: %w", err)
	}
	c.logger.Info("connected", "bot", me.Username, "id", me.ID)
	c.connected.Store(true)

	go c.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.connected.Store(false)
	c.logger.Info("disconnected")
}

// IsConnected reports whether the poll loop is running.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Messages returns the incoming message stream.
func (c *Client) Messages() <-chan *Incoming { return c.messages }

// SendMessage sends text to a chat and returns the new message ID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	result, err := c.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return 0, err
	}
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("telegram: parsing sendMessage result: %w", err)
	}
	return msg.MessageID, nil
}

// SendTyping sends a "typing..." chat action.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	_, err := c.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// GetChat resolves a chat ID or @username to peer info.
func (c *Client) GetChat(ctx context.Context, chatID any) (*ChatInfo, error) {
	result, err := c.apiCall(ctx, "getChat", map[string]any{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	var chat tgChat
	if err := json.Unmarshal(result, &chat); err != nil {
		return nil, fmt.Errorf("telegram: parsing getChat result: %w", err)
	}
	return &ChatInfo{
		ID:        chat.ID,
		Type:      chat.Type,
		Username:  chat.Username,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
		Title:     chat.Title,
	}, nil
}

// pollLoop runs getUpdates long polling with exponential backoff on
// errors (1s doubling to a 30s cap, reset on success).
func (c *Client) pollLoop() {
	c.logger.Info("polling started")
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("polling stopped")
			return
		default:
		}

		updates, err := c.getUpdates(c.offset, 100, 30)
		if err != nil {
			c.logger.Warn("getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			c.processUpdate(u)
		}
	}
}

// processUpdate converts a Bot API update into an Incoming message.
// Edited messages are treated as new messages; non-text updates are
// skipped.
func (c *Client) processUpdate(u tgUpdate) {
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || msg.Text == "" {
		return
	}

	incoming := &Incoming{
		MessageID: msg.MessageID,
		ChatID:    msg.Chat.ID,
		Text:      msg.Text,
		Timestamp: time.Unix(msg.Date, 0),
	}
	if msg.From != nil {
		incoming.FromID = msg.From.ID
		incoming.FromBot = msg.From.IsBot
		incoming.Username = msg.From.Username
		incoming.FirstName = msg.From.FirstName
		incoming.LastName = msg.From.LastName
	}

	select {
	case c.messages <- incoming:
	default:
		c.logger.Warn("message buffer full, dropping message", "msg_id", incoming.MessageID)
	}
}

// ---------- Bot API wire types ----------

type tgUpdate struct {
	UpdateID      int64      `json:"update_id"`
	Message       *tgMessage `json:"message"`
	EditedMessage *tgMessage `json:"edited_message"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int64   `json:"date"`
	Text      string  `json:"text"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Title     string `json:"title"`
}

// ---------- API helpers ----------

// apiCall posts a JSON payload to a Bot API method and unwraps the
// standard {ok, description, result} envelope.
func (c *Client) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	url := c.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (c *Client) getMe() (*tgBotUser, error) {
	data, err := c.apiCall(c.ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

func (c *Client) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := c.apiCall(c.ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "edited_message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}
