package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// botServer is a scripted Bot API stub.
type botServer struct {
	t          *testing.T
	updates    [][]tgUpdate
	pollCalls  atomic.Int64
	sendCalls  atomic.Int64
	lastSend   atomic.Value // map[string]any
	failPolls  int64        // first N getUpdates calls fail
}

func (s *botServer) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"username":"relay_bot"}}`)

	case r.URL.Path == "/getUpdates":
		n := s.pollCalls.Add(1)
		if n <= s.failPolls {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"ok":false,"description":"bad gateway"}`)
			return
		}
		idx := int(n) - int(s.failPolls) - 1
		var batch []tgUpdate
		if idx < len(s.updates) {
			batch = s.updates[idx]
		}
		resp := map[string]any{"ok": true, "result": batch}
		json.NewEncoder(w).Encode(resp)

	case r.URL.Path == "/sendMessage":
		s.sendCalls.Add(1)
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		s.lastSend.Store(payload)
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":777}}`)

	case r.URL.Path == "/getChat":
		fmt.Fprint(w, `{"ok":true,"result":{"id":42,"type":"private","username":"alice","first_name":"Alice"}}`)

	default:
		s.t.Errorf("unexpected path %q", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, srv *botServer) (*Client, func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	c := New("test-token",
		WithBaseURL(ts.URL),
		WithHTTPClient(ts.Client()),
	)
	return c, ts.Close
}

func TestConnectReceivesUpdates(t *testing.T) {
	srv := &botServer{
		t: t,
		updates: [][]tgUpdate{
			{
				{UpdateID: 10, Message: &tgMessage{
					MessageID: 1,
					From:      &tgUser{ID: 42, FirstName: "Alice", Username: "alice"},
					Chat:      tgChat{ID: 42, Type: "private"},
					Date:      1700000000,
					Text:      "hello",
				}},
				// Non-text update is skipped.
				{UpdateID: 11, Message: &tgMessage{
					MessageID: 2,
					Chat:      tgChat{ID: 42, Type: "private"},
					Date:      1700000001,
				}},
			},
		},
	}
	c, closeSrv := newTestClient(t, srv)
	defer closeSrv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	select {
	case msg := <-c.Messages():
		if msg.Text != "hello" || msg.ChatID != 42 || msg.FromID != 42 {
			t.Errorf("incoming = %+v", msg)
		}
		if msg.FirstName != "Alice" {
			t.Errorf("FirstName = %q", msg.FirstName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	// Only the text message should have been delivered.
	select {
	case msg := <-c.Messages():
		t.Errorf("unexpected second message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollLoopRecoversFromErrors(t *testing.T) {
	srv := &botServer{
		t:         t,
		failPolls: 1,
		updates: [][]tgUpdate{
			{
				{UpdateID: 1, Message: &tgMessage{
					MessageID: 5,
					From:      &tgUser{ID: 7},
					Chat:      tgChat{ID: 7, Type: "private"},
					Date:      1700000000,
					Text:      "after recovery",
				}},
			},
		},
	}
	c, closeSrv := newTestClient(t, srv)
	defer closeSrv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	select {
	case msg := <-c.Messages():
		if msg.Text != "after recovery" {
			t.Errorf("Text = %q", msg.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not recover after error")
	}
}

func TestSendMessage(t *testing.T) {
	srv := &botServer{t: t}
	c, closeSrv := newTestClient(t, srv)
	defer closeSrv()

	id, err := c.SendMessage(context.Background(), 42, "hi there")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 777 {
		t.Errorf("message ID = %d, want 777", id)
	}
	payload := srv.lastSend.Load().(map[string]any)
	if payload["text"] != "hi there" {
		t.Errorf("sent text = %v", payload["text"])
	}
	if int64(payload["chat_id"].(float64)) != 42 {
		t.Errorf("chat_id = %v", payload["chat_id"])
	}
}

func TestGetChat(t *testing.T) {
	srv := &botServer{t: t}
	c, closeSrv := newTestClient(t, srv)
	defer closeSrv()

	info, err := c.GetChat(context.Background(), "@alice")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if info.ID != 42 || info.Username != "alice" || info.FirstName != "Alice" {
		t.Errorf("GetChat = %+v", info)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	c := New("")
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect with empty token succeeded")
	}
}

func TestAPICallErrorSurfacesDescription(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer ts.Close()

	c := New("tok", WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	_, err := c.SendMessage(context.Background(), 1, "x")
	if err == nil || err.Error() != "telegram: sendMessage: chat not found" {
		t.Errorf("err = %v", err)
	}
}
