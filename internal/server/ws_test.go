package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ensarsahaneren/realtime/internal/chat"
	"github.com/Ensarsahaneren/realtime/internal/presence"
	"github.com/gorilla/websocket"
)

type wsEvent struct {
	Type      string              `json:"type"`
	Message   *chat.MessageDTO    `json:"message"`
	Messages  []chat.MessageDTO   `json:"messages"`
	MessageID uint                `json:"message_id"`
	Status    string              `json:"status"`
	Users     []presence.UserInfo `json:"users"`
}

func dialWS(t *testing.T, srvURL, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial ws: %v (resp=%v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor 持续读取直到收到指定类型的事件，presence 广播等无关帧被跳过。
func waitFor(t *testing.T, conn *websocket.Conn, wantType string) wsEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", wantType)
		}
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", wantType, err)
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if ev.Type != wantType {
			continue
		}
		// The error event carries a string under "message"; don't force it
		// into the MessageDTO shape.
		if wantType == chat.EventError {
			return wsEvent{Type: ev.Type}
		}
		var full wsEvent
		if err := json.Unmarshal(data, &full); err != nil {
			t.Fatalf("decode %s: %v", wantType, err)
		}
		return full
	}
}

func writeEvent(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func TestWS_RejectsBadToken(t *testing.T) {
	engine, _, _ := newTestRouter(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	if _, _, err := websocket.DefaultDialer.Dial(u, nil); err == nil {
		t.Fatal("dial with bad token succeeded, want handshake failure")
	}
	u = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(u, nil); err == nil {
		t.Fatal("dial without token succeeded, want handshake failure")
	}
}

func TestWS_EndToEndDelivery(t *testing.T) {
	engine, gdb, cfg := newTestRouter(t)
	tokenA := seedUser(t, gdb, cfg, "u-alice", "alice")
	tokenB := seedUser(t, gdb, cfg, "u-bob", "bob")
	srv := httptest.NewServer(engine)
	defer srv.Close()

	connA := dialWS(t, srv.URL, tokenA)
	if users := waitFor(t, connA, chat.EventUsersList); len(users.Users) != 1 {
		t.Fatalf("users_list after A connects = %d users, want 1", len(users.Users))
	}

	connB := dialWS(t, srv.URL, tokenB)
	if users := waitFor(t, connA, chat.EventUsersList); len(users.Users) != 2 {
		t.Fatalf("users_list after B connects = %d users, want 2", len(users.Users))
	}

	writeEvent(t, connA, map[string]any{"type": "send_message", "recipient_id": "u-bob", "content": "hello"})

	// A sees the echo with the pre-delivery status.
	echo := waitFor(t, connA, chat.EventReceiveMessage)
	if echo.Message == nil || echo.Message.Content != "hello" || echo.Message.Status != "sent" {
		t.Fatalf("echo = %+v, want content hello with status sent", echo.Message)
	}

	// B receives the message.
	got := waitFor(t, connB, chat.EventReceiveMessage)
	if got.Message == nil || got.Message.Content != "hello" || got.Message.SenderID != "u-alice" {
		t.Fatalf("recipient frame = %+v", got.Message)
	}

	// A is told it was delivered.
	st := waitFor(t, connA, chat.EventMessageStatus)
	if st.MessageID != echo.Message.ID || st.Status != "delivered" {
		t.Fatalf("status frame = %+v, want delivered for %d", st, echo.Message.ID)
	}

	// B acknowledges the read; A gets exactly that transition.
	writeEvent(t, connB, map[string]any{"type": "message_read", "message_id": got.Message.ID})
	st = waitFor(t, connA, chat.EventMessageStatus)
	if st.MessageID != got.Message.ID || st.Status != "read" {
		t.Fatalf("status frame = %+v, want read for %d", st, got.Message.ID)
	}
}

func TestWS_OfflineRecipientReconciledByHistory(t *testing.T) {
	engine, gdb, cfg := newTestRouter(t)
	tokenA := seedUser(t, gdb, cfg, "u-alice", "alice")
	tokenB := seedUser(t, gdb, cfg, "u-bob", "bob")
	srv := httptest.NewServer(engine)
	defer srv.Close()

	connA := dialWS(t, srv.URL, tokenA)
	waitFor(t, connA, chat.EventUsersList)

	// Bob is offline: the message parks as pending.
	writeEvent(t, connA, map[string]any{"type": "send_message", "recipient_id": "u-bob", "content": "are you there"})
	echo := waitFor(t, connA, chat.EventReceiveMessage)
	if echo.Message.Status != "pending" {
		t.Fatalf("echo status = %s, want pending", echo.Message.Status)
	}

	// Bob connects and pulls the conversation; the fetch transitions the
	// message to read and notifies alice.
	connB := dialWS(t, srv.URL, tokenB)
	writeEvent(t, connB, map[string]any{"type": "get_chat_history", "peer_id": "u-alice"})

	hist := waitFor(t, connB, chat.EventReceiveMessage)
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "are you there" {
		t.Fatalf("history = %+v, want the pending message", hist.Messages)
	}
	if hist.Messages[0].Status != "read" {
		t.Errorf("history status = %s, want read", hist.Messages[0].Status)
	}

	st := waitFor(t, connA, chat.EventMessageStatus)
	if st.MessageID != echo.Message.ID || st.Status != "read" {
		t.Fatalf("status frame = %+v, want read for %d", st, echo.Message.ID)
	}
}

func TestWS_Broadcast(t *testing.T) {
	engine, gdb, cfg := newTestRouter(t)
	tokenA := seedUser(t, gdb, cfg, "u-alice", "alice")
	tokenB := seedUser(t, gdb, cfg, "u-bob", "bob")
	srv := httptest.NewServer(engine)
	defer srv.Close()

	connA := dialWS(t, srv.URL, tokenA)
	connB := dialWS(t, srv.URL, tokenB)
	waitFor(t, connB, chat.EventUsersList)

	writeEvent(t, connA, map[string]any{"type": "broadcast_message", "content": "hi everyone"})

	for name, conn := range map[string]*websocket.Conn{"sender": connA, "peer": connB} {
		got := waitFor(t, conn, chat.EventReceiveMessage)
		if got.Message == nil || got.Message.Content != "hi everyone" {
			t.Fatalf("%s frame = %+v", name, got.Message)
		}
		if got.Message.RecipientID != nil {
			t.Errorf("%s broadcast recipient = %v, want nil", name, got.Message.RecipientID)
		}
		if got.Message.Status != "sent" {
			t.Errorf("%s broadcast status = %s, want sent", name, got.Message.Status)
		}
	}
}

func TestWS_InvalidSendReportsError(t *testing.T) {
	engine, gdb, cfg := newTestRouter(t)
	tokenA := seedUser(t, gdb, cfg, "u-alice", "alice")
	srv := httptest.NewServer(engine)
	defer srv.Close()

	connA := dialWS(t, srv.URL, tokenA)
	waitFor(t, connA, chat.EventUsersList)

	writeEvent(t, connA, map[string]any{"type": "send_message", "recipient_id": "u-bob", "content": ""})
	if ev := waitFor(t, connA, chat.EventError); ev.Type != chat.EventError {
		t.Fatalf("expected error event, got %+v", ev)
	}

	writeEvent(t, connA, map[string]any{"type": "no_such_event"})
	if ev := waitFor(t, connA, chat.EventError); ev.Type != chat.EventError {
		t.Fatalf("expected error event for unknown type, got %+v", ev)
	}
}
