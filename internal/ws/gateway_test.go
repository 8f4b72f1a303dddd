package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/registry"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/testutil"
)

type wireMessage struct {
	Type   string   `json:"type"`
	Code   string   `json:"code"`
	Users  []string `json:"users"`
	Sender string   `json:"sender"`
	Text   string   `json:"text"`
}

func setupGateway(t *testing.T, cfg Config, regCfg registry.Config) (*Gateway, *registry.Registry, *httptest.Server) {
	t.Helper()

	reg := registry.New(regCfg, nil, nil, nil)
	gw := NewGateway(reg, cfg, nil, nil)
	srv := httptest.NewServer(gw)

	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return gw, reg, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial %s failed (status %d): %v", path, status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

// frames reads conn in the background, answering pings as it goes. The
// channel closes when the connection ends.
func frames(conn *websocket.Conn) <-chan wireMessage {
	out := make(chan wireMessage, 64)
	conn.SetReadDeadline(time.Time{})
	go func() {
		defer close(out)
		for {
			var msg wireMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			out <- msg
		}
	}()
	return out
}

func requireEnded(t *testing.T, ch <-chan wireMessage, timeout time.Duration, what string) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("timed out after %v: %s", timeout, what)
		}
	}
}

func expectUsers(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected users %v, got %v", want, got)
	}
}

func TestRoomScenario(t *testing.T) {
	_, reg, srv := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	initA := read(t, a)
	if initA.Type != "init" || initA.Code != "" {
		t.Fatalf("Expected empty init, got %+v", initA)
	}
	expectUsers(t, initA.Users, "A")

	b := dial(t, srv, "/ws/R1?name=B")
	presence := read(t, a)
	if presence.Type != "presence" {
		t.Fatalf("Expected presence for A, got %+v", presence)
	}
	expectUsers(t, presence.Users, "A", "B")

	initB := read(t, b)
	if initB.Type != "init" || initB.Code != "" {
		t.Fatalf("Expected empty init for B, got %+v", initB)
	}
	expectUsers(t, initB.Users, "A", "B")

	send(t, a, `{"type":"update","code":"x=1"}`)
	update := read(t, b)
	if update.Type != "update" || update.Code != "x=1" {
		t.Fatalf("Expected update x=1 for B, got %+v", update)
	}

	send(t, b, `{"type":"chat","text":"hi"}`)

	// A's next frame is B's chat: its own update was not echoed
	chat := read(t, a)
	if chat.Type != "chat" || chat.Sender != "B" || chat.Text != "hi" {
		t.Fatalf("Expected chat from B, got %+v", chat)
	}

	actor, ok := reg.Lookup("R1")
	if !ok {
		t.Fatal("Room R1 should exist")
	}
	snap, err := actor.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Code != "x=1" {
		t.Errorf("Expected room code x=1, got %q", snap.Code)
	}
}

func TestMalformedFramesKeepConnection(t *testing.T) {
	_, reg, srv := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)
	b := dial(t, srv, "/ws/R1?name=B")
	read(t, a)
	read(t, b)

	send(t, a, `not json`)
	send(t, a, `{"type":"update"}`)
	send(t, a, `{"type":"cursor","pos":4}`)
	send(t, a, `{"type":"init","code":"hijack","users":[]}`)
	send(t, a, `{"type":"update","code":"y=2"}`)

	update := read(t, b)
	if update.Type != "update" || update.Code != "y=2" {
		t.Fatalf("Expected only the valid update to reach B, got %+v", update)
	}

	actor, _ := reg.Lookup("R1")
	snap, _ := actor.Snapshot(context.Background())
	if snap.Code != "y=2" {
		t.Errorf("Expected code y=2, got %q", snap.Code)
	}
	expectUsers(t, snap.Users, "A", "B")
}

func TestDisconnectBroadcastsPresenceOnce(t *testing.T) {
	gw, _, srv := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)
	b := dial(t, srv, "/ws/R1?name=B")
	read(t, a)
	read(t, b)

	b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.Close()

	presence := read(t, a)
	if presence.Type != "presence" {
		t.Fatalf("Expected presence after disconnect, got %+v", presence)
	}
	expectUsers(t, presence.Users, "A")

	// The next frame A sees comes from a new joiner, not a duplicate presence
	c := dial(t, srv, "/ws/R1?name=C")
	read(t, c)
	next := read(t, a)
	expectUsers(t, next.Users, "A", "C")

	deadline := time.Now().Add(2 * time.Second)
	for gw.ActiveConnections() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 active connections, got %d", gw.ActiveConnections())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSilentPeerIsDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PongWait = 400 * time.Millisecond
	gw, _, srv := setupGateway(t, cfg, registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)
	b := dial(t, srv, "/ws/R1?name=B")
	read(t, a)
	read(t, b)

	// B keeps reading but never answers a ping
	b.SetPingHandler(func(string) error { return nil })
	fromA := frames(a)
	fromB := frames(b)

	presence := testutil.RequireReceive(t, fromA, 3*time.Second, "waiting for B to be dropped")
	if presence.Type != "presence" {
		t.Fatalf("Expected presence, got %+v", presence)
	}
	expectUsers(t, presence.Users, "A")

	requireEnded(t, fromB, 2*time.Second, "waiting for B's connection to close")

	// A answers pings, so it stays and sees no second presence
	testutil.RequireNoReceive(t, fromA, 2*cfg.PongWait, "duplicate presence after idle drop")

	deadline := time.Now().Add(2 * time.Second)
	for gw.ActiveConnections() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 active connection, got %d", gw.ActiveConnections())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFloodingPeerIsDisconnected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 1
	cfg.MessageBurst = 1
	cfg.MaxViolations = 3
	_, reg, srv := setupGateway(t, cfg, registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)
	b := dial(t, srv, "/ws/R1?name=B")
	read(t, a)
	read(t, b)

	fromA := frames(a)
	fromB := frames(b)

	// Later writes may hit a socket the server already closed
	for i := 0; i < 10; i++ {
		b.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","text":"spam"}`))
	}

	chat := testutil.RequireReceive(t, fromA, 2*time.Second, "waiting for the one allowed chat")
	if chat.Type != "chat" || chat.Sender != "B" || chat.Text != "spam" {
		t.Fatalf("Expected a single chat from B, got %+v", chat)
	}

	presence := testutil.RequireReceive(t, fromA, 2*time.Second, "waiting for B to be removed")
	if presence.Type != "presence" {
		t.Fatalf("Expected presence after flood, got %+v", presence)
	}
	expectUsers(t, presence.Users, "A")

	requireEnded(t, fromB, 2*time.Second, "waiting for B's connection to close")
	testutil.RequireNoReceive(t, fromA, 200*time.Millisecond, "frames after B was removed")

	actor, _ := reg.Lookup("R1")
	history, err := actor.ChatLog(context.Background())
	if err != nil {
		t.Fatalf("ChatLog failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 chat kept, got %d", len(history))
	}
}

func TestLateJoinerGetsCodeButNoChat(t *testing.T) {
	_, _, srv := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)
	send(t, a, `{"type":"update","code":"print(1)"}`)
	send(t, a, `{"type":"chat","text":"before you came"}`)

	// Let the actor process both frames before the next join
	time.Sleep(50 * time.Millisecond)

	b := dial(t, srv, "/ws/R1?name=B")
	initB := read(t, b)
	if initB.Type != "init" || initB.Code != "print(1)" {
		t.Fatalf("Expected init with current code, got %+v", initB)
	}

	send(t, a, `{"type":"chat","text":"after"}`)
	chat := read(t, b)
	if chat.Type != "chat" || chat.Text != "after" {
		t.Errorf("Expected only post-join chat, got %+v", chat)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	_, _, srv := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)
	other := dial(t, srv, "/ws/R2?name=Z")
	initZ := read(t, other)
	expectUsers(t, initZ.Users, "Z")

	b := dial(t, srv, "/ws/R1?name=B")
	read(t, b)
	read(t, a)

	send(t, other, `{"type":"update","code":"r2"}`)
	send(t, b, `{"type":"update","code":"r1"}`)

	update := read(t, a)
	if update.Code != "r1" {
		t.Errorf("Expected only R1 traffic, got %+v", update)
	}
}

func TestQueryParameterRoom(t *testing.T) {
	_, reg, srv := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	conn := dial(t, srv, "/ws?room=legacy&name=%20%20")
	initMsg := read(t, conn)
	expectUsers(t, initMsg.Users, DefaultDisplayName)

	if _, ok := reg.Lookup("legacy"); !ok {
		t.Error("Room from query parameter should exist")
	}
}

func TestMissingRoomID(t *testing.T) {
	gw, _, _ := setupGateway(t, DefaultConfig(), registry.DefaultConfig())

	req := httptest.NewRequest("GET", "/ws/", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestConnectionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	_, _, srv := setupGateway(t, cfg, registry.DefaultConfig())

	first := dial(t, srv, "/ws/R1?name=A")
	read(t, first)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/R1?name=B"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Second connection should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %v", resp)
	}
}

func TestRoomLimitClosesWithTryAgainLater(t *testing.T) {
	regCfg := registry.DefaultConfig()
	regCfg.MaxRooms = 1
	_, _, srv := setupGateway(t, DefaultConfig(), regCfg)

	a := dial(t, srv, "/ws/R1?name=A")
	read(t, a)

	b := dial(t, srv, "/ws/R2?name=B")
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := b.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("Expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseTryAgainLater {
		t.Errorf("Expected close code %d, got %d", websocket.CloseTryAgainLater, closeErr.Code)
	}
}

func TestOriginCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://localhost:5173"}
	_, _, srv := setupGateway(t, cfg, registry.DefaultConfig())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/R1?name=A"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Foreign origin should be rejected")
	}

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Allowed origin should connect: %v", err)
	}
	conn.Close()
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Ada", "Ada"},
		{"  Ada  ", "Ada"},
		{"", DefaultDisplayName},
		{"   ", DefaultDisplayName},
		{strings.Repeat("é", 70), strings.Repeat("é", maxDisplayNameLen)},
	}

	for _, tt := range tests {
		if got := DisplayName(tt.raw); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestRoomIDFromRequest(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/ws/abc-123", "abc-123"},
		{"/ws/abc-123/", "abc-123"},
		{"/ws?room=q", "q"},
		{"/ws/", ""},
		{"/ws/a/b", ""},
		{"/ws/" + strings.Repeat("x", 129), ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.target, nil)
		if got := RoomIDFromRequest(req); got != tt.want {
			t.Errorf("RoomIDFromRequest(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
