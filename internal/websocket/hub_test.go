package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zerolog.New(&bytes.Buffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zerolog.New(&bytes.Buffer{}))

	if hub == nil {
		t.Fatal("expected hub to be created")
	}

	if hub.sessions == nil {
		t.Error("expected sessions map to be initialized")
	}

	if hub.publish == nil {
		t.Error("expected publish channel to be initialized")
	}

	if hub.register == nil {
		t.Error("expected register channel to be initialized")
	}

	if hub.unregister == nil {
		t.Error("expected unregister channel to be initialized")
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)

	// Create mock client
	client := &Client{
		id:        "test-client",
		sessionID: "s1",
		hub:       hub,
		send:      make(chan []byte, 1),
	}

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}
	if hub.SessionClientCount("s1") != 1 {
		t.Errorf("expected 1 client for s1, got %d", hub.SessionClientCount("s1"))
	}

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubPublishRoutesBySession(t *testing.T) {
	hub := startHub(t)

	client1 := &Client{id: "client1", sessionID: "s1", hub: hub, send: make(chan []byte, 10)}
	client2 := &Client{id: "client2", sessionID: "s1", hub: hub, send: make(chan []byte, 10)}
	other := &Client{id: "other", sessionID: "s2", hub: hub, send: make(chan []byte, 10)}

	hub.register <- client1
	hub.register <- client2
	hub.register <- other
	time.Sleep(10 * time.Millisecond)

	hub.Publish("s1", map[string]string{"type": "state"})

	for _, c := range []*Client{client1, client2} {
		select {
		case msg := <-c.send:
			if string(msg) != `{"type":"state"}` {
				t.Errorf("%s expected state message, got %s", c.id, msg)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s did not receive message", c.id)
		}
	}

	select {
	case msg := <-other.send:
		t.Errorf("client of another session received %s", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := &Client{id: "slow", sessionID: "s1", hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	hub.Publish("s1", "first")
	hub.Publish("s1", "second")
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected slow client to be dropped, got %d clients", hub.ClientCount())
	}
}

func TestHubCloseSession(t *testing.T) {
	hub := startHub(t)

	client := &Client{id: "c", sessionID: "s1", hub: hub, send: make(chan []byte, 1)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.CloseSession("s1")
	time.Sleep(10 * time.Millisecond)

	if hub.SessionClientCount("s1") != 0 {
		t.Errorf("expected session clients to be closed, got %d", hub.SessionClientCount("s1"))
	}
}

type fakeSessions struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSessions) Connected(id string) ([]any, bool) {
	if id != "known" {
		return nil, false
	}
	return []any{map[string]string{"type": "state", "sessionId": id}}, true
}

func (f *fakeSessions) ClientMessage(_ string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, string(data))
}

func (f *fakeSessions) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PongWait:       time.Second,
		PingPeriod:     900 * time.Millisecond,
		WriteWait:      time.Second,
		MaxMessageSize: 512,
	}
}

func TestHandlerStreamsSessionMessages(t *testing.T) {
	hub := startHub(t)
	sessions := &fakeSessions{}
	server := httptest.NewServer(NewHandler(hub, sessions, testConfig(), zerolog.Nop()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?session=known"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read initial message: %v", err)
	}
	var initial map[string]string
	if err := json.Unmarshal(data, &initial); err != nil || initial["type"] != "state" {
		t.Errorf("expected initial state message, got %s", data)
	}

	// wait for registration before publishing
	deadline := time.Now().Add(time.Second)
	for hub.SessionClientCount("known") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish("known", map[string]string{"type": "notification"})

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read published message: %v", err)
	}
	if !strings.Contains(string(data), "notification") {
		t.Errorf("expected notification message, got %s", data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dismiss","eventId":"e1"}`)); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for len(sessions.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sessions.received(); len(got) != 1 || !strings.Contains(got[0], "dismiss") {
		t.Errorf("expected dismiss message to reach the session, got %v", got)
	}
}

func TestHandlerRejectsUnknownSession(t *testing.T) {
	hub := startHub(t)
	handler := NewHandler(hub, &fakeSessions{}, testConfig(), zerolog.Nop())

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing session", "/ws", http.StatusBadRequest},
		{"unknown session", "/ws?session=nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()), &fakeSessions{}, testConfig(), zerolog.Nop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://evil.example", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := handler.checkOrigin(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}
