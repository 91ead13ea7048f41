package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testOpen = `{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
			t.Errorf("unexpected handshake query %q", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

// acceptHandshake plays the server side of the Engine.IO open and namespace
// join.
func acceptHandshake(conn *websocket.Conn, open string) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte("0"+open)); err != nil {
		return err
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if string(msg) != "40" {
		return fmt.Errorf("unexpected join frame %q", msg)
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"sock-1"}`))
}

// drain reads until the peer goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testClientConfig(server *httptest.Server) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = server.URL
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.BufferSize = 16
	return cfg
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := acceptHandshake(conn, testOpen); err != nil {
			t.Errorf("handshake: %v", err)
			return
		}
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}
	if client.SocketID() != "sock-1" {
		t.Errorf("SocketID() = %q, want sock-1", client.SocketID())
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}

	select {
	case err := <-client.Errors():
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("terminal error = %v, want ErrClientClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminal error")
	}
}

func TestClient_ConnectRejected(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("0"+testOpen))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`44{"message":"unauthorized"}`))
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	err := client.Connect(context.Background())
	var rejected *HandshakeError
	if !errors.As(err, &rejected) {
		t.Fatalf("Connect error = %v, want *HandshakeError", err)
	}
	if rejected.Message != "unauthorized" {
		t.Errorf("Message = %q, want unauthorized", rejected.Message)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false")
	}
}

func TestClient_ConnectTimeout(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Never send the open packet
		drain(conn)
	})
	defer server.Close()

	cfg := testClientConfig(server)
	cfg.HandshakeTimeout = 100 * time.Millisecond
	client := NewClient(cfg, nil)

	start := time.Now()
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected handshake timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect took %v, want about 100ms", elapsed)
	}
}

func TestClient_Emit(t *testing.T) {
	var received []string
	var mu sync.Mutex
	done := make(chan struct{})

	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := acceptHandshake(conn, testOpen); err != nil {
			t.Errorf("handshake: %v", err)
			return
		}
		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
		close(done)
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Emit("ping", nil); err != nil {
		t.Errorf("Emit(ping) failed: %v", err)
	}
	if err := client.Emit("send-sos", map[string]string{"userId": "u1"}); err != nil {
		t.Errorf("Emit(send-sos) failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frames")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{`42["ping"]`, `42["send-sos",{"userId":"u1"}]`}
	for i, w := range want {
		if received[i] != w {
			t.Errorf("frame %d = %s, want %s", i, received[i], w)
		}
	}
}

func TestClient_EmitNotConnected(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)

	if err := client.Emit("ping", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Emit error = %v, want ErrNotConnected", err)
	}
}

func TestClient_AnswersPing(t *testing.T) {
	pong := make(chan string, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := acceptHandshake(conn, testOpen); err != nil {
			t.Errorf("handshake: %v", err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("2"))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pong <- string(msg)
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case got := <-pong:
		if got != "3" {
			t.Errorf("heartbeat reply = %q, want 3", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pong")
	}
}

func TestClient_ReceivesEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := acceptHandshake(conn, testOpen); err != nil {
			t.Errorf("handshake: %v", err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`42["disaster-alert",{"title":"Flood"}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`42["pong"]`))
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	want := []InboundEvent{
		{Name: "disaster-alert", Data: []byte(`{"title":"Flood"}`)},
		{Name: "pong", Data: []byte("null")},
	}
	for _, w := range want {
		select {
		case msg := <-client.Messages():
			if msg.Name != w.Name || string(msg.Data) != string(w.Data) {
				t.Errorf("event = %s %s, want %s %s", msg.Name, msg.Data, w.Name, w.Data)
			}
			if msg.ReceivedAt.IsZero() {
				t.Error("expected ReceivedAt to be set")
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", w.Name)
		}
	}
}

func TestClient_ServerDisconnect(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "socket disconnect", frame: "41"},
		{name: "engine close", frame: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockWSServer(t, func(conn *websocket.Conn) {
				if err := acceptHandshake(conn, testOpen); err != nil {
					t.Errorf("handshake: %v", err)
					return
				}
				conn.WriteMessage(websocket.TextMessage, []byte(tt.frame))
				drain(conn)
			})
			defer server.Close()

			client := NewClient(testClientConfig(server), nil)
			if err := client.Connect(context.Background()); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			defer client.Close()

			select {
			case err := <-client.Errors():
				if !errors.Is(err, ErrServerClosed) {
					t.Errorf("terminal error = %v, want ErrServerClosed", err)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for terminal error")
			}

			if _, ok := <-client.Messages(); ok {
				t.Error("expected messages channel to be closed")
			}
			if client.IsConnected() {
				t.Error("expected IsConnected to return false")
			}
		})
	}
}

func TestClient_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		open := `{"sid":"eio-1","upgrades":[],"pingInterval":50,"pingTimeout":50,"maxPayload":1000000}`
		if err := acceptHandshake(conn, open); err != nil {
			t.Errorf("handshake: %v", err)
			return
		}
		// Stay silent past the liveness window
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("terminal error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stale detection")
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect error = %v, want ErrAlreadyClosed", err)
	}
}
