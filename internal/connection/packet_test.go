package connection

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		wantEngine EnginePacketType
		wantSocket SocketPacketType
		wantNS     string
		wantAckID  string
		wantData   string
	}{
		{name: "empty", raw: "", wantErr: true},
		{name: "invalid engine byte", raw: "x", wantErr: true},
		{name: "open", raw: `0{"sid":"a"}`, wantEngine: EngineOpen, wantNS: "/", wantData: `{"sid":"a"}`},
		{name: "ping", raw: "2", wantEngine: EnginePing, wantNS: "/"},
		{name: "close", raw: "1", wantEngine: EngineClose, wantNS: "/"},
		{name: "bare message", raw: "4", wantErr: true},
		{name: "connect root", raw: `40{"sid":"s1"}`, wantEngine: EngineMessage, wantSocket: SocketConnect, wantNS: "/", wantData: `{"sid":"s1"}`},
		{name: "connect ns no comma", raw: "40/relay", wantEngine: EngineMessage, wantSocket: SocketConnect, wantNS: "/relay"},
		{name: "disconnect", raw: "41", wantEngine: EngineMessage, wantSocket: SocketDisconnect, wantNS: "/"},
		{name: "event root", raw: `42["pong"]`, wantEngine: EngineMessage, wantSocket: SocketEvent, wantNS: "/", wantData: `["pong"]`},
		{name: "event ns", raw: `42/relay,["sos-alert",{}]`, wantEngine: EngineMessage, wantSocket: SocketEvent, wantNS: "/relay", wantData: `["sos-alert",{}]`},
		{name: "event with ack id", raw: `4217["ping"]`, wantEngine: EngineMessage, wantSocket: SocketEvent, wantNS: "/", wantAckID: "17", wantData: `["ping"]`},
		{name: "connect error", raw: `44{"message":"nope"}`, wantEngine: EngineMessage, wantSocket: SocketError, wantNS: "/", wantData: `{"message":"nope"}`},
		{name: "invalid socket byte", raw: "4x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePacket([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePacket(%q) expected error, got %+v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePacket(%q) error = %v", tt.raw, err)
			}
			if got.Engine != tt.wantEngine {
				t.Errorf("Engine = %q, want %q", got.Engine, tt.wantEngine)
			}
			if got.Socket != tt.wantSocket {
				t.Errorf("Socket = %q, want %q", got.Socket, tt.wantSocket)
			}
			if got.Namespace != tt.wantNS {
				t.Errorf("Namespace = %q, want %q", got.Namespace, tt.wantNS)
			}
			if got.AckID != tt.wantAckID {
				t.Errorf("AckID = %q, want %q", got.AckID, tt.wantAckID)
			}
			if got.Data != tt.wantData {
				t.Errorf("Data = %q, want %q", got.Data, tt.wantData)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantName string
		wantData string
		wantErr  bool
	}{
		{name: "with payload", data: `["disaster-alert",{"title":"Flood"}]`, wantName: "disaster-alert", wantData: `{"title":"Flood"}`},
		{name: "no payload", data: `["pong"]`, wantName: "pong", wantData: "null"},
		{name: "array payload", data: `["official:all:locations",[{"userId":"u1"}]]`, wantName: "official:all:locations", wantData: `[{"userId":"u1"}]`},
		{name: "extra args ignored", data: `["sos-alert",{"id":"1"},"x"]`, wantName: "sos-alert", wantData: `{"id":"1"}`},
		{name: "empty array", data: `[]`, wantErr: true},
		{name: "not an array", data: `{"a":1}`, wantErr: true},
		{name: "non-string name", data: `[1,{}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, data, err := ParseEvent(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEvent(%q) expected error", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEvent(%q) error = %v", tt.data, err)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if string(data) != tt.wantData {
				t.Errorf("data = %s, want %s", data, tt.wantData)
			}
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		event     string
		payload   any
		want      string
	}{
		{name: "no payload", namespace: "/", event: "ping", want: `42["ping"]`},
		{name: "object payload", namespace: "/", event: "send-sos", payload: map[string]string{"userId": "u1"}, want: `42["send-sos",{"userId":"u1"}]`},
		{name: "custom namespace", namespace: "/relay", event: "ping", want: `42/relay,["ping"]`},
		{name: "empty namespace is root", namespace: "", event: "ping", want: `42["ping"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeEvent(tt.namespace, tt.event, tt.payload)
			if err != nil {
				t.Fatalf("EncodeEvent error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeEvent = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeEvent_Unmarshalable(t *testing.T) {
	if _, err := EncodeEvent("/", "bad", make(chan int)); err == nil {
		t.Error("expected error for unmarshalable payload")
	}
}

func TestEncodeConnectDisconnect(t *testing.T) {
	if got := string(EncodeConnect("/")); got != "40" {
		t.Errorf("EncodeConnect(/) = %q, want 40", got)
	}
	if got := string(EncodeConnect("/relay")); got != "40/relay," {
		t.Errorf("EncodeConnect(/relay) = %q, want 40/relay,", got)
	}
	if got := string(EncodeDisconnect("/")); got != "41" {
		t.Errorf("EncodeDisconnect(/) = %q, want 41", got)
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "http", base: "http://localhost:3000", path: "/socket.io/", want: "ws://localhost:3000/socket.io/?EIO=4&transport=websocket"},
		{name: "https", base: "https://relief.example.org", path: "", want: "wss://relief.example.org/socket.io/?EIO=4&transport=websocket"},
		{name: "ws passthrough", base: "ws://10.0.0.5:8080", path: "/socket.io/", want: "ws://10.0.0.5:8080/socket.io/?EIO=4&transport=websocket"},
		{name: "base path kept", base: "https://example.org/api/", path: "rt", want: "wss://example.org/api/rt/?EIO=4&transport=websocket"},
		{name: "bad scheme", base: "ftp://example.org", wantErr: true},
		{name: "no host", base: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SocketURL(tt.base, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SocketURL(%q) expected error, got %q", tt.base, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SocketURL(%q) error = %v", tt.base, err)
			}
			if got != tt.want {
				t.Errorf("SocketURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenPayload_Liveness(t *testing.T) {
	var open OpenPayload
	if err := json.Unmarshal([]byte(`{"sid":"x","pingInterval":25000,"pingTimeout":20000}`), &open); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := open.Liveness(); got != 45*time.Second {
		t.Errorf("Liveness() = %v, want 45s", got)
	}
}
