package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EnginePacketType is the first byte of every Engine.IO text frame.
type EnginePacketType byte

// SocketPacketType is the first byte of a Socket.IO packet carried by an
// Engine.IO message.
type SocketPacketType byte

const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
	EngineUpgrade EnginePacketType = '5'
	EngineNoop    EnginePacketType = '6'
)

const (
	SocketConnect    SocketPacketType = '0'
	SocketDisconnect SocketPacketType = '1'
	SocketEvent      SocketPacketType = '2'
	SocketAck        SocketPacketType = '3'
	SocketError      SocketPacketType = '4'
)

const defaultNamespace = "/"

var errEmptyPacket = errors.New("empty packet")

// Packet is one decoded text frame.
type Packet struct {
	Engine    EnginePacketType
	Socket    SocketPacketType // Only set when Engine == EngineMessage
	Namespace string           // "/" unless the packet names one
	AckID     string           // Digits between namespace and data, if any
	Data      string           // Remaining payload, usually JSON
}

// OpenPayload is the body of the Engine.IO open packet.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
	MaxPayload   int      `json:"maxPayload"`
}

// Liveness is how long the connection may stay silent before the server is
// considered gone: one ping interval plus the ping timeout.
func (o OpenPayload) Liveness() time.Duration {
	return time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
}

// ParsePacket decodes a text frame into its Engine.IO and Socket.IO parts.
func ParsePacket(raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return Packet{}, errEmptyPacket
	}

	pkt := Packet{Engine: EnginePacketType(raw[0]), Namespace: defaultNamespace}
	if pkt.Engine < EngineOpen || pkt.Engine > EngineNoop {
		return Packet{}, fmt.Errorf("unknown engine packet type %q", raw[0])
	}
	if pkt.Engine != EngineMessage {
		pkt.Data = string(raw[1:])
		return pkt, nil
	}

	rest := string(raw[1:])
	if rest == "" {
		return Packet{}, fmt.Errorf("message packet: %w", errEmptyPacket)
	}
	pkt.Socket = SocketPacketType(rest[0])
	if pkt.Socket < SocketConnect || pkt.Socket > '6' {
		return Packet{}, fmt.Errorf("unknown socket packet type %q", rest[0])
	}
	rest = rest[1:]

	if strings.HasPrefix(rest, "/") {
		idx := strings.Index(rest, ",")
		if idx == -1 {
			pkt.Namespace = rest
			return pkt, nil
		}
		pkt.Namespace = rest[:idx]
		rest = rest[idx+1:]
	}

	idx := 0
	for idx < len(rest) && rest[idx] >= '0' && rest[idx] <= '9' {
		idx++
	}
	pkt.AckID = rest[:idx]
	pkt.Data = rest[idx:]
	return pkt, nil
}

// ParseEvent splits an event packet body into its name and first argument.
// A missing argument decodes as JSON null.
func ParseEvent(data string) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return "", nil, fmt.Errorf("event body: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("event body: missing name")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name: %w", err)
	}
	if len(args) < 2 {
		return name, json.RawMessage("null"), nil
	}
	return name, args[1], nil
}

// EncodeEvent builds a 42 frame. A nil payload sends the event name alone.
func EncodeEvent(namespace, event string, payload any) ([]byte, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return socketFrame(SocketEvent, namespace, body), nil
}

// EncodeConnect builds the 40 frame that joins a namespace.
func EncodeConnect(namespace string) []byte {
	return socketFrame(SocketConnect, namespace, nil)
}

// EncodeDisconnect builds the 41 frame that leaves a namespace.
func EncodeDisconnect(namespace string) []byte {
	return socketFrame(SocketDisconnect, namespace, nil)
}

func socketFrame(kind SocketPacketType, namespace string, body []byte) []byte {
	frame := []byte{byte(EngineMessage), byte(kind)}
	if namespace != "" && namespace != defaultNamespace {
		frame = append(frame, namespace...)
		frame = append(frame, ',')
	}
	return append(frame, body...)
}

// SocketURL turns a server address into the WebSocket endpoint of the
// Socket.IO server mounted at path.
func SocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}

	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
