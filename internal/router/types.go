package router

import (
	"errors"
	"time"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Conn is the live channel the router emits on and reads from.
// connection.Manager satisfies it.
type Conn interface {
	IsConnected() bool
	Emit(event string, payload any) error
	Messages() <-chan connection.InboundEvent
}

// Unsubscribe removes one listener. Calling it more than once is a no-op.
type Unsubscribe func()

// Config holds configuration for the Event Router.
type Config struct {
	RequestTimeout time.Duration // Ack window for alert, SOS and report requests. Default: 5s
	PingTimeout    time.Duration // Ack window for ping. Default: 3s
	FeedBufferSize int           // Initial event feed capacity, 0 disables the feed
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 5 * time.Second,
		PingTimeout:    3 * time.Second,
		FeedBufferSize: 0,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	EventsReceived   int64 // Inbound events read from the channel
	EventsDispatched int64 // Listener invocations
	AcksMatched      int64 // Acks that resolved a pending request
	LateAcks         int64 // Acks with no pending request
	UnknownEvents    int64 // Events with no route
	ParseErrors      int64 // Payloads that only partly decoded for typed listeners
	Timeouts         int64 // Requests that expired
	DroppedSends     int64 // Fire-and-forget sends dropped while disconnected
	Pending          int   // Requests awaiting an ack
	Listeners        int   // Registered listeners across all events
	Feed             QueueStats
}

// exchange is a request/response pair of wire events.
type exchange struct {
	emit string
	ack  string
}

var (
	exchangeBroadcast = exchange{emit: model.EmitBroadcastAlert, ack: model.EventAlertBroadcasted}
	exchangeSOS       = exchange{emit: model.EmitSendSOS, ack: model.EventSOSSent}
	exchangeReport    = exchange{emit: model.EmitReportIncident, ack: model.EventReportSubmitted}
	exchangePing      = exchange{emit: model.EmitPing, ack: model.EventPong}
)

// ackEvents are the server events that answer a request.
var ackEvents = map[string]bool{
	exchangeBroadcast.ack: true,
	exchangeSOS.ack:       true,
	exchangeReport.ack:    true,
	exchangePing.ack:      true,
}
