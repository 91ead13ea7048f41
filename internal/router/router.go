package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
)

// Router maps inbound server events to listeners and correlates request
// acknowledgments. Listeners run on the routing goroutine in arrival order.
type Router struct {
	cfg    Config
	conn   Conn
	logger *slog.Logger

	// Optional structured stream of every subscribable event
	feed *Queue[model.Event]

	// Listeners
	subsMu    sync.RWMutex
	subs      map[string][]listener
	nextSubID uint64

	// Request/response correlation
	pendingMu sync.Mutex
	pending   map[string]*pendingRequest // requestId → request
	waiting   map[string][]string        // ack event → requestIds, oldest first
	abandoned map[string]bool            // requestIds that gave up but may still be answered

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	received    atomic.Int64
	dispatched  atomic.Int64
	acks        atomic.Int64
	lateAcks    atomic.Int64
	unknown     atomic.Int64
	parseErrors atomic.Int64
	timeouts    atomic.Int64
	dropped     atomic.Int64
}

// New creates a new Event Router reading from conn.
func New(cfg Config, conn Conn, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		subs:    make(map[string][]listener),
		pending: make(map[string]*pendingRequest),
		waiting: make(map[string][]string),

		abandoned: make(map[string]bool),
	}
	if cfg.FeedBufferSize > 0 {
		r.feed = NewQueue[model.Event](cfg.FeedBufferSize)
	}
	return r
}

// Start begins routing events.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("event router started",
		"request_timeout", r.cfg.RequestTimeout,
		"ping_timeout", r.cfg.PingTimeout,
		"feed", r.feed != nil,
	)

	return nil
}

// Stop gracefully shuts down the router and rejects pending requests.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping event router")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for goroutine to finish
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
	}

	r.FailPending(connection.ErrNotConnected)
	if r.feed != nil {
		r.feed.Close()
	}

	return nil
}

// Feed returns the structured event stream, or nil when disabled.
func (r *Router) Feed() *Queue[model.Event] {
	return r.feed
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.pendingMu.Lock()
	pending := len(r.pending)
	r.pendingMu.Unlock()

	r.subsMu.RLock()
	listeners := 0
	for _, ls := range r.subs {
		listeners += len(ls)
	}
	r.subsMu.RUnlock()

	stats := Stats{
		EventsReceived:   r.received.Load(),
		EventsDispatched: r.dispatched.Load(),
		AcksMatched:      r.acks.Load(),
		LateAcks:         r.lateAcks.Load(),
		UnknownEvents:    r.unknown.Load(),
		ParseErrors:      r.parseErrors.Load(),
		Timeouts:         r.timeouts.Load(),
		DroppedSends:     r.dropped.Load(),
		Pending:          pending,
		Listeners:        listeners,
	}
	if r.feed != nil {
		stats.Feed = r.feed.Stats()
	}
	return stats
}

// routeLoop is the main routing goroutine.
func (r *Router) routeLoop() {
	defer r.wg.Done()

	input := r.conn.Messages()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(msg)
		}
	}
}

// route handles a single inbound event.
func (r *Router) route(msg connection.InboundEvent) {
	r.received.Add(1)

	if ackEvents[msg.Name] {
		r.resolve(msg.Name, msg.Data)
		return
	}

	kind, ok := model.KindOf(msg.Name)
	if !ok {
		r.unknown.Add(1)
		r.logger.Debug("skipping unrouted event", "event", msg.Name)
		return
	}

	if r.feed != nil {
		r.feed.Push(model.Event{
			Kind:       kind,
			Name:       msg.Name,
			Payload:    msg.Data,
			ReceivedAt: msg.ReceivedAt,
		})
	}

	r.dispatch(msg.Name, msg.Data)
}

// dispatch invokes every listener of event with a snapshot of the listener
// list, so listeners may subscribe or unsubscribe while running.
func (r *Router) dispatch(event string, data json.RawMessage) {
	r.subsMu.RLock()
	ls := r.subs[event]
	r.subsMu.RUnlock()

	for _, l := range ls {
		r.invoke(event, l, data)
	}
}

func (r *Router) invoke(event string, l listener, data json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("listener panicked", "event", event, "panic", p)
		}
	}()

	r.dispatched.Add(1)
	l.fn(data)
}
