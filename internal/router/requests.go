package router

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/model"
)

// pendingRequest is an emit awaiting its acknowledgment.
type pendingRequest struct {
	id     string
	ack    string
	sentAt time.Time
	done   chan outcome // Buffered(1), written exactly once
}

// maxAbandoned bounds the answered-late markers kept per ack event for
// servers that never answer a timed out request.
const maxAbandoned = 64

type outcome struct {
	data json.RawMessage
	err  error
}

// BroadcastDisasterAlert sends an alert for fan-out and returns the server's
// delivery report.
func (r *Router) BroadcastDisasterAlert(ctx context.Context, alert model.DisasterAlert) (model.BroadcastResult, error) {
	data, err := r.request(ctx, exchangeBroadcast, alert, r.cfg.RequestTimeout)
	if err != nil {
		return model.BroadcastResult{}, err
	}
	return model.DecodeBroadcastResult(data), nil
}

// SendSOSAlert raises an SOS and returns the server's acknowledgment.
func (r *Router) SendSOSAlert(ctx context.Context, sos model.SOSAlert) (model.Ack, error) {
	data, err := r.request(ctx, exchangeSOS, sos, r.cfg.RequestTimeout)
	if err != nil {
		return model.Ack{}, err
	}
	return model.DecodeAck(data), nil
}

// SubmitIncidentReport files a report and returns the server's acknowledgment.
func (r *Router) SubmitIncidentReport(ctx context.Context, report model.IncidentReport) (model.Ack, error) {
	data, err := r.request(ctx, exchangeReport, report, r.cfg.RequestTimeout)
	if err != nil {
		return model.Ack{}, err
	}
	return model.DecodeAck(data), nil
}

// Ping measures the round trip to the server.
func (r *Router) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := r.request(ctx, exchangePing, nil, r.cfg.PingTimeout); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// AcknowledgeAlert confirms receipt of an alert. Best effort.
func (r *Router) AcknowledgeAlert(alertID, userID string) {
	r.send(model.EmitAcknowledgeAlert, model.AlertAcknowledgement{
		AlertID:   alertID,
		UserID:    userID,
		Timestamp: model.Now(),
	})
}

// SendLocation shares a live position. Best effort.
func (r *Router) SendLocation(loc model.LocationUpdate) {
	r.send(model.EmitCitizenLocation, loc)
}

// RequestAllLocations asks the server for every known citizen position. The
// answer arrives through OnAllLocations. Best effort.
func (r *Router) RequestAllLocations() {
	r.send(model.EmitRequestLocations, nil)
}

// FailPending rejects every in-flight request with err.
func (r *Router) FailPending(err error) {
	r.pendingMu.Lock()
	failed := make([]*pendingRequest, 0, len(r.pending))
	for _, p := range r.pending {
		failed = append(failed, p)
	}
	clear(r.pending)
	clear(r.waiting)
	clear(r.abandoned)
	r.pendingMu.Unlock()

	for _, p := range failed {
		p.done <- outcome{err: err}
	}
	if len(failed) > 0 {
		r.logger.Debug("rejected pending requests", "count", len(failed), "error", err)
	}
}

// send emits without waiting for an answer.
func (r *Router) send(event string, payload any) {
	if !r.conn.IsConnected() {
		r.dropped.Add(1)
		r.logger.Warn("dropping emit while disconnected", "event", event)
		return
	}
	if err := r.conn.Emit(event, payload); err != nil {
		r.dropped.Add(1)
		r.logger.Warn("emit failed", "event", event, "error", err)
	}
}

// request emits ex.emit and waits for one ex.ack. The pending entry is
// removed before any outcome is reported, so a late ack cannot resolve a
// request that already failed.
func (r *Router) request(ctx context.Context, ex exchange, payload any, timeout time.Duration) (json.RawMessage, error) {
	if !r.conn.IsConnected() {
		return nil, connection.ErrNotConnected
	}

	id := uuid.NewString()
	body, err := withRequestID(payload, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ex.emit, err)
	}

	p := r.addPending(id, ex.ack)
	if err := r.conn.Emit(ex.emit, body); err != nil {
		r.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		return out.data, out.err
	case <-timer.C:
		if r.abandon(id) {
			r.timeouts.Add(1)
			r.logger.Warn("request timed out", "event", ex.emit, "request_id", id, "timeout", timeout)
			return nil, fmt.Errorf("%s: %w", ex.emit, connection.ErrTimeout)
		}
	case <-ctx.Done():
		if r.abandon(id) {
			return nil, ctx.Err()
		}
	}

	// Resolved concurrently with the timer or cancellation
	out := <-p.done
	return out.data, out.err
}

// resolve completes the request an ack belongs to. Acks that echo a
// requestId match exactly. Acks without one (pong included) cannot be
// correlated, so they are matched to emissions in order: the oldest request
// still awaiting that event takes it. A request that timed out or was
// cancelled keeps its place in that order, and the id-less ack that reaches
// it is dropped as late instead of resolving the request behind it.
func (r *Router) resolve(event string, data json.RawMessage) {
	var echo struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(data, &echo)

	r.pendingMu.Lock()
	id := echo.RequestID
	if id == "" {
		if queue := r.waiting[event]; len(queue) > 0 {
			id = queue[0]
		}
	}
	if r.abandoned[id] {
		delete(r.abandoned, id)
		r.dequeue(event, id)
	}
	p, ok := r.pending[id]
	if ok && p.ack == event {
		r.forget(p)
	} else {
		ok = false
	}
	r.pendingMu.Unlock()

	if !ok {
		r.lateAcks.Add(1)
		r.logger.Debug("dropping unmatched ack", "event", event, "request_id", id)
		return
	}

	r.acks.Add(1)
	r.logger.Debug("request acknowledged", "event", event, "request_id", p.id, "latency", time.Since(p.sentAt))
	p.done <- outcome{data: data}
}

func (r *Router) addPending(id, ack string) *pendingRequest {
	p := &pendingRequest{
		id:     id,
		ack:    ack,
		sentAt: time.Now(),
		done:   make(chan outcome, 1),
	}

	r.pendingMu.Lock()
	r.pending[id] = p
	r.waiting[ack] = append(r.waiting[ack], id)
	r.pendingMu.Unlock()
	return p
}

// removePending reports whether the request was still pending.
func (r *Router) removePending(id string) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	p, ok := r.pending[id]
	if ok {
		r.forget(p)
	}
	return ok
}

// abandon stops waiting for a request that was emitted. It keeps the
// request's place in the waiting order so its late id-less ack is absorbed.
// Reports whether the request was still pending.
func (r *Router) abandon(id string) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	r.abandoned[id] = true

	// Oldest markers go first once the bound is hit
	var marked []string
	for _, queued := range r.waiting[p.ack] {
		if r.abandoned[queued] {
			marked = append(marked, queued)
		}
	}
	for len(marked) > maxAbandoned {
		delete(r.abandoned, marked[0])
		r.dequeue(p.ack, marked[0])
		marked = marked[1:]
	}
	return true
}

// forget drops p from both indexes. Must be called with pendingMu held.
func (r *Router) forget(p *pendingRequest) {
	delete(r.pending, p.id)
	r.dequeue(p.ack, p.id)
}

// dequeue removes id from the waiting order of event. Must be called with
// pendingMu held.
func (r *Router) dequeue(event, id string) {
	queue := slices.DeleteFunc(r.waiting[event], func(queued string) bool { return queued == id })
	if len(queue) == 0 {
		delete(r.waiting, event)
		return
	}
	r.waiting[event] = queue
}

// withRequestID adds a requestId field to object payloads. Other payloads,
// including none, are sent unchanged.
func withRequestID(payload any, id string) (any, error) {
	if payload == nil {
		return nil, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return json.RawMessage(raw), nil
	}

	idJSON, _ := json.Marshal(id)
	fields["requestId"] = idJSON
	return fields, nil
}
