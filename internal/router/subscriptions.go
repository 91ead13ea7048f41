package router

import (
	"encoding/json"

	"github.com/rickgao/disaster-relay/internal/model"
)

// listener is one registered callback for a server event.
type listener struct {
	id uint64
	fn func(json.RawMessage)
}

// OnDisasterAlert registers fn for disaster-alert. Registering the same
// function twice delivers each alert twice.
func (r *Router) OnDisasterAlert(fn func(model.DisasterAlert)) Unsubscribe {
	return r.subscribe(model.EventDisasterAlert, decoded(r, model.EventDisasterAlert, fn))
}

// OnSOSAlert registers fn for sos-alert.
func (r *Router) OnSOSAlert(fn func(model.SOSAlert)) Unsubscribe {
	return r.subscribe(model.EventSOSAlert, decoded(r, model.EventSOSAlert, fn))
}

// OnIncidentReport registers fn for new-incident-report.
func (r *Router) OnIncidentReport(fn func(model.IncidentReport)) Unsubscribe {
	return r.subscribe(model.EventNewIncident, decoded(r, model.EventNewIncident, fn))
}

// OnAlertAcknowledged registers fn for alert-acknowledged. The payload is
// passed through undecoded.
func (r *Router) OnAlertAcknowledged(fn func(json.RawMessage)) Unsubscribe {
	return r.subscribe(model.EventAlertAcknowledged, fn)
}

// OnCitizenLocation registers fn for citizen:location:update.
func (r *Router) OnCitizenLocation(fn func(model.LocationUpdate)) Unsubscribe {
	return r.subscribe(model.EventLocationUpdate, decoded(r, model.EventLocationUpdate, fn))
}

// OnAllLocations registers fn for official:all:locations.
func (r *Router) OnAllLocations(fn func([]model.LocationUpdate)) Unsubscribe {
	return r.subscribe(model.EventAllLocations, decoded(r, model.EventAllLocations, fn))
}

// OffDisasterAlert removes every disaster-alert listener.
func (r *Router) OffDisasterAlert() { r.clear(model.EventDisasterAlert) }

// OffSOSAlert removes every sos-alert listener.
func (r *Router) OffSOSAlert() { r.clear(model.EventSOSAlert) }

// OffIncidentReport removes every new-incident-report listener.
func (r *Router) OffIncidentReport() { r.clear(model.EventNewIncident) }

// OffAlertAcknowledged removes every alert-acknowledged listener.
func (r *Router) OffAlertAcknowledged() { r.clear(model.EventAlertAcknowledged) }

// OffCitizenLocation removes every citizen:location:update listener.
func (r *Router) OffCitizenLocation() { r.clear(model.EventLocationUpdate) }

// OffAllLocations removes every official:all:locations listener.
func (r *Router) OffAllLocations() { r.clear(model.EventAllLocations) }

func (r *Router) subscribe(event string, fn func(json.RawMessage)) Unsubscribe {
	r.subsMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subs[event] = append(r.subs[event], listener{id: id, fn: fn})
	r.subsMu.Unlock()

	return func() { r.remove(event, id) }
}

// remove deletes one listener. The list is copied so snapshots taken by
// dispatch stay intact.
func (r *Router) remove(event string, id uint64) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	current := r.subs[event]
	next := make([]listener, 0, len(current))
	for _, l := range current {
		if l.id != id {
			next = append(next, l)
		}
	}
	if len(next) == 0 {
		delete(r.subs, event)
		return
	}
	r.subs[event] = next
}

func (r *Router) clear(event string) {
	r.subsMu.Lock()
	delete(r.subs, event)
	r.subsMu.Unlock()
}

// decoded adapts a typed listener to raw payloads. Payloads that only
// partly fit T are counted and logged, and fn still receives whatever did
// decode.
func decoded[T any](r *Router, event string, fn func(T)) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			r.parseErrors.Add(1)
			r.logger.Warn("partially decoded event", "event", event, "error", err)
		}
		fn(v)
	}
}
