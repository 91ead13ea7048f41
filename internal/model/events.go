package model

import (
	"encoding/json"
	"time"
)

// Wire event names. Emit* are sent by the client, the rest are sent by the
// server.
const (
	EmitRegister         = "register"
	EmitBroadcastAlert   = "broadcast-alert"
	EmitSendSOS          = "send-sos"
	EmitReportIncident   = "report-incident"
	EmitAcknowledgeAlert = "acknowledge-alert"
	EmitCitizenLocation  = "citizen:location"
	EmitRequestLocations = "official:request:locations"
	EmitPing             = "ping"

	EventAlertBroadcasted = "alert-broadcasted"
	EventSOSSent          = "sos-sent"
	EventReportSubmitted  = "report-submitted"
	EventPong             = "pong"

	EventDisasterAlert     = "disaster-alert"
	EventSOSAlert          = "sos-alert"
	EventNewIncident       = "new-incident-report"
	EventAlertAcknowledged = "alert-acknowledged"
	EventLocationUpdate    = "citizen:location:update"
	EventAllLocations      = "official:all:locations"
)

// EventKind tags an inbound event for structured consumption.
type EventKind string

const (
	KindDisasterAlert     EventKind = "disaster_alert"
	KindSOSAlert          EventKind = "sos_alert"
	KindIncidentReport    EventKind = "incident_report"
	KindAlertAcknowledged EventKind = "alert_acknowledged"
	KindLocationUpdate    EventKind = "location_update"
	KindAllLocations      EventKind = "all_locations"
)

var eventKinds = map[string]EventKind{
	EventDisasterAlert:     KindDisasterAlert,
	EventSOSAlert:          KindSOSAlert,
	EventNewIncident:       KindIncidentReport,
	EventAlertAcknowledged: KindAlertAcknowledged,
	EventLocationUpdate:    KindLocationUpdate,
	EventAllLocations:      KindAllLocations,
}

// KindOf returns the kind of a server event name, if it is a subscribable one.
func KindOf(event string) (EventKind, bool) {
	kind, ok := eventKinds[event]
	return kind, ok
}

// Event is a tagged inbound event.
type Event struct {
	Kind       EventKind
	Name       string          // Wire event name
	Payload    json.RawMessage // Undecoded payload
	ReceivedAt time.Time       // Local time the frame was read
}
