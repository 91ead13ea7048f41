package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// Role is the platform role a user registers the channel with.
type Role string

const (
	RoleCitizen  Role = "citizen"
	RoleOfficial Role = "official"
)

// Valid reports whether r is a role the server understands.
func (r Role) Valid() bool {
	return r == RoleCitizen || r == RoleOfficial
}

// Identity is the user attached to the channel at registration.
type Identity struct {
	UserID string
	Role   Role
	Name   string
	Email  string
}

// Validate checks the fields the server needs to register a channel.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return errors.New("identity: user id is required")
	}
	if !i.Role.Valid() {
		return fmt.Errorf("identity: unknown role %q", i.Role)
	}
	return nil
}

// Registration returns the payload of the register event.
func (i Identity) Registration() Registration {
	return Registration{
		UserID:   i.UserID,
		Role:     i.Role,
		UserName: i.Name,
		Email:    i.Email,
	}
}

// Registration is the register event payload.
type Registration struct {
	UserID   string `json:"userId"`
	Role     Role   `json:"role"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
}

// Session is the identity bound to one live connection.
// A new Session is created on every successful connect or reconnect.
type Session struct {
	Identity    Identity
	SocketID    string    // Engine.IO session id assigned by the server
	ConnectedAt time.Time // Local time the registration was sent
}

// -----------------------------------------------------------------------------
// Channel payloads
// -----------------------------------------------------------------------------

// ID is a server-assigned identifier. Documents carry string ids but some
// producers stamp events with a numeric id (epoch milliseconds); both decode.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Location is a point with optional human readable address.
// A bare string on the wire decodes as an address without coordinates.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Location) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var address string
		if err := json.Unmarshal(data, &address); err != nil {
			return fmt.Errorf("location: %w", err)
		}
		*l = Location{Address: address}
		return nil
	}
	type plain Location
	return json.Unmarshal(data, (*plain)(l))
}

// DisasterAlert is broadcast by officials and fanned out by the server.
type DisasterAlert struct {
	ID            ID        `json:"id,omitempty"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Type          string    `json:"type,omitempty"`     // flood, earthquake, fire, ...
	Severity      string    `json:"severity,omitempty"` // low, medium, high, critical
	Location      *Location `json:"location,omitempty"`
	RadiusKm      float64   `json:"radius,omitempty"`
	AffectedAreas []string  `json:"affectedAreas,omitempty"`
	Instructions  string    `json:"instructions,omitempty"`
	IssuedBy      string    `json:"issuedBy,omitempty"`
	Timestamp     Timestamp `json:"timestamp,omitzero"`

	Raw json.RawMessage `json:"-"` // Inbound payload as received
}

// SOSAlert is an emergency call raised by a citizen.
type SOSAlert struct {
	ID            ID        `json:"id,omitempty"`
	UserID        string    `json:"userId"`
	UserName      string    `json:"userName,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	EmergencyType string    `json:"emergencyType,omitempty"`
	Message       string    `json:"message,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Address       string    `json:"address,omitempty"`
	Status        string    `json:"status,omitempty"` // pending, responding, resolved
	Timestamp     Timestamp `json:"timestamp,omitzero"`

	Raw json.RawMessage `json:"-"`
}

// IncidentReport is a citizen report awaiting official verification.
type IncidentReport struct {
	ID          ID        `json:"id,omitempty"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Images      []string  `json:"images,omitempty"`
	Status      string    `json:"status,omitempty"` // pending, verified, rejected
	Timestamp   Timestamp `json:"timestamp,omitzero"`

	Raw json.RawMessage `json:"-"`
}

// LocationUpdate is a live position shared by a citizen.
type LocationUpdate struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp Timestamp `json:"timestamp,omitzero"`

	Raw json.RawMessage `json:"-"`
}

// Inbound payloads are pass-through: decoding is best effort, fields that do
// not fit stay zero and Raw keeps the payload as received.

// UnmarshalJSON implements json.Unmarshaler.
func (a *DisasterAlert) UnmarshalJSON(data []byte) error {
	type plain DisasterAlert
	err := json.Unmarshal(data, (*plain)(a))
	a.Raw = append(json.RawMessage(nil), data...)
	return err
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SOSAlert) UnmarshalJSON(data []byte) error {
	type plain SOSAlert
	err := json.Unmarshal(data, (*plain)(s))
	s.Raw = append(json.RawMessage(nil), data...)
	return err
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *IncidentReport) UnmarshalJSON(data []byte) error {
	type plain IncidentReport
	err := json.Unmarshal(data, (*plain)(r))
	r.Raw = append(json.RawMessage(nil), data...)
	return err
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *LocationUpdate) UnmarshalJSON(data []byte) error {
	type plain LocationUpdate
	err := json.Unmarshal(data, (*plain)(l))
	l.Raw = append(json.RawMessage(nil), data...)
	return err
}

// AlertAcknowledgement is sent when a user confirms receipt of an alert.
type AlertAcknowledgement struct {
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"userId"`
	Timestamp Timestamp `json:"timestamp"`
}

// Ack is the server acknowledgment of a request/response emission.
// Fields the server does not send stay zero; Raw always holds the payload.
type Ack struct {
	RequestID string          `json:"requestId,omitempty"`
	Success   bool            `json:"success,omitempty"`
	ID        ID              `json:"id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// BroadcastResult is the acknowledgment of broadcast-alert.
type BroadcastResult struct {
	Ack
	RecipientCount int `json:"recipientCount"`
}

// DecodeAck decodes an acknowledgment payload. Non-object payloads
// (including an empty pong) yield an Ack with only Raw set.
func DecodeAck(raw json.RawMessage) Ack {
	ack := Ack{Raw: raw}
	_ = json.Unmarshal(raw, &ack)
	ack.Raw = raw
	return ack
}

// DecodeBroadcastResult decodes the alert-broadcasted payload.
func DecodeBroadcastResult(raw json.RawMessage) BroadcastResult {
	var res BroadcastResult
	_ = json.Unmarshal(raw, &res)
	res.Ack = DecodeAck(raw)
	return res
}
