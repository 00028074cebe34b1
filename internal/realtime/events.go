package realtime

import "encoding/json"

// Canonical push event names. Older backend deployments emit the bare
// legacy names; Canonical folds both onto one handler table so every
// event is effectively registered under both spellings.
const (
	EventQR           = "session:qr"
	EventReady        = "session:ready"
	EventDisconnected = "session:disconnected"
	EventAuthFailure  = "session:auth_failure"
	EventStatusUpdate = "session:status_update"
	EventMessage      = "chat:message"
	EventMessageAck   = "chat:message_ack"

	// EventJoin is emitted by the client after connect so the server can
	// route subsequent events to the operator's room.
	EventJoin = "join"
)

var legacyAliases = map[string]string{
	"qr":            EventQR,
	"ready":         EventReady,
	"disconnected":  EventDisconnected,
	"auth_failure":  EventAuthFailure,
	"status_update": EventStatusUpdate,
	"message":       EventMessage,
	"message_ack":   EventMessageAck,
}

// Canonical maps a wire event name (canonical or legacy alias) to its
// canonical name.
func Canonical(name string) string {
	if c, ok := legacyAliases[name]; ok {
		return c
	}
	return name
}

// Frame is the wire envelope for push events.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// QRPayload is the data for session:qr events.
type QRPayload struct {
	SessionID string `json:"session_id"`
	QR        string `json:"qr"`
}

// ReadyPayload is the data for session:ready events.
type ReadyPayload struct {
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number"`
}

// StatusUpdatePayload is the data for session:status_update events.
type StatusUpdatePayload struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// MessagePayload is the data for chat:message events. Message keeps the
// source wire shape; the transcript mapper normalizes it.
type MessagePayload struct {
	ConversationID string          `json:"conversation_id"`
	Message        json.RawMessage `json:"message"`
}

// AckPayload is the data for chat:message_ack events.
type AckPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// JoinPayload carries the operator identity on the join emit.
type JoinPayload struct {
	UserID string `json:"user_id"`
}
