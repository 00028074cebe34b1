package model

// Source identifies which backend channel a conversation flows through.
type Source string

const (
	SourcePhone Source = "phone"
	SourceWeb   Source = "web"
)

// WebIDPrefix namespaces web-sourced conversation ids so they can never
// collide with phone-sourced ids sharing the same underlying id space.
const WebIDPrefix = "web:"

// ConversationSummary is one row of the unified conversation list.
type ConversationSummary struct {
	ID                 string
	DisplayName        string
	ContactHandle      string
	AvatarURL          string
	LastMessagePreview string
	LastMessageAt      int64 // unix millis, 0 when absent
	UnreadCount        int
	Source             Source
	NeedsAttention     bool
	IsOnline           bool
	ChatbotEnabled     bool
}

// MessageStatus is the delivery state of an operator-authored message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// MessageType classifies message content.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Message is one row of an open transcript.
type Message struct {
	ID        string
	Content   string
	Timestamp int64 // unix millis; ordering and dedup key
	IsOwn     bool
	Status    MessageStatus // meaningful only when IsOwn
	Type      MessageType
}

// SessionStatus is the lifecycle state of a linked device session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionQRPending    SessionStatus = "qr_pending"
	SessionReady        SessionStatus = "ready"
	SessionError        SessionStatus = "error"
)

// ConnectionRecord is one row of the session presence table.
type ConnectionRecord struct {
	SessionID   string
	Status      SessionStatus
	QRPayload   string // present only while qr_pending
	PhoneNumber string // present only once ready
}
