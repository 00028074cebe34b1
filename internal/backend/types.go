package backend

import "time"

// ParseTime converts an ISO wire timestamp to unix millis, 0 when absent
// or malformed. A bad timestamp sorts last instead of failing a merge.
func ParseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// Wire shapes for the two conversation sources. Field fallbacks
// (content|body, created_at|timestamp, direction|from_me) exist because
// older backend deployments still emit the legacy field names.

// PhoneConversation is one phone-sourced conversation row.
type PhoneConversation struct {
	ID                 string `json:"id"`
	ContactName        string `json:"contact_name"`
	ContactPhone       string `json:"contact_phone"`
	ContactAvatar      string `json:"contact_avatar"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageAt      string `json:"last_message_at"`
	UnreadCount        int    `json:"unread_count"`
	IsOnline           bool   `json:"is_online"`
	NeedsAttention     bool   `json:"needs_attention"`
	ChatbotEnabled     bool   `json:"chatbot_enabled"`
}

// WebConversation is one widget-sourced conversation row.
type WebConversation struct {
	ID                 string `json:"id"`
	WidgetID           string `json:"widget_id"`
	VisitorID          string `json:"visitor_id"`
	VisitorName        string `json:"visitor_name"`
	VisitorEmail       string `json:"visitor_email"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageAt      string `json:"last_message_at"`
	UnreadCount        int    `json:"unread_count"`
	Status             string `json:"status"`
}

// PhoneMessage is one message row from the phone-source endpoint.
type PhoneMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
	FromMe    *bool  `json:"from_me"`
	Status    string `json:"status"`
	Type      string `json:"type"`
}

// WebMessage is one message row from the widget-source endpoint.
type WebMessage struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	SenderType string `json:"sender_type"` // visitor, agent, bot
	CreatedAt  string `json:"created_at"`
}

// SendResult is the response to a send request.
type SendResult struct {
	ID              string `json:"id"`
	ChatbotDisabled bool   `json:"chatbot_disabled"`
}

// Session is one device session row from the presence endpoint.
type Session struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phone_number"`
}
