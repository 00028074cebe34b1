package transcript

import (
	"encoding/json"
	"strings"

	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/model"
)

// The two sources ship different wire shapes for the same logical
// message (direction/from_me vs sender_type). All normalization lives
// here; the synchronizer only ever sees model.Message.

func isWebConversation(conversationID string) bool {
	return strings.HasPrefix(conversationID, model.WebIDPrefix)
}

func rawConversationID(conversationID string) string {
	return strings.TrimPrefix(conversationID, model.WebIDPrefix)
}

func mapPhoneMessage(m backend.PhoneMessage) model.Message {
	content := m.Content
	if content == "" {
		content = m.Body
	}
	ts := m.CreatedAt
	if ts == "" {
		ts = m.Timestamp
	}
	own := m.Direction == "outbound"
	if m.FromMe != nil {
		own = *m.FromMe
	}

	msgType := model.MessageType(m.Type)
	if msgType == "" {
		msgType = model.TypeText
	}
	status := model.MessageStatus(m.Status)
	if own && status == "" {
		status = model.StatusSent
	}

	return model.Message{
		ID:        m.ID,
		Content:   content,
		Timestamp: backend.ParseTime(ts),
		IsOwn:     own,
		Status:    status,
		Type:      msgType,
	}
}

func mapWebMessage(m backend.WebMessage) model.Message {
	// visitor and bot messages render as the contact side; only agent
	// messages are the operator's own.
	own := m.SenderType == "agent"
	var status model.MessageStatus
	if own {
		status = model.StatusSent
	}
	return model.Message{
		ID:        m.ID,
		Content:   m.Message,
		Timestamp: backend.ParseTime(m.CreatedAt),
		IsOwn:     own,
		Status:    status,
		Type:      model.TypeText,
	}
}

// mapPushMessage decodes a push event payload into the canonical shape,
// picking the wire variant by the open conversation's source.
func mapPushMessage(conversationID string, raw json.RawMessage) (model.Message, bool) {
	if isWebConversation(conversationID) {
		var wm backend.WebMessage
		if err := json.Unmarshal(raw, &wm); err != nil || wm.ID == "" {
			return model.Message{}, false
		}
		return mapWebMessage(wm), true
	}
	var pm backend.PhoneMessage
	if err := json.Unmarshal(raw, &pm); err != nil || pm.ID == "" {
		return model.Message{}, false
	}
	return mapPhoneMessage(pm), true
}
