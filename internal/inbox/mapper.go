package inbox

import (
	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/model"
)

// One pure mapper per source normalizes its wire shape into the
// canonical summary. Adding a source means adding a mapper here, not
// branching the synchronizer.

func mapPhoneConversation(c backend.PhoneConversation) model.ConversationSummary {
	name := c.ContactName
	if name == "" {
		name = c.ContactPhone
	}
	if name == "" {
		name = c.ID
	}
	return model.ConversationSummary{
		ID:                 c.ID,
		DisplayName:        name,
		ContactHandle:      c.ContactPhone,
		AvatarURL:          c.ContactAvatar,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      backend.ParseTime(c.LastMessageAt),
		UnreadCount:        c.UnreadCount,
		Source:             model.SourcePhone,
		NeedsAttention:     c.NeedsAttention,
		IsOnline:           c.IsOnline,
		ChatbotEnabled:     c.ChatbotEnabled,
	}
}

func mapWebConversation(c backend.WebConversation) model.ConversationSummary {
	name := c.VisitorName
	if name == "" {
		name = c.VisitorEmail
	}
	if name == "" {
		name = "Visitor " + visitorSuffix(c.VisitorID)
	}
	return model.ConversationSummary{
		ID:                 model.WebIDPrefix + c.ID,
		DisplayName:        name,
		ContactHandle:      c.VisitorEmail,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      backend.ParseTime(c.LastMessageAt),
		UnreadCount:        c.UnreadCount,
		Source:             model.SourceWeb,
		// The widget source has no explicit attention flag; unread acts
		// as the heuristic.
		NeedsAttention: c.UnreadCount > 0,
	}
}

func visitorSuffix(visitorID string) string {
	if len(visitorID) <= 6 {
		if visitorID == "" {
			return "unknown"
		}
		return visitorID
	}
	return visitorID[len(visitorID)-6:]
}
