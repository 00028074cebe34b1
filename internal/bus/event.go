package bus

import "time"

// Event kinds published by the synchronizers. Subscribers filter by
// namespace prefix ("inbox.", "transcript.", "presence.", "realtime.").
const (
	KindInboxUpdated          = "inbox.updated"
	KindTranscriptLoaded      = "transcript.loaded"
	KindTranscriptUpdated     = "transcript.updated"
	KindTranscriptSendFailed  = "transcript.send_failed"
	KindTranscriptBotDisabled = "transcript.bot_disabled"
	KindPresenceUpdated       = "presence.updated"
	KindPresenceNotice        = "presence.notice"
	KindRealtimeState         = "realtime.state"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
