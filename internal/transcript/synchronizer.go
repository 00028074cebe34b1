// Package transcript maintains the message history of the currently
// open conversation, reconciled from periodic fetches and realtime push.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/bus"
	"github.com/pmelo/unibox/internal/model"
	"github.com/pmelo/unibox/internal/realtime"
	"go.uber.org/zap"
)

const (
	reconcileInterval = 5 * time.Second
	historyLimit      = 100
)

// ErrSendInFlight is returned by Send while a previous send has not
// settled yet.
var ErrSendInFlight = errors.New("transcript: send already in flight")

// State reports whether the open transcript has loaded yet.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// API is the slice of the backend client the synchronizer needs.
type API interface {
	PhoneMessages(ctx context.Context, conversationID string, limit int) ([]backend.PhoneMessage, error)
	WebConversationByID(ctx context.Context, conversationID string) (*backend.WebConversation, error)
	WebMessages(ctx context.Context, widgetID, conversationID string) ([]backend.WebMessage, error)
	SendPhoneMessage(ctx context.Context, conversationID, content string) (*backend.SendResult, error)
	SendWebMessage(ctx context.Context, widgetID, conversationID, content string) (*backend.SendResult, error)
}

// Subscriber registers realtime push handlers. Satisfied by
// *realtime.Client.
type Subscriber interface {
	On(event string, h realtime.Handler) func()
}

// Attention reports whether the operator is reading the tail of the
// transcript. It must be consulted before any mutation that changes
// content height.
type Attention interface {
	NearBottom() bool
}

// Scroller moves the view to the transcript tail.
type Scroller interface {
	ScrollInstant()
	ScrollSmooth()
}

// Cache persists the open transcript across restarts. Satisfied by
// *store.DB; nil disables caching.
type Cache interface {
	ReplaceMessages(conversationID string, msgs []model.Message) error
	UpsertMessage(conversationID string, m model.Message) error
	ListMessages(conversationID string) ([]model.Message, error)
}

// Synchronizer owns the message collection for the open conversation.
// At most one conversation is open at a time; Open tears down the
// previous one before attaching to the next.
type Synchronizer struct {
	api    API
	sub    Subscriber
	cache  Cache
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	attention Attention
	scroller  Scroller
	convID    string
	widgetID  string // resolved once per web conversation
	state     State
	messages  []model.Message
	sending   bool
	cancel    context.CancelFunc
	unsubs    []func()
}

// NewSynchronizer creates a transcript synchronizer. The view side is
// attached later with AttachView; until then scroll decisions are
// skipped.
func NewSynchronizer(api API, sub Subscriber, cache Cache, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		api:    api,
		sub:    sub,
		cache:  cache,
		bus:    b,
		logger: logger,
		state:  StateLoading,
	}
}

// AttachView wires the attention probe and scroller. Must be called
// before the first Open.
func (s *Synchronizer) AttachView(attention Attention, scroller Scroller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attention = attention
	s.scroller = scroller
}

// Open attaches the synchronizer to a conversation: loads its history,
// subscribes to push events, and starts the reconcile loop. Any
// previously open conversation is closed first.
func (s *Synchronizer) Open(ctx context.Context, conversationID string) error {
	s.Close()

	s.mu.Lock()
	s.convID = conversationID
	s.widgetID = ""
	s.state = StateLoading
	s.messages = nil
	s.mu.Unlock()

	// Stale history renders immediately while the fetch is in flight.
	if s.cache != nil {
		if cached, err := s.cache.ListMessages(conversationID); err == nil && len(cached) > 0 {
			s.mu.Lock()
			s.messages = cached
			s.mu.Unlock()
			s.publish(bus.KindTranscriptUpdated, conversationID)
		}
	}

	if isWebConversation(conversationID) {
		wc, err := s.api.WebConversationByID(ctx, rawConversationID(conversationID))
		if err != nil {
			return fmt.Errorf("resolve widget: %w", err)
		}
		s.mu.Lock()
		s.widgetID = wc.WidgetID
		s.mu.Unlock()
	}

	msgs, err := s.fetchHistory(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })

	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return nil
	}
	s.messages = msgs
	s.state = StateReady
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(conversationID, snapshot)
	s.publish(bus.KindTranscriptLoaded, conversationID)

	// Jump to the tail before any push or poll can grow the transcript.
	// Later growth only follow-scrolls when the operator is near the
	// bottom.
	s.mu.Lock()
	scroller := s.scroller
	s.mu.Unlock()
	if scroller != nil {
		scroller.ScrollInstant()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	if s.sub != nil {
		s.unsubs = append(s.unsubs,
			s.sub.On(realtime.EventMessage, s.handlePushMessage),
			s.sub.On(realtime.EventMessageAck, s.handleAck),
		)
	}
	s.mu.Unlock()

	go s.loop(loopCtx, conversationID)
	return nil
}

// Close detaches from the open conversation. Safe to call when nothing
// is open.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	cancel := s.cancel
	unsubs := s.unsubs
	s.cancel = nil
	s.unsubs = nil
	s.convID = ""
	s.widgetID = ""
	s.messages = nil
	s.state = StateLoading
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, u := range unsubs {
		u()
	}
}

// ConversationID returns the id of the open conversation, "" when none.
func (s *Synchronizer) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// State returns the load state of the open transcript.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the open transcript in ascending
// timestamp order.
func (s *Synchronizer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() []model.Message {
	return append([]model.Message(nil), s.messages...)
}

// Send delivers operator-authored text. The message appears in the
// transcript immediately under a temporary id; on success the id is
// patched to the backend-assigned one, on failure the entry is removed
// and the failure is published exactly once.
func (s *Synchronizer) Send(ctx context.Context, content string) error {
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.convID == "" {
		s.mu.Unlock()
		return errors.New("transcript: no open conversation")
	}
	if s.sending {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.sending = true
	convID := s.convID
	widgetID := s.widgetID
	tempID := "local-" + uuid.NewString()
	pending := model.Message{
		ID:        tempID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		IsOwn:     true,
		Status:    model.StatusSent,
		Type:      model.TypeText,
	}
	wasNearBottom := s.attention != nil && s.attention.NearBottom()
	scroller := s.scroller
	s.messages = append(s.messages, pending)
	s.mu.Unlock()

	s.publish(bus.KindTranscriptUpdated, convID)
	if wasNearBottom && scroller != nil {
		scroller.ScrollSmooth()
	}

	var res *backend.SendResult
	var err error
	if isWebConversation(convID) {
		res, err = s.api.SendWebMessage(ctx, widgetID, rawConversationID(convID), content)
	} else {
		res, err = s.api.SendPhoneMessage(ctx, convID, content)
	}

	s.mu.Lock()
	s.sending = false
	if s.convID != convID {
		s.mu.Unlock()
		return err
	}
	if err != nil {
		for i := range s.messages {
			if s.messages[i].ID == tempID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				break
			}
		}
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		s.persist(convID, snapshot)
		s.publish(bus.KindTranscriptSendFailed, convID)
		return err
	}
	// Patch the pending entry in place so the row never flickers.
	for i := range s.messages {
		if s.messages[i].ID == tempID {
			s.messages[i].ID = res.ID
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(convID, snapshot)
	s.publish(bus.KindTranscriptUpdated, convID)
	if res.ChatbotDisabled {
		s.publish(bus.KindTranscriptBotDisabled, convID)
	}
	return nil
}

func (s *Synchronizer) fetchHistory(ctx context.Context) ([]model.Message, error) {
	s.mu.Lock()
	convID := s.convID
	widgetID := s.widgetID
	s.mu.Unlock()

	if isWebConversation(convID) {
		wire, err := s.api.WebMessages(ctx, widgetID, rawConversationID(convID))
		if err != nil {
			return nil, fmt.Errorf("fetch transcript: %w", err)
		}
		msgs := make([]model.Message, 0, len(wire))
		for _, wm := range wire {
			msgs = append(msgs, mapWebMessage(wm))
		}
		return msgs, nil
	}

	wire, err := s.api.PhoneMessages(ctx, convID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	msgs := make([]model.Message, 0, len(wire))
	for _, pm := range wire {
		msgs = append(msgs, mapPhoneMessage(pm))
	}
	return msgs, nil
}

// loop reconciles against the backend. The timer is re-armed after each
// pass so a slow fetch never overlaps the next one.
func (s *Synchronizer) loop(ctx context.Context, conversationID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconcileInterval):
		}
		s.reconcile(ctx, conversationID)
	}
}

// reconcile merges a fresh fetch into the local transcript. Only
// messages with unseen ids and timestamps strictly newer than the local
// tail are appended; nothing already shown is dropped or reordered, so
// a fetch that races a just-sent message cannot duplicate it.
func (s *Synchronizer) reconcile(ctx context.Context, conversationID string) {
	fetched, err := s.fetchHistory(ctx)
	if err != nil {
		s.logger.Warn("transcript reconcile failed", zap.String("conversation", conversationID), zap.Error(err))
		return
	}
	sort.SliceStable(fetched, func(i, j int) bool { return fetched[i].Timestamp < fetched[j].Timestamp })

	s.mu.Lock()
	if s.convID != conversationID || s.state != StateReady {
		s.mu.Unlock()
		return
	}
	seen := make(map[string]struct{}, len(s.messages))
	var newest int64
	for _, m := range s.messages {
		seen[m.ID] = struct{}{}
		if m.Timestamp > newest {
			newest = m.Timestamp
		}
	}
	var added bool
	for _, m := range fetched {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		if m.Timestamp <= newest {
			continue
		}
		s.messages = append(s.messages, m)
		added = true
	}
	if !added {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(conversationID, snapshot)
	s.publish(bus.KindTranscriptUpdated, conversationID)
}

// handlePushMessage appends a pushed message when it belongs to the
// open conversation. Attention is measured before the append so the
// follow-scroll decision reflects where the operator was, not where
// the new row moved the bottom to.
func (s *Synchronizer) handlePushMessage(raw json.RawMessage) {
	var payload realtime.MessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("bad push message payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	convID := s.convID
	if convID == "" || s.state != StateReady || payload.ConversationID != convID {
		s.mu.Unlock()
		return
	}
	msg, ok := mapPushMessage(convID, payload.Message)
	if !ok {
		s.mu.Unlock()
		return
	}
	for _, m := range s.messages {
		if m.ID == msg.ID {
			s.mu.Unlock()
			return
		}
	}
	wasNearBottom := s.attention != nil && s.attention.NearBottom()
	scroller := s.scroller
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.persistOne(convID, msg)
	s.publish(bus.KindTranscriptUpdated, convID)
	if wasNearBottom && scroller != nil {
		scroller.ScrollSmooth()
	}
}

// handleAck patches the delivery status of an already-shown message.
// Acks for unknown ids are ignored.
func (s *Synchronizer) handleAck(raw json.RawMessage) {
	var payload realtime.AckPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("bad ack payload", zap.Error(err))
		return
	}
	status := model.MessageStatus(payload.Status)
	switch status {
	case model.StatusSent, model.StatusDelivered, model.StatusRead:
	default:
		return
	}

	s.mu.Lock()
	convID := s.convID
	var patched model.Message
	var found bool
	for i := range s.messages {
		if s.messages[i].ID == payload.MessageID {
			s.messages[i].Status = status
			patched = s.messages[i]
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return
	}

	s.persistOne(convID, patched)
	s.publish(bus.KindTranscriptUpdated, convID)
}

func (s *Synchronizer) persist(conversationID string, msgs []model.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ReplaceMessages(conversationID, msgs); err != nil {
		s.logger.Warn("transcript cache write failed", zap.Error(err))
	}
}

func (s *Synchronizer) persistOne(conversationID string, m model.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.UpsertMessage(conversationID, m); err != nil {
		s.logger.Warn("transcript cache write failed", zap.Error(err))
	}
}

func (s *Synchronizer) publish(kind, conversationID string) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: conversationID})
}
