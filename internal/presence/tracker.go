// Package presence folds device session lifecycle events into a local
// table of connection records for the sessions page.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/bus"
	"github.com/pmelo/unibox/internal/model"
	"github.com/pmelo/unibox/internal/realtime"
	"go.uber.org/zap"
)

// qrThrottle is the minimum spacing between applied QR updates per
// session. A burst of QR events must not flicker the rendered code;
// throttled events are dropped, not queued.
const qrThrottle = 3 * time.Second

// Subscriber registers push event handlers. Satisfied by *realtime.Client.
type Subscriber interface {
	On(event string, h realtime.Handler) func()
}

// SessionLister fetches the authoritative session list. Satisfied by
// *backend.Client.
type SessionLister interface {
	ListSessions(ctx context.Context, workspaceID string) ([]backend.Session, error)
}

// Tracker owns the ConnectionRecord table. Records are read-only for
// every other component.
type Tracker struct {
	sub         Subscriber
	api         SessionLister
	bus         *bus.Bus
	logger      *zap.Logger
	workspaceID string

	mu      sync.RWMutex
	records map[string]model.ConnectionRecord
	lastQR  map[string]time.Time
	unsubs  []func()

	now func() time.Time
}

// NewTracker creates a presence tracker.
func NewTracker(sub Subscriber, api SessionLister, b *bus.Bus, logger *zap.Logger, workspaceID string) *Tracker {
	return &Tracker{
		sub:         sub,
		api:         api,
		bus:         b,
		logger:      logger,
		workspaceID: workspaceID,
		records:     make(map[string]model.ConnectionRecord),
		lastQR:      make(map[string]time.Time),
		now:         time.Now,
	}
}

// Start subscribes to the session lifecycle events and loads the initial
// session list.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.unsubs = []func(){
		t.sub.On(realtime.EventQR, func(data json.RawMessage) { t.handleQR(data) }),
		t.sub.On(realtime.EventReady, func(json.RawMessage) { t.refetch(ctx, "") }),
		t.sub.On(realtime.EventDisconnected, func(json.RawMessage) {
			t.refetch(ctx, "WhatsApp session disconnected")
		}),
		t.sub.On(realtime.EventAuthFailure, func(json.RawMessage) {
			t.refetch(ctx, "WhatsApp authentication failed, re-pair the device")
		}),
		t.sub.On(realtime.EventStatusUpdate, func(data json.RawMessage) { t.handleStatus(data) }),
	}
	t.mu.Unlock()
}

// Refresh synchronously reloads the session list. Called once at startup;
// afterwards the lifecycle events keep the table current.
func (t *Tracker) Refresh(ctx context.Context) {
	t.refetchNow(ctx, "")
}

// Stop deregisters all event handlers.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Records returns a snapshot of the connection table ordered by session id.
func (t *Tracker) Records() []model.ConnectionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.ConnectionRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (t *Tracker) handleQR(data json.RawMessage) {
	var p realtime.QRPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return
	}

	t.mu.Lock()
	now := t.now()
	if last, ok := t.lastQR[p.SessionID]; ok && now.Sub(last) < qrThrottle {
		t.mu.Unlock()
		return
	}
	t.lastQR[p.SessionID] = now

	rec := t.records[p.SessionID]
	rec.SessionID = p.SessionID
	rec.Status = model.SessionQRPending
	rec.QRPayload = p.QR
	t.records[p.SessionID] = rec
	t.mu.Unlock()

	t.publishUpdated()
}

func (t *Tracker) handleStatus(data json.RawMessage) {
	var p realtime.StatusUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return
	}

	t.mu.Lock()
	rec, ok := t.records[p.SessionID]
	if !ok {
		rec = model.ConnectionRecord{SessionID: p.SessionID}
	}
	rec.Status = model.SessionStatus(p.Status)
	t.records[p.SessionID] = rec
	t.mu.Unlock()

	t.publishUpdated()
}

// refetch reloads the authoritative session list instead of patching
// locally: "ready" and "disconnected" change derived fields that are
// cheaper to refetch than to reconstruct client-side.
func (t *Tracker) refetch(ctx context.Context, notice string) {
	go t.refetchNow(ctx, notice)
}

func (t *Tracker) refetchNow(ctx context.Context, notice string) {
	sessions, err := t.api.ListSessions(ctx, t.workspaceID)
	if err != nil {
		t.logger.Warn("session list fetch failed", zap.Error(err))
		return
	}

	t.mu.Lock()
	fresh := make(map[string]model.ConnectionRecord, len(sessions))
	for _, s := range sessions {
		rec := model.ConnectionRecord{
			SessionID:   s.ID,
			Status:      model.SessionStatus(s.Status),
			PhoneNumber: s.PhoneNumber,
		}
		// The list endpoint does not carry QR payloads; keep the one we
		// already rendered while the session is still pairing.
		if prev, ok := t.records[s.ID]; ok && rec.Status == model.SessionQRPending {
			rec.QRPayload = prev.QRPayload
		}
		fresh[s.ID] = rec
	}
	// A session mid-pairing may not exist server-side yet; keep local
	// qr_pending records the list does not know about.
	for id, rec := range t.records {
		if rec.Status == model.SessionQRPending {
			if _, ok := fresh[id]; !ok {
				fresh[id] = rec
			}
		}
	}
	t.records = fresh
	t.mu.Unlock()

	t.publishUpdated()
	if notice != "" {
		t.bus.Publish(bus.Event{Kind: bus.KindPresenceNotice, Timestamp: time.Now(), Payload: notice})
	}
}

func (t *Tracker) publishUpdated() {
	t.bus.Publish(bus.Event{Kind: bus.KindPresenceUpdated, Timestamp: time.Now()})
}
