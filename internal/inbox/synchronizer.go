// Package inbox maintains the ordered set of conversations visible to
// the operator, merged from the phone and web source APIs.
package inbox

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/bus"
	"github.com/pmelo/unibox/internal/model"
	"go.uber.org/zap"
)

// Polling cadence adapts to observed operator activity.
const (
	activeInterval = 5 * time.Second
	idleInterval   = 30 * time.Second
	activityWindow = 60 * time.Second
)

// Filter selects a subset of the merged list. Filters are pure
// predicates over already-fetched data; they never trigger a fetch.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterPhone     Filter = "phone"
	FilterWeb       Filter = "web"
	FilterAttention Filter = "attention"
)

// API is the slice of the backend client the synchronizer needs.
type API interface {
	ListPhoneConversations(ctx context.Context, workspaceID string) ([]backend.PhoneConversation, error)
	ListWebConversations(ctx context.Context, workspaceID string) ([]backend.WebConversation, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Cache persists the merged snapshot across restarts. Satisfied by
// *store.DB; nil disables caching.
type Cache interface {
	ReplaceConversations([]model.ConversationSummary) error
	ListConversations() ([]model.ConversationSummary, error)
}

// Synchronizer owns the conversation summary collection for one
// workspace.
type Synchronizer struct {
	api    API
	cache  Cache
	bus    *bus.Bus
	logger *zap.Logger

	mu            sync.Mutex
	workspaceID   string
	conversations []model.ConversationSummary
	filter        Filter
	search        string
	openID        string
	readMarks     map[string]int64 // conversation id -> LastMessageAt when selected
	lastActivity  time.Time
	cancel        context.CancelFunc
}

// NewSynchronizer creates a list synchronizer.
func NewSynchronizer(api API, cache Cache, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		api:       api,
		cache:     cache,
		bus:       b,
		logger:    logger,
		filter:    FilterAll,
		readMarks: make(map[string]int64),
	}
}

// Start begins synchronization for the workspace. The cached snapshot is
// served immediately; the first fetch replaces it.
func (s *Synchronizer) Start(ctx context.Context, workspaceID string) {
	s.mu.Lock()
	s.workspaceID = workspaceID
	s.lastActivity = time.Now()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.cache != nil {
		if cached, err := s.cache.ListConversations(); err == nil && len(cached) > 0 {
			s.mu.Lock()
			s.conversations = cached
			s.mu.Unlock()
			s.publishUpdated()
		}
	}

	go s.loop(ctx)
}

// Stop halts polling.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Touch records operator activity; recent activity shortens the polling
// interval.
func (s *Synchronizer) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Select marks a conversation read locally and requests a backend
// read-receipt. The local mark wins over stale unread counts on later
// polls until a genuinely newer message arrives.
func (s *Synchronizer) Select(ctx context.Context, conversationID string) {
	s.mu.Lock()
	s.openID = conversationID
	mark := int64(0)
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			mark = s.conversations[i].LastMessageAt
			s.conversations[i].UnreadCount = 0
			s.conversations[i].NeedsAttention = false
			break
		}
	}
	s.readMarks[conversationID] = mark
	s.mu.Unlock()

	s.publishUpdated()

	go func() {
		if err := s.api.MarkRead(ctx, conversationID); err != nil {
			s.logger.Warn("read receipt failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}()
}

// ClearOpen notes that no conversation is open in the transcript view.
func (s *Synchronizer) ClearOpen() {
	s.mu.Lock()
	s.openID = ""
	s.mu.Unlock()
}

// SetFilter applies a source/attention filter over the fetched set.
func (s *Synchronizer) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	s.publishUpdated()
}

// SetSearch applies a case-insensitive substring search over display
// names and previews.
func (s *Synchronizer) SetSearch(query string) {
	s.mu.Lock()
	s.search = query
	s.mu.Unlock()
	s.publishUpdated()
}

// Snapshot returns the filtered view of the merged list.
func (s *Synchronizer) Snapshot() []model.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := strings.ToLower(s.search)
	out := make([]model.ConversationSummary, 0, len(s.conversations))
	for _, c := range s.conversations {
		if !matchesFilter(c, s.filter) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(c.DisplayName), query) &&
			!strings.Contains(strings.ToLower(c.LastMessagePreview), query) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func matchesFilter(c model.ConversationSummary, f Filter) bool {
	switch f {
	case FilterPhone:
		return c.Source == model.SourcePhone
	case FilterWeb:
		return c.Source == model.SourceWeb
	case FilterAttention:
		return c.NeedsAttention
	default:
		return true
	}
}

func (s *Synchronizer) loop(ctx context.Context) {
	for {
		s.poll(ctx)
		// Re-arm only after the poll completed so intervals never
		// overlap.
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.nextInterval(time.Now())):
		}
	}
}

func (s *Synchronizer) nextInterval(now time.Time) time.Duration {
	s.mu.Lock()
	last := s.lastActivity
	s.mu.Unlock()
	if now.Sub(last) < activityWindow {
		return activeInterval
	}
	return idleInterval
}

// poll fetches both sources concurrently and replaces the merged list.
// The sources settle independently: one failing does not block the
// other, and a failed source keeps its previous entries.
func (s *Synchronizer) poll(ctx context.Context) {
	s.mu.Lock()
	ws := s.workspaceID
	s.mu.Unlock()

	var (
		wg       sync.WaitGroup
		phone    []backend.PhoneConversation
		web      []backend.WebConversation
		phoneErr error
		webErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		phone, phoneErr = s.api.ListPhoneConversations(ctx, ws)
	}()
	go func() {
		defer wg.Done()
		web, webErr = s.api.ListWebConversations(ctx, ws)
	}()
	wg.Wait()

	if phoneErr != nil {
		s.logger.Warn("phone conversations fetch failed", zap.Error(phoneErr))
	}
	if webErr != nil {
		s.logger.Warn("web conversations fetch failed", zap.Error(webErr))
	}
	if phoneErr != nil && webErr != nil {
		// Stale-but-available: keep everything, poll again on schedule.
		return
	}

	var merged []model.ConversationSummary
	if phoneErr == nil {
		for _, c := range phone {
			merged = append(merged, mapPhoneConversation(c))
		}
	} else {
		merged = append(merged, s.previousOf(model.SourcePhone)...)
	}
	if webErr == nil {
		for _, c := range web {
			merged = append(merged, mapWebConversation(c))
		}
	} else {
		merged = append(merged, s.previousOf(model.SourceWeb)...)
	}

	s.mu.Lock()
	for i := range merged {
		c := &merged[i]
		// A freshly read conversation must not flicker back to unread on
		// the next poll; only a genuinely newer message resurfaces it.
		if c.ID == s.openID {
			c.UnreadCount = 0
			if c.Source == model.SourceWeb {
				c.NeedsAttention = false
			}
			continue
		}
		if mark, ok := s.readMarks[c.ID]; ok && c.LastMessageAt <= mark {
			c.UnreadCount = 0
			if c.Source == model.SourceWeb {
				c.NeedsAttention = false
			}
		}
	}
	sortConversations(merged)
	s.conversations = merged
	cacheCopy := append([]model.ConversationSummary(nil), merged...)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.ReplaceConversations(cacheCopy); err != nil {
			s.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	s.publishUpdated()
}

func (s *Synchronizer) previousOf(src model.Source) []model.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationSummary
	for _, c := range s.conversations {
		if c.Source == src {
			out = append(out, c)
		}
	}
	return out
}

// sortConversations orders descending by last message timestamp,
// conversations with no message last.
func sortConversations(convs []model.ConversationSummary) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessageAt, convs[j].LastMessageAt
		if a == 0 {
			return false
		}
		if b == 0 {
			return true
		}
		return a > b
	})
}

func (s *Synchronizer) publishUpdated() {
	s.bus.Publish(bus.Event{Kind: bus.KindInboxUpdated, Timestamp: time.Now()})
}
