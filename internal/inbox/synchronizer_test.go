package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/bus"
	"github.com/pmelo/unibox/internal/model"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu        sync.Mutex
	phone     []backend.PhoneConversation
	web       []backend.WebConversation
	phoneErr  error
	webErr    error
	readCalls []string
}

func (f *fakeAPI) ListPhoneConversations(context.Context, string) ([]backend.PhoneConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone, f.phoneErr
}

func (f *fakeAPI) ListWebConversations(context.Context, string) ([]backend.WebConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.web, f.webErr
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, id)
	return nil
}

func (f *fakeAPI) set(fn func(*fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newSync(api *fakeAPI) *Synchronizer {
	s := NewSynchronizer(api, nil, bus.New(), zap.NewNop())
	s.workspaceID = "ws1"
	return s
}

func ts(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}

func TestMergeMapsAndSorts(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", ContactPhone: "+551199", LastMessageAt: ts(1000), UnreadCount: 1, NeedsAttention: true},
			{ID: "p2", ContactPhone: "+551188", LastMessageAt: ts(3000)},
		},
		web: []backend.WebConversation{
			{ID: "w1", VisitorID: "visitor-abcdef", LastMessageAt: ts(2000), UnreadCount: 2},
		},
	}
	s := newSync(api)
	s.poll(context.Background())

	got := s.Snapshot()
	if len(got) != 3 {
		t.Fatalf("got %d conversations, want 3", len(got))
	}
	if got[0].ID != "p2" || got[1].ID != "web:w1" || got[2].ID != "p1" {
		t.Errorf("order = [%s %s %s], want [p2 web:w1 p1]", got[0].ID, got[1].ID, got[2].ID)
	}
	// Fallback naming.
	if got[0].DisplayName != "+551188" {
		t.Errorf("phone fallback name = %q, want phone number", got[0].DisplayName)
	}
	if got[1].DisplayName != "Visitor abcdef" {
		t.Errorf("web fallback name = %q, want %q", got[1].DisplayName, "Visitor abcdef")
	}
	// Web attention derived from unread.
	if !got[1].NeedsAttention {
		t.Error("web conversation with unread should need attention")
	}
}

func TestMergeIdempotent(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{{ID: "p1", ContactName: "Alice", LastMessageAt: ts(1000)}},
		web:   []backend.WebConversation{{ID: "w1", VisitorName: "Bob", LastMessageAt: ts(2000)}},
	}
	s := newSync(api)

	s.poll(context.Background())
	first := s.Snapshot()
	s.poll(context.Background())
	second := s.Snapshot()

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("got %d then %d conversations, want 2 and 2", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("row %d changed id across identical polls: %s -> %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestAbsentTimestampSortsLast(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{
			{ID: "empty", ContactName: "No messages"},
			{ID: "full", ContactName: "Has messages", LastMessageAt: ts(1000)},
		},
	}
	s := newSync(api)
	s.poll(context.Background())

	got := s.Snapshot()
	if got[len(got)-1].ID != "empty" {
		t.Errorf("conversation without timestamp not sorted last: %+v", got)
	}
}

func TestIndependentSettlement(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{{ID: "p1", ContactName: "Alice", LastMessageAt: ts(1000)}},
		web:   []backend.WebConversation{{ID: "w1", VisitorName: "Bob", LastMessageAt: ts(2000)}},
	}
	s := newSync(api)
	s.poll(context.Background())

	// Phone starts failing; web keeps updating.
	api.set(func(f *fakeAPI) {
		f.phoneErr = errors.New("gateway down")
		f.web = []backend.WebConversation{
			{ID: "w1", VisitorName: "Bob", LastMessageAt: ts(2000)},
			{ID: "w2", VisitorName: "Carol", LastMessageAt: ts(3000)},
		}
	})
	s.poll(context.Background())

	got := s.Snapshot()
	if len(got) != 3 {
		t.Fatalf("got %d conversations, want 3 (web updated, phone retained)", len(got))
	}
	ids := map[string]bool{}
	for _, c := range got {
		ids[c.ID] = true
	}
	if !ids["p1"] {
		t.Error("previous phone conversation lost on phone fetch failure")
	}
	if !ids["web:w2"] {
		t.Error("web update blocked by phone fetch failure")
	}
}

func TestBothFailRetainsPrevious(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{{ID: "p1", ContactName: "Alice", LastMessageAt: ts(1000)}},
	}
	s := newSync(api)
	s.poll(context.Background())

	api.set(func(f *fakeAPI) {
		f.phoneErr = errors.New("down")
		f.webErr = errors.New("down")
	})
	s.poll(context.Background())

	if got := s.Snapshot(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("previous list not retained: %+v", got)
	}
}

func TestSelectMarksReadAndStable(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", LastMessageAt: ts(1000), UnreadCount: 3},
		},
	}
	s := newSync(api)
	s.poll(context.Background())

	s.Select(context.Background(), "p1")

	if got := s.Snapshot(); got[0].UnreadCount != 0 {
		t.Errorf("unread = %d after Select, want 0", got[0].UnreadCount)
	}

	// Backend still reports stale unread on the next poll.
	s.poll(context.Background())
	if got := s.Snapshot(); got[0].UnreadCount != 0 {
		t.Errorf("unread = %d after stale poll, want 0 (read-state stability)", got[0].UnreadCount)
	}

	// A genuinely newer message resurfaces the counter.
	api.set(func(f *fakeAPI) {
		f.phone = []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", LastMessageAt: ts(5000), UnreadCount: 1},
		}
	})
	s.ClearOpen()
	s.poll(context.Background())
	if got := s.Snapshot(); got[0].UnreadCount != 1 {
		t.Errorf("unread = %d after new message, want 1", got[0].UnreadCount)
	}

	// The read receipt was requested.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		api.mu.Lock()
		n := len(api.readCalls)
		api.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("MarkRead never called")
}

func TestOpenConversationForcedRead(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", LastMessageAt: ts(1000), UnreadCount: 2},
		},
	}
	s := newSync(api)
	s.Select(context.Background(), "p1")

	// While open, even a newer message polls in as read.
	api.set(func(f *fakeAPI) {
		f.phone = []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", LastMessageAt: ts(9000), UnreadCount: 5},
		}
	})
	s.poll(context.Background())

	if got := s.Snapshot(); got[0].UnreadCount != 0 {
		t.Errorf("unread = %d for open conversation, want 0", got[0].UnreadCount)
	}
}

func TestFiltersArePure(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", LastMessageAt: ts(1000), NeedsAttention: true},
		},
		web: []backend.WebConversation{
			{ID: "w1", VisitorName: "Bob", LastMessageAt: ts(2000)},
		},
	}
	s := newSync(api)
	s.poll(context.Background())

	s.SetFilter(FilterPhone)
	if got := s.Snapshot(); len(got) != 1 || got[0].Source != model.SourcePhone {
		t.Errorf("phone filter: %+v", got)
	}

	s.SetFilter(FilterWeb)
	if got := s.Snapshot(); len(got) != 1 || got[0].Source != model.SourceWeb {
		t.Errorf("web filter: %+v", got)
	}

	s.SetFilter(FilterAttention)
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("attention filter: %+v", got)
	}

	s.SetFilter(FilterAll)
	if got := s.Snapshot(); len(got) != 2 {
		t.Errorf("all filter: %+v", got)
	}
}

func TestSearchMatchesNameAndPreview(t *testing.T) {
	api := &fakeAPI{
		phone: []backend.PhoneConversation{
			{ID: "p1", ContactName: "Alice", LastMessagePreview: "see you tomorrow", LastMessageAt: ts(1000)},
			{ID: "p2", ContactName: "Bob", LastMessagePreview: "ok", LastMessageAt: ts(2000)},
		},
	}
	s := newSync(api)
	s.poll(context.Background())

	s.SetSearch("ALICE")
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("name search: %+v", got)
	}

	s.SetSearch("tomorrow")
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("preview search: %+v", got)
	}

	s.SetSearch("")
	if got := s.Snapshot(); len(got) != 2 {
		t.Errorf("cleared search: %+v", got)
	}
}

func TestAdaptiveInterval(t *testing.T) {
	s := newSync(&fakeAPI{})
	now := time.Now()

	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
	if got := s.nextInterval(now); got != activeInterval {
		t.Errorf("interval with fresh activity = %v, want %v", got, activeInterval)
	}

	s.mu.Lock()
	s.lastActivity = now.Add(-90 * time.Second)
	s.mu.Unlock()
	if got := s.nextInterval(now); got != idleInterval {
		t.Errorf("interval after 90s idle = %v, want %v", got, idleInterval)
	}
}

func TestVisitorSuffix(t *testing.T) {
	tests := []struct{ in, want string }{
		{"visitor-abcdef", "abcdef"},
		{"ab", "ab"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := visitorSuffix(tt.in); got != tt.want {
			t.Errorf("visitorSuffix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
