package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/pmelo/unibox/internal/bus"
	"go.uber.org/zap"
)

func testClient(t *testing.T, url string) (*Client, *bus.Bus) {
	t.Helper()
	b := bus.New()
	c := NewClient(url, NewMachine(b), zap.NewNop())
	t.Cleanup(c.Disconnect)
	return c, b
}

func TestCanonicalAliases(t *testing.T) {
	tests := []struct{ in, want string }{
		{"qr", EventQR},
		{"ready", EventReady},
		{"disconnected", EventDisconnected},
		{"auth_failure", EventAuthFailure},
		{"status_update", EventStatusUpdate},
		{"message", EventMessage},
		{"message_ack", EventMessageAck},
		{EventMessage, EventMessage},
		{"unknown:event", "unknown:event"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Fatalf("initial state = %s, want %s", m.Current(), Disconnected)
	}
	if err := m.Transition(Connected); err == nil {
		t.Error("Disconnected -> Connected should be invalid")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Connected); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Disconnected); err != nil {
		t.Fatal(err)
	}
}

func TestMachinePublishesStateChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("realtime.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.TransitionWithReason(Connecting, ""); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		sc, ok := evt.Payload.(StateChange)
		if !ok {
			t.Fatalf("payload type %T, want StateChange", evt.Payload)
		}
		if sc.From != Disconnected || sc.To != Connecting {
			t.Errorf("change = %+v, want Disconnected -> Connecting", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}

func TestLegacyDispatchSharesHandler(t *testing.T) {
	c, _ := testClient(t, "ws://unused")

	got := make(chan string, 2)
	unsub := c.On(EventMessage, func(data json.RawMessage) {
		got <- string(data)
	})
	defer unsub()

	c.dispatch(Frame{Event: "message", Data: json.RawMessage(`"legacy"`)})
	c.dispatch(Frame{Event: EventMessage, Data: json.RawMessage(`"canonical"`)})

	for _, want := range []string{`"legacy"`, `"canonical"`} {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("got %s, want %s", v, want)
			}
		case <-time.After(time.Second):
			t.Fatal("handler not invoked")
		}
	}
}

func TestUnsubscribeStopsDispatch(t *testing.T) {
	c, _ := testClient(t, "ws://unused")

	got := make(chan struct{}, 1)
	unsub := c.On("qr", func(json.RawMessage) { got <- struct{}{} })
	unsub()

	c.dispatch(Frame{Event: "qr"})

	select {
	case <-got:
		t.Error("handler invoked after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitNotConnected(t *testing.T) {
	c, _ := testClient(t, "ws://unused")
	if err := c.Emit(context.Background(), EventJoin, JoinPayload{}); err != ErrNotConnected {
		t.Errorf("Emit error = %v, want ErrNotConnected", err)
	}
}

func TestConnectWithoutTokenIsNoop(t *testing.T) {
	c, _ := testClient(t, "ws://unused")
	c.Connect(context.Background(), "")
	if c.Connected() {
		t.Error("client connected without a token")
	}
}

func TestAuthRejectedStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := testClient(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	// Not a real JWT; identity parse fails soft, auth rejection is what matters.
	c.Connect(context.Background(), "bad-token")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.AuthFailed() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("client never surfaced the credential rejection")
}

func TestConnectJoinsAndDispatches(t *testing.T) {
	join := make(chan Frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		_ = json.Unmarshal(data, &f)
		join <- f

		evt, _ := json.Marshal(Frame{Event: "message", Data: json.RawMessage(`{"conversation_id":"c1"}`)})
		_ = conn.Write(ctx, websocket.MessageText, evt)

		// Hold the connection open until the client disconnects.
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	c, _ := testClient(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	got := make(chan MessagePayload, 1)
	unsub := c.On(EventMessage, func(data json.RawMessage) {
		var p MessagePayload
		_ = json.Unmarshal(data, &p)
		got <- p
	})
	defer unsub()

	c.Connect(context.Background(), "some-token")

	select {
	case f := <-join:
		if f.Event != EventJoin {
			t.Errorf("first frame = %q, want %q", f.Event, EventJoin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received join")
	}

	select {
	case p := <-got:
		if p.ConversationID != "c1" {
			t.Errorf("conversation_id = %q, want c1", p.ConversationID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message event never dispatched")
	}
}
