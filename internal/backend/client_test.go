package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-token")
	if _, err := c.ListPhoneConversations(context.Background(), "ws1"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
	}
}

func TestListPhoneConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/workspaces/ws1/whatsapp/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"c1","contact_name":"Alice","unread_count":2,"needs_attention":true}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "t")
	convs, err := c.ListPhoneConversations(context.Background(), "ws1")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ContactName != "Alice" || convs[0].UnreadCount != 2 {
		t.Errorf("got %+v, want Alice with 2 unread", convs)
	}
}

func TestSendPhoneMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		_, _ = w.Write([]byte(`{"id":"srv-1","chatbot_disabled":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "t")
	res, err := c.SendPhoneMessage(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "srv-1" || !res.ChatbotDisabled {
		t.Errorf("got %+v, want id=srv-1 chatbot_disabled=true", res)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "t")
	if _, err := c.ListWebConversations(context.Background(), "ws1"); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestMarkRead(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.URL.Path != "/api/conversations/c9/read" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "t")
	if err := c.MarkRead(context.Background(), "c9"); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("read receipt endpoint not called")
	}
}
