// Package backend is the REST client for the inbox backend. Storage,
// auth issuance and message dispatch live behind this boundary; the
// synchronizers only ever see these request/response shapes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client calls the backend REST API with a bearer credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a backend client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ListPhoneConversations fetches the phone-sourced conversations for a workspace.
func (c *Client) ListPhoneConversations(ctx context.Context, workspaceID string) ([]PhoneConversation, error) {
	var out []PhoneConversation
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/workspaces/%s/whatsapp/conversations", url.PathEscape(workspaceID)), nil, &out)
	return out, err
}

// ListWebConversations fetches the widget-sourced conversations for a workspace.
func (c *Client) ListWebConversations(ctx context.Context, workspaceID string) ([]WebConversation, error) {
	var out []WebConversation
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/workspaces/%s/widget/conversations", url.PathEscape(workspaceID)), nil, &out)
	return out, err
}

// PhoneMessages fetches up to limit messages for a phone-sourced conversation.
func (c *Client) PhoneMessages(ctx context.Context, conversationID string, limit int) ([]PhoneMessage, error) {
	var out []PhoneMessage
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/whatsapp/conversations/%s/messages?limit=%d", url.PathEscape(conversationID), limit), nil, &out)
	return out, err
}

// WebConversationByID fetches a single widget conversation, used to resolve
// its widget id before addressing the message endpoints.
func (c *Client) WebConversationByID(ctx context.Context, conversationID string) (*WebConversation, error) {
	var out WebConversation
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/widget/conversations/%s", url.PathEscape(conversationID)), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// WebMessages fetches messages for a widget-sourced conversation.
func (c *Client) WebMessages(ctx context.Context, widgetID, conversationID string) ([]WebMessage, error) {
	var out []WebMessage
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/widgets/%s/conversations/%s/messages",
			url.PathEscape(widgetID), url.PathEscape(conversationID)), nil, &out)
	return out, err
}

// SendPhoneMessage sends an operator message to a phone-sourced conversation.
func (c *Client) SendPhoneMessage(ctx context.Context, conversationID, content string) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/whatsapp/conversations/%s/messages", url.PathEscape(conversationID)),
		map[string]string{"content": content}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendWebMessage sends an operator message to a widget-sourced conversation.
func (c *Client) SendWebMessage(ctx context.Context, widgetID, conversationID, content string) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/widgets/%s/conversations/%s/messages",
			url.PathEscape(widgetID), url.PathEscape(conversationID)),
		map[string]string{"content": content}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead requests a backend read-receipt for a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/read", url.PathEscape(conversationID)), nil, nil)
}

// ListSessions fetches the authoritative device session list for a workspace.
func (c *Client) ListSessions(ctx context.Context, workspaceID string) ([]Session, error) {
	var out []Session
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/workspaces/%s/sessions", url.PathEscape(workspaceID)), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
