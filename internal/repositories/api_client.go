package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"campus-chat/internal/models"
)

// APIClient reads chat history and conversation summaries from the REST backend.
type APIClient struct {
	baseURL string
	client  *http.Client
	token   func() string
}

// NewAPIClient constructs an APIClient. token is called on every request.
func NewAPIClient(baseURL string, client *http.Client, token func() string) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), client: client, token: token}
}

// History fetches the messages exchanged with peerID. The backend derives the
// current user from the bearer token.
func (c *APIClient) History(ctx context.Context, userID int, peerID int) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.getJSON(ctx, fmt.Sprintf("/chat/chat/history/%d", peerID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Conversations fetches the conversation list of the current user.
func (c *APIClient) Conversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	var list []models.ConversationSummary
	if err := c.getJSON(ctx, "/chat/chat/conversations", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkRead records the read on the backend. The backend marks the messages of
// a peer read when their history is served, so the response is discarded.
func (c *APIClient) MarkRead(ctx context.Context, userID int, peerID int) error {
	var discard json.RawMessage
	return c.getJSON(ctx, fmt.Sprintf("/chat/chat/history/%d", peerID), &discard)
}

func (c *APIClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("GET %s: %w", path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %w %d: %s", path, ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
