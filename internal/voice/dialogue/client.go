// Package dialogue turns a caller utterance into a reply by calling the
// conversation API, which fronts the multi-agent team.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	v1 "github.com/nexatel/voicedesk/api/types/v1"
)

// Client posts caller utterances to the conversation API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a dialogue client for the given conversation API base
// URL. A nil httpClient falls back to http.DefaultClient; callers that issue
// many turns should pass a shared client so connections are reused.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Ask sends the utterance as a turn in the identified conversation and
// returns the new turns produced by the team, in order.
func (c *Client) Ask(ctx context.Context, utterance, conversationID string) ([]v1.Message, error) {
	body, err := json.Marshal(v1.MessageRequest{Message: utterance})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	endpoint := c.baseURL + "/conversation/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ask agents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ask agents: status %d: %s", resp.StatusCode, msg)
	}

	var messages []v1.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode agent reply: %w", err)
	}
	return messages, nil
}

// AssistantReply joins the assistant-authored turns with newlines to form
// the spoken reply. Customer-authored turns are excluded even when they
// carry role "user".
func AssistantReply(messages []v1.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role != v1.RoleAssistant || m.IsCustomerAuthored() {
			continue
		}
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
