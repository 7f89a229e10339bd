// Package workflow runs one conversation turn through the remote agent team.
// The team itself (turn-taking, tool calls, termination) lives behind its own
// service; this package only shuttles the conversation across.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	v1 "github.com/nexatel/voicedesk/api/types/v1"
	"github.com/nexatel/voicedesk/internal/conversation/store"
)

// Askable produces the team's new turns for a pending message given the
// conversation so far.
type Askable interface {
	Ask(ctx context.Context, conv *store.Conversation, message string) ([]v1.Message, error)
}

// RemoteTeam is the REST connection to the agent team service.
type RemoteTeam struct {
	id         string
	baseURL    string
	httpClient *http.Client
}

// NewRemoteTeam creates a connection to the team at baseURL. id names the
// askable on the remote side. A nil httpClient falls back to
// http.DefaultClient.
func NewRemoteTeam(id, baseURL string, httpClient *http.Client) *RemoteTeam {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteTeam{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type askRequest struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Messages  []v1.Message   `json:"messages"`
	Variables map[string]any `json:"variables"`
}

type askResponse struct {
	Messages  []v1.Message   `json:"messages"`
	Variables map[string]any `json:"variables"`
	Error     string         `json:"error,omitempty"`
}

// Ask implements Askable.
func (t *RemoteTeam) Ask(ctx context.Context, conv *store.Conversation, message string) ([]v1.Message, error) {
	body, err := json.Marshal(askRequest{
		ID:        t.id,
		Message:   message,
		Messages:  conv.Messages,
		Variables: conv.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ask request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ask team: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ask team: status %d: %s", resp.StatusCode, msg)
	}

	var result askResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode team response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("team workflow error: %s", result.Error)
	}

	// Variables are threaded back so the next turn resumes where the team
	// left off.
	if result.Variables != nil {
		conv.Variables = result.Variables
	}
	return result.Messages, nil
}

var _ Askable = (*RemoteTeam)(nil)
