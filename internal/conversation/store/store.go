// Package store persists conversation history keyed by conversation id.
package store

import (
	"context"

	v1 "github.com/nexatel/voicedesk/api/types/v1"
)

// Conversation is the full history of one customer conversation plus the
// workflow variables the agent team threads through turns.
type Conversation struct {
	Messages  []v1.Message   `json:"messages"`
	Variables map[string]any `json:"variables"`
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		Messages:  []v1.Message{},
		Variables: map[string]any{},
	}
}

// Store reads and upserts conversations. Implementations must be safe for
// concurrent use; the voice gateway and chat channels share conversation ids
// with the caller's phone number.
type Store interface {
	// Get retrieves a conversation by id.
	Get(ctx context.Context, conversationID string) (*Conversation, bool, error)

	// Save upserts the full conversation.
	Save(ctx context.Context, conversationID string, conv *Conversation) error
}
