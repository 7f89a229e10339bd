package store

import (
	"context"
	"time"

	"github.com/nexatel/voicedesk/internal/store"
)

const (
	// conversationTTL bounds how long idle conversations are kept in memory.
	conversationTTL = 24 * time.Hour
	cleanupInterval = 5 * time.Minute
)

// MemoryStore is the single-process Store implementation.
type MemoryStore struct {
	conversations *store.TTLStore[string, *Conversation]
}

// NewMemoryStore creates an in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: store.NewTTLStore[string, *Conversation](cleanupInterval),
	}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, conversationID string) (*Conversation, bool, error) {
	conv, ok := m.conversations.Get(conversationID)
	if !ok {
		return nil, false, nil
	}
	// Copy so callers never mutate the stored history in place.
	result := NewConversation()
	result.Messages = append(result.Messages, conv.Messages...)
	for k, v := range conv.Variables {
		result.Variables[k] = v
	}
	return result, true, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, conversationID string, conv *Conversation) error {
	m.conversations.Set(conversationID, conv, conversationTTL)
	return nil
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() {
	m.conversations.Close()
}

var _ Store = (*MemoryStore)(nil)
