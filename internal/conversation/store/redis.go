package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "voicedesk:conversation:"

// RedisStore is the distributed Store implementation. Conversations are
// stored as JSON blobs with a sliding expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed conversation store. The client's
// lifecycle is owned by the caller.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    conversationTTL,
	}
}

func (r *RedisStore) key(conversationID string) string {
	return r.prefix + conversationID
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, conversationID string) (*Conversation, bool, error) {
	data, err := r.client.Get(ctx, r.key(conversationID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, false, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	if conv.Variables == nil {
		conv.Variables = map[string]any{}
	}
	return &conv, true, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, conversationID string, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conversationID, err)
	}
	if err := r.client.Set(ctx, r.key(conversationID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
