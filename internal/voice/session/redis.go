package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout: one hash per call under {prefix}{callConnectionId} with
// fields caller_id, retries, state. Expiry mirrors MaxCallTTL.
const defaultRedisPrefix = "voicedesk:call:"

// decrScript decrements the retry counter only for live sessions and floors
// it at zero; -1 signals a missing session. Runs atomically server-side.
var decrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local v = redis.call('HINCRBY', KEYS[1], 'retries', -1)
if v < 0 then
	redis.call('HSET', KEYS[1], 'retries', 0)
	v = 0
end
return v
`)

// createScript creates the session hash only if absent. Returns 1 on create.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'caller_id', ARGV[1], 'retries', ARGV[2], 'state', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// setStateScript validates the lifecycle transition before writing. The
// transition table is passed in as "from:next" pairs. Returns -1 for a
// missing session, 0 for a forbidden transition, 1 on success.
var setStateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local current = redis.call('HGET', KEYS[1], 'state')
local next = ARGV[1]
for pair in string.gmatch(ARGV[2], '[^,]+') do
	local from, to = string.match(pair, '(%d+):(%d+)')
	if from == current and to == next then
		redis.call('HSET', KEYS[1], 'state', next)
		return 1
	end
end
return 0
`)

// RedisStore is the distributed Store implementation. Per-key atomicity
// comes from Redis executing each script as a single operation.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store. The client's lifecycle
// is owned by the caller.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    MaxCallTTL,
	}
}

func (r *RedisStore) key(callConnectionID string) string {
	return r.prefix + callConnectionID
}

// transitionPairs encodes validTransitions for the state script.
func transitionPairs() string {
	pairs := ""
	for from, allowed := range validTransitions {
		for _, to := range allowed {
			if pairs != "" {
				pairs += ","
			}
			pairs += fmt.Sprintf("%d:%d", from, to)
		}
	}
	return pairs
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, s *CallSession) (bool, error) {
	created, err := createScript.Run(ctx, r.client, []string{r.key(s.CallConnectionID)},
		s.CallerID, s.RetriesRemaining, int(s.State), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("create session: %w", err)
	}
	return created == 1, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, callConnectionID string) (*CallSession, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(callConnectionID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	retries, err := strconv.Atoi(fields["retries"])
	if err != nil {
		return nil, false, fmt.Errorf("corrupt retries field for %s: %w", callConnectionID, err)
	}
	state, err := strconv.Atoi(fields["state"])
	if err != nil {
		return nil, false, fmt.Errorf("corrupt state field for %s: %w", callConnectionID, err)
	}

	return &CallSession{
		CallConnectionID: callConnectionID,
		CallerID:         fields["caller_id"],
		RetriesRemaining: retries,
		State:            State(state),
	}, true, nil
}

// DecrementRetries implements Store.
func (r *RedisStore) DecrementRetries(ctx context.Context, callConnectionID string) (int, bool, error) {
	remaining, err := decrScript.Run(ctx, r.client, []string{r.key(callConnectionID)}).Int()
	if err != nil {
		return 0, false, fmt.Errorf("decrement retries: %w", err)
	}
	if remaining < 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

// SetState implements Store.
func (r *RedisStore) SetState(ctx context.Context, callConnectionID string, next State) (bool, error) {
	res, err := setStateScript.Run(ctx, r.client, []string{r.key(callConnectionID)},
		int(next), transitionPairs()).Int()
	if err != nil {
		return false, fmt.Errorf("set session state: %w", err)
	}
	switch res {
	case -1:
		return false, nil
	case 0:
		return true, ErrInvalidTransition
	default:
		return true, nil
	}
}

// Remove implements Store.
func (r *RedisStore) Remove(ctx context.Context, callConnectionID string) error {
	if err := r.client.Del(ctx, r.key(callConnectionID)).Err(); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
