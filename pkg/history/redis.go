package history

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/galpt/tunnelstats/pkg/types"
)

// redisKey is the single Redis list every run summary is pushed onto.
const redisKey = "tunnelstats:runs"

// RedisCmdable abstracts the subset of *redis.Client this package needs,
// so tests can supply a fake rather than require a live Redis server.
type RedisCmdable interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisHistoryStore persists run summaries to a Redis list via
// LPUSH/LTRIM/LRANGE instead of an in-process ring buffer, so history
// survives a process restart. It satisfies the same RunStore interface as
// RingStore.
type RedisHistoryStore struct {
	client   RedisCmdable
	ctx      context.Context
	capacity int64
}

// NewRedisHistoryStore wraps client, capping the list at capacity entries.
func NewRedisHistoryStore(ctx context.Context, client RedisCmdable, capacity int) *RedisHistoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &RedisHistoryStore{client: client, ctx: ctx, capacity: int64(capacity)}
}

// Record pushes s onto the front of the list and trims the list back down
// to capacity. Errors are swallowed (history is best-effort, never a
// reason to fail a run) but would be worth logging at the call site.
func (rs *RedisHistoryStore) Record(s types.RunSummary) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = rs.client.LPush(rs.ctx, redisKey, b)
	_ = rs.client.LTrim(rs.ctx, redisKey, 0, rs.capacity-1)
}

// Snapshot returns up to limit summaries in oldest-first order. limit <= 0
// means "all held".
func (rs *RedisHistoryStore) Snapshot(limit int) []types.RunSummary {
	stop := rs.capacity - 1
	if limit > 0 && int64(limit) < rs.capacity {
		stop = int64(limit) - 1
	}
	raw, err := rs.client.LRange(rs.ctx, redisKey, 0, stop).Result()
	if err != nil {
		return nil
	}
	out := make([]types.RunSummary, 0, len(raw))
	// LRANGE returns newest-first (index 0 is the most recent LPUSH); the
	// store's contract is oldest-first, matching RingStore.Snapshot.
	for i := len(raw) - 1; i >= 0; i-- {
		var s types.RunSummary
		if err := json.Unmarshal([]byte(raw[i]), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
