package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/galpt/tunnelstats/pkg/types"
)

// fakeRedis is a minimal in-memory stand-in for RedisCmdable, letting these
// tests exercise RedisHistoryStore without a live Redis server.
type fakeRedis struct {
	list []string
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		b, ok := v.([]byte)
		if !ok {
			b = []byte(v.(string))
		}
		f.list = append([]string{string(b)}, f.list...)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.list)))
	return cmd
}

func (f *fakeRedis) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	if stop >= 0 && int(stop)+1 < len(f.list) {
		f.list = f.list[:stop+1]
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	lo, hi := int(start), int(stop)
	if hi < 0 || hi >= len(f.list) {
		hi = len(f.list) - 1
	}
	var out []string
	if lo <= hi {
		out = append(out, f.list[lo:hi+1]...)
	}
	cmd := redis.NewStringSliceCmd(ctx)
	cmd.SetVal(out)
	return cmd
}

func TestRedisHistoryStoreSnapshotOrdering(t *testing.T) {
	fake := &fakeRedis{}
	store := NewRedisHistoryStore(context.Background(), fake, 10)
	for i := 1; i <= 3; i++ {
		store.Record(sample(i))
	}
	snap := store.Snapshot(0)
	if len(snap) != 3 {
		t.Fatalf("want 3 summaries, got %d", len(snap))
	}
	for i, s := range snap {
		if s.FlowCount != i+1 {
			t.Fatalf("snapshot[%d].FlowCount = %d, want %d", i, s.FlowCount, i+1)
		}
	}
}

func TestRedisHistoryStoreTrimsToCapacity(t *testing.T) {
	fake := &fakeRedis{}
	store := NewRedisHistoryStore(context.Background(), fake, 2)
	for i := 1; i <= 4; i++ {
		store.Record(sample(i))
	}
	if len(fake.list) != 2 {
		t.Fatalf("want redis list trimmed to capacity 2, got %d", len(fake.list))
	}
	snap := store.Snapshot(0)
	if len(snap) != 2 || snap[0].FlowCount != 3 || snap[1].FlowCount != 4 {
		t.Fatalf("want [3,4] oldest-first after trim, got %+v", snap)
	}
}

func TestRedisHistoryStoreRoundTripsJSON(t *testing.T) {
	fake := &fakeRedis{}
	store := NewRedisHistoryStore(context.Background(), fake, 5)
	want := sample(7)
	want.GeneratedAt = time.Now().UTC().Truncate(time.Second)
	store.Record(want)

	var got types.RunSummary
	if err := json.Unmarshal([]byte(fake.list[0]), &got); err != nil {
		t.Fatalf("unmarshal stored entry: %v", err)
	}
	if got.FlowCount != want.FlowCount || !got.GeneratedAt.Equal(want.GeneratedAt) {
		t.Fatalf("round-tripped summary mismatch: got %+v want %+v", got, want)
	}
}
