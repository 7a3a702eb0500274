package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestInsertLimitScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(insertLimitScript)

	for want := int64(1); want <= 2; want++ {
		id, err := script.Run(ctx, client,
			[]string{keyLimitSeq, keyLimitsAll},
			keyPrefix+"limits:", "example.com", 30, "2024-03-05T08:00:00Z", "2024-03-05T08:00:00Z",
		).Int64()
		if err != nil {
			t.Fatalf("script failed: %v", err)
		}
		if id != want {
			t.Errorf("expected id %d, got %d", want, id)
		}
	}

	if got := mr.HGet(limitKey(2), "pattern"); got != "example.com" {
		t.Errorf("expected pattern to be stored, got %q", got)
	}
	if got := mr.HGet(limitKey(2), "limit"); got != "30" {
		t.Errorf("expected limit 30, got %q", got)
	}
	members, err := mr.ZMembers(keyLimitsAll)
	if err != nil {
		t.Fatalf("index missing: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 index entries, got %d", len(members))
	}
}
