package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	m := NewRedisMirror(client, "test-"+uuid.NewString()[:8], time.Minute)
	sub := client.Subscribe(ctx, m.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := m.Online(ctx, "alice", "c1"); err != nil {
		t.Fatalf("online: %v", err)
	}
	if st, _ := m.Status(ctx, "alice"); st != "online" {
		t.Fatalf("status = %s", st)
	}
	select {
	case <-sub.Channel():
	case <-time.After(2 * time.Second):
		t.Fatalf("no presence message published")
	}

	if err := m.Offline(ctx, "alice", "c1", true); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if st, _ := m.Status(ctx, "alice"); st != "offline" {
		t.Fatalf("status = %s", st)
	}
	if st, _ := m.Status(ctx, "nobody"); st != "offline" {
		t.Fatalf("missing key should read offline, got %s", st)
	}
	client.Del(ctx, m.connKey("alice"), m.presenceKey("alice"))
}
