package relay

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Integration tests are enabled when DUET_REDIS_URL is set.

func TestRedisRelay_PublishLatest(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("DUET_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: DUET_REDIS_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := DialRedis(ctx, raw, time.Minute)
	if err != nil {
		if os.Getenv("CI") == "" {
			t.Skipf("integration test skipped: redis unreachable: %v", err)
		}
		t.Fatalf("dial redis: %v", err)
	}
	defer func() { _ = r.Close() }()

	sessionID := "it-" + time.Now().UTC().Format("20060102150405.000000000")
	t.Cleanup(func() { _ = r.client.Del(context.Background(), r.key(sessionID)).Err() })

	if _, ok, err := r.Latest(ctx, sessionID); err != nil || ok {
		t.Fatalf("expected no signal, ok=%v err=%v", ok, err)
	}
	if err := r.Publish(ctx, sessionID, Signal{Name: "Bob"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sig, ok, err := r.Latest(ctx, sessionID)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if sig.Name != "Bob" || sig.At.IsZero() {
		t.Fatalf("unexpected signal: %+v", sig)
	}

	ttl, err := r.client.TTL(ctx, r.key(sessionID)).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}
