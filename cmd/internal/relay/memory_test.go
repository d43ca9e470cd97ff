package relay

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRelay_PublishLatest(t *testing.T) {
	t.Parallel()

	r := NewMemoryRelay(time.Hour)
	ctx := context.Background()

	if _, ok, err := r.Latest(ctx, "S1"); err != nil || ok {
		t.Fatalf("expected no signal, ok=%v err=%v", ok, err)
	}

	at := time.Now().UTC()
	if err := r.Publish(ctx, "S1", Signal{Name: "Bob", At: at}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sig, ok, err := r.Latest(ctx, "S1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if sig.Name != "Bob" || !sig.At.Equal(at) {
		t.Fatalf("unexpected signal: %+v", sig)
	}
}

func TestMemoryRelay_Expires(t *testing.T) {
	t.Parallel()

	r := NewMemoryRelay(time.Minute)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	ctx := context.Background()
	if err := r.Publish(ctx, "S1", Signal{Name: "Bob"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok, _ := r.Latest(ctx, "S1"); ok {
		t.Fatalf("expected signal to expire")
	}
}

func TestMemoryRelay_RejectsEmptySession(t *testing.T) {
	t.Parallel()

	r := NewMemoryRelay(0)
	if err := r.Publish(context.Background(), "", Signal{Name: "x"}); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}
