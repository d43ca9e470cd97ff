package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memMaxSignals = 50_000

// MemoryRelay keeps signals in process memory with a TTL.
type MemoryRelay struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	signals map[string]Signal
}

// NewMemoryRelay constructs a MemoryRelay. ttl <= 0 uses DefaultTTL.
func NewMemoryRelay(ttl time.Duration) *MemoryRelay {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryRelay{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		signals: make(map[string]Signal),
	}
}

// Close is a no-op.
func (r *MemoryRelay) Close() error { return nil }

// Publish stores sig as the latest signal for sessionID.
func (r *MemoryRelay) Publish(ctx context.Context, sessionID string, sig Signal) error {
	if sessionID == "" {
		return errors.New("relay: missing session id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if sig.At.IsZero() {
		sig.At = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.signals) >= memMaxSignals {
		r.evictExpiredLocked()
	}
	r.signals[sessionID] = sig
	return nil
}

// Latest returns the unexpired signal for sessionID, if any.
func (r *MemoryRelay) Latest(ctx context.Context, sessionID string) (Signal, bool, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sig, ok := r.signals[sessionID]
	if !ok {
		return Signal{}, false, nil
	}
	if r.now().Sub(sig.At) > r.ttl {
		delete(r.signals, sessionID)
		return Signal{}, false, nil
	}
	return sig, true, nil
}

func (r *MemoryRelay) evictExpiredLocked() {
	cut := r.now().Add(-r.ttl)
	for id, sig := range r.signals {
		if sig.At.Before(cut) {
			delete(r.signals, id)
		}
	}
}
