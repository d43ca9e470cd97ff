package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu       sync.Mutex
	payloads map[string]json.RawMessage
	calls    int
}

func (s *recordingSink) StoreResult(_ context.Context, id string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.payloads == nil {
		s.payloads = map[string]json.RawMessage{}
	}
	s.payloads[id] = payload
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	attempts  map[string]int
	completed []bool
}

func (o *countingObserver) AnalysisAttempt(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempts == nil {
		o.attempts = map[string]int{}
	}
	o.attempts[result]++
}

func (o *countingObserver) AnalysisCompleted(ok bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, ok)
}

func fastConfig(attempts uint) DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:    attempts,
		Backoff:        time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func TestDispatcher_RetriesThenStores(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	analyzer := AnalyzerFunc(func(ctx context.Context, in Input) (Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return Result{}, ErrTransientUpstream
		}
		return Result{Score: 77, Title: "t", Analysis: "a", Tags: []string{"x"}}, nil
	})

	sink := &recordingSink{}
	obs := &countingObserver{}
	d := NewDispatcher(analyzer, sink, WithDispatcherConfig(fastConfig(5)), WithDispatcherObserver(obs))

	if err := d.Trigger(Input{SessionID: "s1"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if sink.calls != 1 {
		t.Fatalf("sink calls=%d want 1", sink.calls)
	}
	var got Result
	if err := json.Unmarshal(sink.payloads["s1"], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Score != 77 {
		t.Fatalf("score=%d want 77", got.Score)
	}
	if obs.attempts["error"] != 2 || obs.attempts["ok"] != 1 {
		t.Fatalf("attempts=%v", obs.attempts)
	}
	if len(obs.completed) != 1 || !obs.completed[0] {
		t.Fatalf("completed=%v", obs.completed)
	}
}

func TestDispatcher_GivesUpWithoutStoring(t *testing.T) {
	t.Parallel()

	analyzer := AnalyzerFunc(func(ctx context.Context, in Input) (Result, error) {
		return Result{}, ErrTransientUpstream
	})
	sink := &recordingSink{}
	obs := &countingObserver{}
	d := NewDispatcher(analyzer, sink, WithDispatcherConfig(fastConfig(3)), WithDispatcherObserver(obs))

	if err := d.Trigger(Input{SessionID: "s1"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if sink.calls != 0 {
		t.Fatalf("sink should not be called, got %d", sink.calls)
	}
	if obs.attempts["error"] != 3 {
		t.Fatalf("attempts=%v want 3 errors", obs.attempts)
	}
	if len(obs.completed) != 1 || obs.completed[0] {
		t.Fatalf("completed=%v", obs.completed)
	}
}

func TestDispatcher_TriggerAfterClose(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(NewLocalAnalyzer(nil), &recordingSink{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Trigger(Input{SessionID: "s1"}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("err=%v want ErrDispatcherClosed", err)
	}
}

func TestDispatcher_CloseCancelsBlockedWork(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	analyzer := AnalyzerFunc(func(ctx context.Context, in Input) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	d := NewDispatcher(analyzer, &recordingSink{}, WithDispatcherConfig(fastConfig(1)))
	if err := d.Trigger(Input{SessionID: "s1"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}
