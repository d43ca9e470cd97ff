package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultMaxAttempts    = 5
	DefaultBackoff        = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultAttemptTimeout = 45 * time.Second
)

// ErrDispatcherClosed is returned by Trigger after Close.
var ErrDispatcherClosed = errors.New("analysis dispatcher closed")

// Sink stores a finished analysis for a session.
type Sink interface {
	StoreResult(ctx context.Context, sessionID string, payload json.RawMessage) error
}

// Observer receives dispatcher outcomes. All methods must be cheap.
type Observer interface {
	AnalysisAttempt(result string)
	AnalysisCompleted(ok bool, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) AnalysisAttempt(string)                {}
func (noopObserver) AnalysisCompleted(bool, time.Duration) {}

// DispatcherConfig bounds retries. Zero values fall back to defaults.
type DispatcherConfig struct {
	MaxAttempts    uint
	Backoff        time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// Dispatcher runs analyses in the background, one goroutine per trigger.
// A session whose analysis exhausts its attempts is left untouched.
type Dispatcher struct {
	log      *slog.Logger
	analyzer Analyzer
	sink     Sink
	observer Observer
	cfg      DispatcherConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func WithDispatcherObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

func WithDispatcherConfig(cfg DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) { d.cfg = cfg.withDefaults() }
}

// NewDispatcher wires analyzer output into sink.
func NewDispatcher(analyzer Analyzer, sink Sink, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:      slog.Default(),
		analyzer: analyzer,
		sink:     sink,
		observer: noopObserver{},
		cfg:      DispatcherConfig{}.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Trigger starts the analysis for in and returns immediately.
func (d *Dispatcher) Trigger(in Input) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(in)
	}()
	return nil
}

// Close stops accepting triggers and waits for in-flight work until ctx is done,
// after which remaining work is cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run(in Input) {
	start := time.Now()
	log := d.log.With("session_id", in.SessionID)

	var result Result
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(d.ctx, d.cfg.AttemptTimeout)
			defer cancel()

			r, err := d.analyzer.Analyze(attemptCtx, in)
			if err != nil {
				d.observer.AnalysisAttempt("error")
				return err
			}
			d.observer.AnalysisAttempt("ok")
			result = r
			return nil
		},
		d.retryOptions(log, "analysis.attempt.fail")...,
	)
	if err != nil {
		d.observer.AnalysisCompleted(false, time.Since(start))
		log.Error("analysis.give_up", "attempts", d.cfg.MaxAttempts, "err", err)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		d.observer.AnalysisCompleted(false, time.Since(start))
		log.Error("analysis.encode.fail", "err", err)
		return
	}

	err = retry.Do(
		func() error {
			return d.sink.StoreResult(d.ctx, in.SessionID, payload)
		},
		d.retryOptions(log, "analysis.store.fail")...,
	)
	if err != nil {
		d.observer.AnalysisCompleted(false, time.Since(start))
		log.Error("analysis.store.give_up", "err", err)
		return
	}

	d.observer.AnalysisCompleted(true, time.Since(start))
	log.Info("analysis.complete", "score", result.Score, "duration_ms", time.Since(start).Milliseconds())
}

func (d *Dispatcher) retryOptions(log *slog.Logger, event string) []retry.Option {
	return []retry.Option{
		retry.Context(d.ctx),
		retry.Attempts(d.cfg.MaxAttempts),
		retry.Delay(d.cfg.Backoff),
		retry.MaxDelay(d.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn(event, "attempt", n+1, "err", err)
		}),
	}
}
