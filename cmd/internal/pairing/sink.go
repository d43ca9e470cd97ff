package pairing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// ResultSink stores finished analyses through a Store. It is the write side of
// the analysis dispatcher.
type ResultSink struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewResultSink returns a sink writing into store.
func NewResultSink(store Store, log *slog.Logger) *ResultSink {
	if log == nil {
		log = slog.Default()
	}
	return &ResultSink{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// StoreResult completes the session. A lost write (result already stored) is not an error.
func (s *ResultSink) StoreResult(ctx context.Context, sessionID string, payload json.RawMessage) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	res, err := s.store.CompleteAnalysis(ctx, CompleteRecord{
		SessionID: sessionID,
		Result:    payload,
		Now:       s.now(),
	})
	if err != nil {
		return err
	}
	if !res.Applied {
		s.log.Warn("analysis.store.skip", "session_id", sessionID, "finished", res.Session.IsFinished)
	}
	return nil
}
