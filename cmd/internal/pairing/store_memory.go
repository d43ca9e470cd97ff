package pairing

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when no database is configured.
// A single mutex makes every conditional write atomic.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byCode map[string]string // invite_code -> id
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]*Session),
		byCode: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Create inserts a new unpaid session.
func (s *InMemoryStore) Create(ctx context.Context, in CreateRecord) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(in.ID) == "" || !ValidCode(in.InviteCode) || len(in.InitiatorAnswers) == 0 {
		return Session{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[in.InviteCode]; ok {
		return Session{}, ErrCodeTaken
	}
	if _, ok := s.byID[in.ID]; ok {
		return Session{}, ErrInvalidInput
	}

	sess := &Session{
		ID:               in.ID,
		InviteCode:       in.InviteCode,
		CreatedAt:        in.CreatedAt,
		InitiatorName:    in.InitiatorName,
		InitiatorAnswers: cloneAnswers(in.InitiatorAnswers),
		PaymentStatus:    PaymentUnpaid,
	}
	s.byID[in.ID] = sess
	s.byCode[in.InviteCode] = in.ID
	return sess.Clone(), nil
}

// Get returns a session by id.
func (s *InMemoryStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess.Clone(), nil
}

// GetByCode returns a session by invite code.
func (s *InMemoryStore) GetByCode(ctx context.Context, code string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookupCodeLocked(code)
	if sess == nil {
		return Session{}, ErrNotFound
	}
	return sess.Clone(), nil
}

// CodeExists reports whether code is already allocated.
func (s *InMemoryStore) CodeExists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byCode[code]
	return ok, nil
}

// MarkPaid flips unpaid -> paid.
func (s *InMemoryStore) MarkPaid(ctx context.Context, id string, now time.Time) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return WriteResult{}, ErrNotFound
	}
	if sess.Paid() {
		return WriteResult{Session: sess.Clone()}, nil
	}
	sess.PaymentStatus = PaymentPaid
	sess.PaidAt = &now
	return WriteResult{Session: sess.Clone(), Applied: true}, nil
}

// SetJoinName records the advisory partner name.
func (s *InMemoryStore) SetJoinName(ctx context.Context, in JoinRecord) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookupCodeLocked(in.InviteCode)
	if sess == nil {
		return WriteResult{}, ErrNotFound
	}
	if !sess.Paid() || sess.HasPartner() {
		return WriteResult{Session: sess.Clone()}, nil
	}
	sess.PartnerName = in.Name
	sess.PartnerJoinedAt = &in.Now
	return WriteResult{Session: sess.Clone(), Applied: true}, nil
}

// RecordPartner fills the partner slot.
func (s *InMemoryStore) RecordPartner(ctx context.Context, in PartnerRecord) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if len(in.Answers) == 0 || in.Fingerprint == "" {
		return WriteResult{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookupCodeLocked(in.InviteCode)
	if sess == nil {
		return WriteResult{}, ErrNotFound
	}
	if !sess.Paid() || sess.HasPartner() {
		return WriteResult{Session: sess.Clone()}, nil
	}
	sess.PartnerName = in.Name
	sess.PartnerAnswers = cloneAnswers(in.Answers)
	sess.PartnerFingerprint = in.Fingerprint
	sess.PartnerSubmittedAt = &in.Now
	return WriteResult{Session: sess.Clone(), Applied: true}, nil
}

// CompleteAnalysis stores the analysis payload and flips is_finished.
func (s *InMemoryStore) CompleteAnalysis(ctx context.Context, in CompleteRecord) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if len(in.Result) == 0 {
		return WriteResult{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[in.SessionID]
	if !ok {
		return WriteResult{}, ErrNotFound
	}
	if !sess.HasPartner() || len(sess.AnalysisResult) > 0 {
		return WriteResult{Session: sess.Clone()}, nil
	}
	sess.AnalysisResult = append(json.RawMessage(nil), in.Result...)
	sess.IsFinished = true
	sess.FinishedAt = &in.Now
	return WriteResult{Session: sess.Clone(), Applied: true}, nil
}

func (s *InMemoryStore) lookupCodeLocked(code string) *Session {
	id, ok := s.byCode[code]
	if !ok {
		return nil
	}
	return s.byID[id]
}
