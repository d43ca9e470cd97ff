package pairing

import (
	"context"
	"encoding/json"
	"time"
)

// CreateRecord is a normalized session insert payload.
type CreateRecord struct {
	ID               string
	InviteCode       string
	InitiatorName    string
	InitiatorAnswers Answers
	CreatedAt        time.Time
}

// PartnerRecord describes a partner slot write keyed by invite code.
type PartnerRecord struct {
	InviteCode  string
	Name        string
	Answers     Answers
	Fingerprint string
	Now         time.Time
}

// JoinRecord describes an advisory join-name update.
type JoinRecord struct {
	InviteCode string
	Name       string
	Now        time.Time
}

// CompleteRecord stores the analysis payload verbatim.
type CompleteRecord struct {
	SessionID string
	Result    json.RawMessage
	Now       time.Time
}

// WriteResult reports the post-call state of a conditional write.
// Applied is true only for the call that won the write.
type WriteResult struct {
	Session Session
	Applied bool
}

// Store is the persistence boundary for sessions.
//
// Requirements:
//   - invite_code is unique across sessions (ErrCodeTaken on collision)
//   - every write-once slot uses a conditional write; losers get Applied=false and the current row
//   - unknown ids/codes return ErrNotFound
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	GetByCode(ctx context.Context, code string) (Session, error)
	CodeExists(ctx context.Context, code string) (bool, error)

	// MarkPaid flips unpaid -> paid.
	MarkPaid(ctx context.Context, id string, now time.Time) (WriteResult, error)
	// SetJoinName records the advisory partner name while the partner slot is empty on a paid session.
	SetJoinName(ctx context.Context, in JoinRecord) (WriteResult, error)
	// RecordPartner fills the partner slot of a paid session whose slot is empty.
	RecordPartner(ctx context.Context, in PartnerRecord) (WriteResult, error)
	// CompleteAnalysis stores the result once both slots are present and flips is_finished.
	CompleteAnalysis(ctx context.Context, in CompleteRecord) (WriteResult, error)

	Close() error
}
