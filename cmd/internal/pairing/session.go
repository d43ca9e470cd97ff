// Package pairing coordinates two-participant questionnaire sessions: invite codes,
// write-once answer slots, the payment gate and the staged disclosure of results.
package pairing

import (
	"encoding/json"
	"maps"
	"time"
)

// PaymentStatus is monotonic: unpaid -> paid only.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Stage is derived from the persisted slots of a Session.
type Stage string

const (
	StageAwaitingPayment Stage = "awaiting_payment"
	StageAwaitingPartner Stage = "awaiting_partner"
	StageAnalyzing       Stage = "analyzing"
	StageFinished        Stage = "finished"
)

// Answers maps a question id to the selected option label.
type Answers map[string]string

// Session is the shared record both participants converge on.
type Session struct {
	ID         string
	InviteCode string
	CreatedAt  time.Time

	InitiatorName    string
	InitiatorAnswers Answers

	PartnerName        string
	PartnerAnswers     Answers
	PartnerFingerprint string
	PartnerJoinedAt    *time.Time
	PartnerSubmittedAt *time.Time

	PaymentStatus PaymentStatus
	PaidAt        *time.Time

	IsFinished     bool
	AnalysisResult json.RawMessage
	FinishedAt     *time.Time
}

// HasPartner reports whether the partner slot has been written.
func (s Session) HasPartner() bool { return len(s.PartnerAnswers) > 0 }

// Paid reports whether the session has been unlocked.
func (s Session) Paid() bool { return s.PaymentStatus == PaymentPaid }

// Stage returns the state-machine position of the session.
func (s Session) Stage() Stage {
	switch {
	case !s.Paid():
		return StageAwaitingPayment
	case !s.HasPartner():
		return StageAwaitingPartner
	case !s.IsFinished || len(s.AnalysisResult) == 0:
		return StageAnalyzing
	default:
		return StageFinished
	}
}

// Clone returns a deep copy so callers can never mutate store-owned maps.
func (s Session) Clone() Session {
	out := s
	out.InitiatorAnswers = cloneAnswers(s.InitiatorAnswers)
	out.PartnerAnswers = cloneAnswers(s.PartnerAnswers)
	if s.AnalysisResult != nil {
		out.AnalysisResult = append(json.RawMessage(nil), s.AnalysisResult...)
	}
	out.PartnerJoinedAt = cloneTime(s.PartnerJoinedAt)
	out.PartnerSubmittedAt = cloneTime(s.PartnerSubmittedAt)
	out.PaidAt = cloneTime(s.PaidAt)
	out.FinishedAt = cloneTime(s.FinishedAt)
	return out
}

func cloneAnswers(a Answers) Answers {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
