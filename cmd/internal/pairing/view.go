package pairing

import (
	"encoding/json"
	"time"
)

// ViewStatus is the caller-facing disclosure level.
type ViewStatus string

const (
	// ViewLocked: unpaid. No invite code, no partner data, no analysis.
	ViewLocked ViewStatus = "locked"
	// ViewWaitingPartner: paid, partner slot empty. Invite code and join indicator are exposed.
	ViewWaitingPartner ViewStatus = "waiting_partner"
	// ViewProcessing: both halves present, analysis not stored yet.
	ViewProcessing ViewStatus = "processing"
	// ViewFinished: everything.
	ViewFinished ViewStatus = "finished"
)

// View is the Result Assembler output. Optional fields are only set at the
// stage that discloses them, so a later stage never shows less than an earlier one.
type View struct {
	SessionID     string        `json:"session_id"`
	Status        ViewStatus    `json:"status"`
	Stage         Stage         `json:"stage"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	IsFinished    bool          `json:"is_finished"`
	CreatedAt     time.Time     `json:"created_at"`

	InviteCode    string          `json:"invite_code,omitempty"`
	InitiatorName string          `json:"initiator_name,omitempty"`
	PartnerJoined *bool           `json:"partner_joined,omitempty"`
	PartnerName   string          `json:"partner_name,omitempty"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
}

// Disclose is a pure function of the session's persisted state.
func Disclose(s Session) View {
	v := View{
		SessionID:     s.ID,
		Stage:         s.Stage(),
		PaymentStatus: s.PaymentStatus,
		IsFinished:    s.IsFinished,
		CreatedAt:     s.CreatedAt,
	}

	if !s.Paid() {
		v.Status = ViewLocked
		v.IsFinished = false
		return v
	}

	joined := s.PartnerJoinedAt != nil || s.HasPartner()
	v.InviteCode = s.InviteCode
	v.InitiatorName = s.InitiatorName
	v.PartnerJoined = &joined
	// Before the partner submits this is the advisory join name.
	v.PartnerName = s.PartnerName

	switch {
	case !s.HasPartner():
		v.Status = ViewWaitingPartner
	case s.IsFinished && len(s.AnalysisResult) > 0:
		v.Status = ViewFinished
		v.Analysis = append(json.RawMessage(nil), s.AnalysisResult...)
	default:
		v.Status = ViewProcessing
	}
	return v
}
