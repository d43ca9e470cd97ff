package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"duet/cmd/internal/analysis"
	"duet/cmd/internal/ids"
	"duet/cmd/internal/relay"
)

const defaultJoinTimeout = 2 * time.Second

// PartnerOutcome describes how a partner submission was resolved.
type PartnerOutcome string

const (
	// PartnerSubmitted is the call that won the partner slot.
	PartnerSubmitted PartnerOutcome = "submitted"
	// PartnerReplayed is an identical retry of an earlier successful submission.
	PartnerReplayed PartnerOutcome = "replayed"
	// PartnerAlreadyFinished is an identical retry on a session whose analysis is done.
	PartnerAlreadyFinished PartnerOutcome = "already_finished"
)

// PartnerResult is returned by SubmitPartner.
type PartnerResult struct {
	SessionID string
	Outcome   PartnerOutcome
}

// JoinSignal is the initiator-facing view of the "partner has joined" notification.
type JoinSignal struct {
	Joined bool       `json:"joined"`
	Name   string     `json:"name,omitempty"`
	At     *time.Time `json:"at,omitempty"`
}

// AnalysisTrigger starts the analysis of a session without waiting for it.
type AnalysisTrigger interface {
	Trigger(in analysis.Input) error
}

// AnswerValidator checks answer keys and labels against a question bank.
type AnswerValidator interface {
	ValidateAnswers(answers map[string]string) error
}

// Observer receives coordinator events. All methods must be cheap.
type Observer interface {
	SessionCreated()
	SessionPaid()
	PartnerSubmission(outcome string)
	JoinNotification(result string)
}

type noopObserver struct{}

func (noopObserver) SessionCreated()          {}
func (noopObserver) SessionPaid()             {}
func (noopObserver) PartnerSubmission(string) {}
func (noopObserver) JoinNotification(string)  {}

// Coordinator is the session state machine.
//
// Every state change goes through a conditional store write; the analysis is
// triggered only by the call whose RecordPartner write was applied.
type Coordinator struct {
	store     Store
	trigger   AnalysisTrigger
	relay     relay.Relay
	validator AnswerValidator
	observer  Observer
	log       *slog.Logger
	now       func() time.Time
	codes     CodeGenerator

	codeAttempts int
	joinTimeout  time.Duration
}

// Option configures the Coordinator.
type Option func(*Coordinator) error

// WithAnalysisTrigger sets the collaborator started when a partner submission wins.
func WithAnalysisTrigger(t AnalysisTrigger) Option {
	return func(c *Coordinator) error {
		if t == nil {
			return ErrInvalidInput
		}
		c.trigger = t
		return nil
	}
}

// WithRelay sets where join signals are published.
func WithRelay(r relay.Relay) Option {
	return func(c *Coordinator) error {
		if r == nil {
			return ErrInvalidInput
		}
		c.relay = r
		return nil
	}
}

// WithAnswerValidator enables question bank checks on both submissions.
func WithAnswerValidator(v AnswerValidator) Option {
	return func(c *Coordinator) error {
		c.validator = v
		return nil
	}
}

// WithObserver reports coordinator events, typically to metrics. nil keeps the no-op observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) error {
		if o != nil {
			c.observer = o
		}
		return nil
	}
}

// WithLogger sets the structured logger. nil keeps slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) error {
		if now == nil {
			return ErrInvalidInput
		}
		c.now = now
		return nil
	}
}

// WithCodeGenerator replaces the crypto/rand invite code source.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(c *Coordinator) error {
		c.codes = g
		return nil
	}
}

// WithJoinTimeout bounds the advisory join write.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		c.joinTimeout = d
		return nil
	}
}

// NewCoordinator constructs a Coordinator with safe defaults.
func NewCoordinator(store Store, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	c := &Coordinator{
		store:        store,
		observer:     noopObserver{},
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		codes:        NewCodeGenerator(nil),
		codeAttempts: defaultCodeAttempts,
		joinTimeout:  defaultJoinTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SubmitInitiator validates the initiator's half and creates an unpaid session
// with a freshly allocated invite code. The code is not returned; it becomes
// visible through View once the session is paid.
func (c *Coordinator) SubmitInitiator(ctx context.Context, name string, answers map[string]string) (string, error) {
	if c == nil || c.store == nil {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name = NormalizeName(name)
	if err := validateName("name", name); err != nil {
		return "", err
	}
	normalized := NormalizeAnswers(answers)
	if err := c.checkAnswers(normalized); err != nil {
		return "", err
	}

	now := c.now()
	for attempt := 0; attempt < c.codeAttempts; attempt++ {
		code, err := c.codes.Generate()
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		taken, err := c.store.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}

		id, err := ids.NewULID(now)
		if err != nil {
			return "", err
		}
		sess, err := c.store.Create(ctx, CreateRecord{
			ID:               id,
			InviteCode:       code,
			InitiatorName:    name,
			InitiatorAnswers: normalized,
			CreatedAt:        now,
		})
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return "", err
		}

		c.observer.SessionCreated()
		c.log.Info("session.create", "session_id", sess.ID, "answers", len(normalized))
		return sess.ID, nil
	}
	return "", fmt.Errorf("allocate invite code: %d collisions in a row", c.codeAttempts)
}

// MarkPaid unlocks a session. Repeated calls are no-ops.
func (c *Coordinator) MarkPaid(ctx context.Context, sessionID string) (Session, error) {
	if c == nil || c.store == nil || sessionID == "" {
		return Session{}, ErrInvalidInput
	}
	if !ids.Valid(sessionID) {
		return Session{}, ErrNotFound
	}
	res, err := c.store.MarkPaid(ctx, sessionID, c.now())
	if err != nil {
		return Session{}, err
	}
	if res.Applied {
		c.observer.SessionPaid()
		c.log.Info("session.paid", "session_id", sessionID)
	}
	return res.Session, nil
}

// NotifyJoin records that a partner opened an invite. It is advisory: every
// failure is logged and swallowed.
func (c *Coordinator) NotifyJoin(ctx context.Context, code, name string) {
	if c == nil || c.store == nil {
		return
	}
	code = NormalizeCode(code)
	name = truncateRunes(NormalizeName(name), maxNameRunes)
	if !ValidCode(code) || name == "" {
		c.observer.JoinNotification("ignored")
		c.log.Debug("join.notify.ignored", "reason", "malformed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.joinTimeout)
	defer cancel()

	now := c.now()
	res, err := c.store.SetJoinName(ctx, JoinRecord{InviteCode: code, Name: name, Now: now})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.observer.JoinNotification("ignored")
			c.log.Debug("join.notify.ignored", "reason", "unknown_code")
			return
		}
		c.observer.JoinNotification("error")
		c.log.Warn("join.notify.fail", "err", err)
		return
	}
	if !res.Applied {
		c.observer.JoinNotification("ignored")
		c.log.Debug("join.notify.ignored", "session_id", res.Session.ID, "reason", "not_joinable")
		return
	}

	c.observer.JoinNotification("recorded")
	c.log.Info("join.notify", "session_id", res.Session.ID)

	if c.relay == nil {
		return
	}
	if err := c.relay.Publish(ctx, res.Session.ID, relay.Signal{Name: name, At: now}); err != nil {
		c.log.Warn("join.relay.fail", "session_id", res.Session.ID, "err", err)
	}
}

// SubmitPartner fills the partner slot of the session behind code.
//
// Identical retries (same name and answers) of a successful submission resolve
// to the same session id. Any other submission against a consumed, unpaid or
// unknown code fails with ErrInvalidCode.
func (c *Coordinator) SubmitPartner(ctx context.Context, code, name string, answers map[string]string) (PartnerResult, error) {
	if c == nil || c.store == nil {
		return PartnerResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return PartnerResult{}, err
	}

	code = NormalizeCode(code)
	if !ValidCode(code) {
		c.observer.PartnerSubmission("invalid_code")
		return PartnerResult{}, ErrInvalidCode
	}
	name = NormalizeName(name)
	if err := validateName("name", name); err != nil {
		return PartnerResult{}, err
	}
	normalized := NormalizeAnswers(answers)
	if err := c.checkAnswers(normalized); err != nil {
		return PartnerResult{}, err
	}

	sess, err := c.store.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		c.observer.PartnerSubmission("invalid_code")
		return PartnerResult{}, ErrInvalidCode
	}
	if err != nil {
		return PartnerResult{}, err
	}
	if !sess.Paid() {
		c.observer.PartnerSubmission("invalid_code")
		c.log.Info("partner.submit.reject", "session_id", sess.ID, "reason", "unpaid")
		return PartnerResult{}, ErrInvalidCode
	}
	if !sameQuestions(sess.InitiatorAnswers, normalized) {
		return PartnerResult{}, ValidationError{Field: "answers", Reason: "must cover the same questions as the initiator"}
	}
	if name == "" {
		// Fall back to the name announced on join.
		name = sess.PartnerName
	}

	fp := Fingerprint(name, normalized)
	if sess.HasPartner() {
		return c.resolveReplay(sess, fp)
	}

	res, err := c.store.RecordPartner(ctx, PartnerRecord{
		InviteCode:  code,
		Name:        name,
		Answers:     normalized,
		Fingerprint: fp,
		Now:         c.now(),
	})
	if errors.Is(err, ErrNotFound) {
		return PartnerResult{}, ErrInvalidCode
	}
	if err != nil {
		return PartnerResult{}, err
	}
	if !res.Applied {
		if res.Session.HasPartner() {
			return c.resolveReplay(res.Session, fp)
		}
		return PartnerResult{}, ErrInvalidCode
	}

	c.observer.PartnerSubmission(string(PartnerSubmitted))
	c.log.Info("partner.submit", "session_id", res.Session.ID)
	c.startAnalysis(res.Session)
	return PartnerResult{SessionID: res.Session.ID, Outcome: PartnerSubmitted}, nil
}

// View returns the disclosure-gated view of a session.
func (c *Coordinator) View(ctx context.Context, sessionID string) (View, error) {
	if c == nil || c.store == nil {
		return View{}, ErrInvalidInput
	}
	if !ids.Valid(sessionID) {
		return View{}, ErrNotFound
	}
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	return Disclose(sess), nil
}

// LatestJoin reports the join signal for the initiator's poller. The relay is
// consulted first; the persisted join name is the fallback.
func (c *Coordinator) LatestJoin(ctx context.Context, sessionID string) (JoinSignal, error) {
	if c == nil || c.store == nil {
		return JoinSignal{}, ErrInvalidInput
	}
	if !ids.Valid(sessionID) {
		return JoinSignal{}, ErrNotFound
	}
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return JoinSignal{}, err
	}
	if !sess.Paid() {
		return JoinSignal{}, nil
	}

	if c.relay != nil {
		sig, ok, err := c.relay.Latest(ctx, sessionID)
		if err != nil {
			c.log.Warn("join.relay.read_fail", "session_id", sessionID, "err", err)
		} else if ok {
			at := sig.At
			return JoinSignal{Joined: true, Name: sig.Name, At: &at}, nil
		}
	}

	switch {
	case sess.PartnerJoinedAt != nil:
		return JoinSignal{Joined: true, Name: sess.PartnerName, At: cloneTime(sess.PartnerJoinedAt)}, nil
	case sess.HasPartner():
		return JoinSignal{Joined: true, Name: sess.PartnerName, At: cloneTime(sess.PartnerSubmittedAt)}, nil
	default:
		return JoinSignal{}, nil
	}
}

func (c *Coordinator) resolveReplay(sess Session, fingerprint string) (PartnerResult, error) {
	if sess.PartnerFingerprint != fingerprint {
		c.observer.PartnerSubmission("invalid_code")
		c.log.Info("partner.submit.reject", "session_id", sess.ID, "reason", "consumed")
		return PartnerResult{}, ErrInvalidCode
	}
	outcome := PartnerReplayed
	if sess.IsFinished {
		outcome = PartnerAlreadyFinished
	}
	c.observer.PartnerSubmission(string(outcome))
	c.log.Info("partner.submit.replay", "session_id", sess.ID, "finished", sess.IsFinished)
	return PartnerResult{SessionID: sess.ID, Outcome: outcome}, nil
}

func (c *Coordinator) startAnalysis(sess Session) {
	if c.trigger == nil {
		c.log.Warn("analysis.trigger.skip", "session_id", sess.ID, "reason", "no_trigger")
		return
	}
	in := analysis.Input{
		SessionID: sess.ID,
		Initiator: analysis.Participant{Name: sess.InitiatorName, Answers: cloneAnswers(sess.InitiatorAnswers)},
		Partner:   analysis.Participant{Name: sess.PartnerName, Answers: cloneAnswers(sess.PartnerAnswers)},
	}
	if err := c.trigger.Trigger(in); err != nil {
		c.log.Error("analysis.trigger.fail", "session_id", sess.ID, "err", err)
	}
}

func (c *Coordinator) checkAnswers(a Answers) error {
	if err := validateAnswers("answers", a); err != nil {
		return err
	}
	if c.validator == nil {
		return nil
	}
	if err := c.validator.ValidateAnswers(a); err != nil {
		return ValidationError{Field: "answers", Reason: err.Error()}
	}
	return nil
}

func sameQuestions(a, b Answers) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
