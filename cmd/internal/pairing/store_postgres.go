package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Every write-once slot is a single conditional UPDATE ... RETURNING; row locks
//     serialize racing writers and exactly one of them observes a returned row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "duet").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return fmt.Errorf("%w: schema %q", ErrInvalidInput, schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "duet"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate applies the sessions DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, PostgresSchemaSQL(s.schema))
	return err
}

const sessionColumns = `id, invite_code, created_at, initiator_name, initiator_answers,
	partner_name, partner_answers, partner_fingerprint, partner_joined_at, partner_submitted_at,
	payment_status, paid_at, is_finished, analysis_result, finished_at`

// Create inserts a new unpaid session.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(in.ID) == "" || !ValidCode(in.InviteCode) || len(in.InitiatorAnswers) == 0 {
		return Session{}, ErrInvalidInput
	}
	answers, err := json.Marshal(in.InitiatorAnswers)
	if err != nil {
		return Session{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (id, invite_code, created_at, initiator_name, initiator_answers, payment_status)
		 VALUES ($1, $2, $3, $4, $5, 'unpaid')
		 RETURNING `+sessionColumns,
		in.ID, in.InviteCode, in.CreatedAt, in.InitiatorName, answers,
	)
	out, err := scanSession(row)
	if err != nil {
		if isUniqueViolation(err, "uq_pair_sessions_invite_code") {
			return Session{}, ErrCodeTaken
		}
		return Session{}, err
	}
	return out, nil
}

// Get fetches a session by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Session{}, ErrNotFound
	}
	return s.selectOne(ctx, `id = $1`, id)
}

// GetByCode fetches a session by invite code.
func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(code) == "" {
		return Session{}, ErrNotFound
	}
	return s.selectOne(ctx, `invite_code = $1`, code)
}

// CodeExists reports whether code is already allocated.
func (s *PostgresStore) CodeExists(ctx context.Context, code string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE invite_code = $1)`, code,
	).Scan(&exists)
	return exists, err
}

// MarkPaid flips unpaid -> paid.
func (s *PostgresStore) MarkPaid(ctx context.Context, id string, now time.Time) (WriteResult, error) {
	if s == nil || s.pool == nil {
		return WriteResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET payment_status = 'paid',
		        paid_at = $2
		  WHERE id = $1
		    AND payment_status = 'unpaid'
		RETURNING `+sessionColumns,
		id, now,
	)
	return s.conditional(ctx, row, `id = $1`, id)
}

// SetJoinName records the advisory partner name.
func (s *PostgresStore) SetJoinName(ctx context.Context, in JoinRecord) (WriteResult, error) {
	if s == nil || s.pool == nil {
		return WriteResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET partner_name = $2,
		        partner_joined_at = $3
		  WHERE invite_code = $1
		    AND payment_status = 'paid'
		    AND partner_answers IS NULL
		RETURNING `+sessionColumns,
		in.InviteCode, in.Name, in.Now,
	)
	return s.conditional(ctx, row, `invite_code = $1`, in.InviteCode)
}

// RecordPartner fills the partner slot.
func (s *PostgresStore) RecordPartner(ctx context.Context, in PartnerRecord) (WriteResult, error) {
	if s == nil || s.pool == nil {
		return WriteResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if len(in.Answers) == 0 || in.Fingerprint == "" {
		return WriteResult{}, ErrInvalidInput
	}
	answers, err := json.Marshal(in.Answers)
	if err != nil {
		return WriteResult{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET partner_name = $2,
		        partner_answers = $3,
		        partner_fingerprint = $4,
		        partner_submitted_at = $5
		  WHERE invite_code = $1
		    AND payment_status = 'paid'
		    AND partner_answers IS NULL
		RETURNING `+sessionColumns,
		in.InviteCode, in.Name, answers, in.Fingerprint, in.Now,
	)
	return s.conditional(ctx, row, `invite_code = $1`, in.InviteCode)
}

// CompleteAnalysis stores the analysis payload and flips is_finished.
func (s *PostgresStore) CompleteAnalysis(ctx context.Context, in CompleteRecord) (WriteResult, error) {
	if s == nil || s.pool == nil {
		return WriteResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if len(in.Result) == 0 || !json.Valid(in.Result) {
		return WriteResult{}, ErrInvalidInput
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET analysis_result = $2,
		        is_finished = true,
		        finished_at = $3
		  WHERE id = $1
		    AND partner_answers IS NOT NULL
		    AND analysis_result IS NULL
		RETURNING `+sessionColumns,
		in.SessionID, []byte(in.Result), in.Now,
	)
	return s.conditional(ctx, row, `id = $1`, in.SessionID)
}

// conditional turns a conditional UPDATE ... RETURNING into a WriteResult.
// No returned row means either an unknown key or a lost race; re-read to tell them apart.
func (s *PostgresStore) conditional(ctx context.Context, row pgx.Row, where string, arg any) (WriteResult, error) {
	out, err := scanSession(row)
	if err == nil {
		return WriteResult{Session: out, Applied: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return WriteResult{}, err
	}
	cur, err := s.selectOne(ctx, where, arg)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Session: cur}, nil
}

func (s *PostgresStore) selectOne(ctx context.Context, where string, arg any) (Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM `+s.table()+` WHERE `+where, arg)
	out, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return out, nil
}

func (s *PostgresStore) table() string {
	return pgIdent(s.schema, "pair_sessions")
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		out                      Session
		initiatorRaw, partnerRaw []byte
		fingerprint              *string
		analysisRaw              []byte
		paymentStatus            string
	)
	if err := row.Scan(
		&out.ID,
		&out.InviteCode,
		&out.CreatedAt,
		&out.InitiatorName,
		&initiatorRaw,
		&out.PartnerName,
		&partnerRaw,
		&fingerprint,
		&out.PartnerJoinedAt,
		&out.PartnerSubmittedAt,
		&paymentStatus,
		&out.PaidAt,
		&out.IsFinished,
		&analysisRaw,
		&out.FinishedAt,
	); err != nil {
		return Session{}, err
	}
	if err := decodeAnswers(initiatorRaw, &out.InitiatorAnswers); err != nil {
		return Session{}, fmt.Errorf("decode initiator_answers: %w", err)
	}
	if err := decodeAnswers(partnerRaw, &out.PartnerAnswers); err != nil {
		return Session{}, fmt.Errorf("decode partner_answers: %w", err)
	}
	if fingerprint != nil {
		out.PartnerFingerprint = *fingerprint
	}
	if len(analysisRaw) > 0 {
		out.AnalysisResult = json.RawMessage(analysisRaw)
	}
	out.PaymentStatus = PaymentStatus(paymentStatus)
	return out, nil
}

func decodeAnswers(raw []byte, dst *Answers) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgQuote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
