package pairing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pair_sessions (
  id TEXT PRIMARY KEY,
  invite_code TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  initiator_name TEXT NOT NULL DEFAULT '',
  initiator_answers TEXT NOT NULL,
  partner_name TEXT NOT NULL DEFAULT '',
  partner_answers TEXT NULL,
  partner_fingerprint TEXT NULL,
  partner_joined_at INTEGER NULL,
  partner_submitted_at INTEGER NULL,
  payment_status TEXT NOT NULL DEFAULT 'unpaid' CHECK (payment_status IN ('unpaid', 'paid')),
  paid_at INTEGER NULL,
  is_finished INTEGER NOT NULL DEFAULT 0,
  analysis_result TEXT NULL,
  finished_at INTEGER NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_pair_sessions_invite_code ON pair_sessions (invite_code);
`

// SQLiteStore persists sessions in a single SQLite file for single-node deployments.
// The handle is limited to one connection, so conditional writes never race on SQLITE_BUSY.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidInput)
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the handle is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrInvalidInput
	}
	return s.db.PingContext(ctx)
}

// Create inserts a new unpaid session.
func (s *SQLiteStore) Create(ctx context.Context, in CreateRecord) (Session, error) {
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
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO pair_sessions (id, invite_code, created_at, initiator_name, initiator_answers, payment_status)
		 VALUES (?, ?, ?, ?, ?, 'unpaid')
		 RETURNING `+sessionColumns,
		in.ID, in.InviteCode, toMillis(createdAt), in.InitiatorName, string(answers),
	)
	out, err := scanSQLiteSession(row)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return Session{}, ErrCodeTaken
		}
		return Session{}, err
	}
	return out, nil
}

// Get fetches a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	return s.selectOne(ctx, `id = ?`, id)
}

// GetByCode fetches a session by invite code.
func (s *SQLiteStore) GetByCode(ctx context.Context, code string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	return s.selectOne(ctx, `invite_code = ?`, code)
}

// CodeExists reports whether code is already allocated.
func (s *SQLiteStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(1) FROM pair_sessions WHERE invite_code = ?`, code).Scan(&n)
	return n > 0, err
}

// MarkPaid flips unpaid -> paid.
func (s *SQLiteStore) MarkPaid(ctx context.Context, id string, now time.Time) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE pair_sessions
		    SET payment_status = 'paid', paid_at = ?
		  WHERE id = ? AND payment_status = 'unpaid'
		RETURNING `+sessionColumns,
		toMillis(now), id,
	)
	return s.conditional(ctx, row, `id = ?`, id)
}

// SetJoinName records the advisory partner name.
func (s *SQLiteStore) SetJoinName(ctx context.Context, in JoinRecord) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE pair_sessions
		    SET partner_name = ?, partner_joined_at = ?
		  WHERE invite_code = ? AND payment_status = 'paid' AND partner_answers IS NULL
		RETURNING `+sessionColumns,
		in.Name, toMillis(in.Now), in.InviteCode,
	)
	return s.conditional(ctx, row, `invite_code = ?`, in.InviteCode)
}

// RecordPartner fills the partner slot.
func (s *SQLiteStore) RecordPartner(ctx context.Context, in PartnerRecord) (WriteResult, error) {
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
	row := s.db.QueryRowContext(ctx,
		`UPDATE pair_sessions
		    SET partner_name = ?, partner_answers = ?, partner_fingerprint = ?, partner_submitted_at = ?
		  WHERE invite_code = ? AND payment_status = 'paid' AND partner_answers IS NULL
		RETURNING `+sessionColumns,
		in.Name, string(answers), in.Fingerprint, toMillis(in.Now), in.InviteCode,
	)
	return s.conditional(ctx, row, `invite_code = ?`, in.InviteCode)
}

// CompleteAnalysis stores the analysis payload and flips is_finished.
func (s *SQLiteStore) CompleteAnalysis(ctx context.Context, in CompleteRecord) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if len(in.Result) == 0 || !json.Valid(in.Result) {
		return WriteResult{}, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE pair_sessions
		    SET analysis_result = ?, is_finished = 1, finished_at = ?
		  WHERE id = ? AND partner_answers IS NOT NULL AND analysis_result IS NULL
		RETURNING `+sessionColumns,
		string(in.Result), toMillis(in.Now), in.SessionID,
	)
	return s.conditional(ctx, row, `id = ?`, in.SessionID)
}

func (s *SQLiteStore) conditional(ctx context.Context, row *sql.Row, where string, arg any) (WriteResult, error) {
	out, err := scanSQLiteSession(row)
	if err == nil {
		return WriteResult{Session: out, Applied: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return WriteResult{}, err
	}
	cur, err := s.selectOne(ctx, where, arg)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Session: cur}, nil
}

func (s *SQLiteStore) selectOne(ctx context.Context, where string, arg any) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM pair_sessions WHERE `+where, arg)
	out, err := scanSQLiteSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return out, nil
}

func scanSQLiteSession(row *sql.Row) (Session, error) {
	var (
		out                                       Session
		createdAt                                 int64
		initiatorRaw                              string
		partnerRaw, fingerprint, analysisRaw      sql.NullString
		joinedAt, submittedAt, paidAt, finishedAt sql.NullInt64
		paymentStatus                             string
		finished                                  int64
	)
	if err := row.Scan(
		&out.ID,
		&out.InviteCode,
		&createdAt,
		&out.InitiatorName,
		&initiatorRaw,
		&out.PartnerName,
		&partnerRaw,
		&fingerprint,
		&joinedAt,
		&submittedAt,
		&paymentStatus,
		&paidAt,
		&finished,
		&analysisRaw,
		&finishedAt,
	); err != nil {
		return Session{}, err
	}
	out.CreatedAt = fromMillis(createdAt)
	if err := decodeAnswers([]byte(initiatorRaw), &out.InitiatorAnswers); err != nil {
		return Session{}, fmt.Errorf("decode initiator_answers: %w", err)
	}
	if partnerRaw.Valid {
		if err := decodeAnswers([]byte(partnerRaw.String), &out.PartnerAnswers); err != nil {
			return Session{}, fmt.Errorf("decode partner_answers: %w", err)
		}
	}
	out.PartnerFingerprint = fingerprint.String
	if analysisRaw.Valid && analysisRaw.String != "" {
		out.AnalysisResult = json.RawMessage(analysisRaw.String)
	}
	out.PartnerJoinedAt = nullMillis(joinedAt)
	out.PartnerSubmittedAt = nullMillis(submittedAt)
	out.PaidAt = nullMillis(paidAt)
	out.FinishedAt = nullMillis(finishedAt)
	out.PaymentStatus = PaymentStatus(paymentStatus)
	out.IsFinished = finished != 0
	return out, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
