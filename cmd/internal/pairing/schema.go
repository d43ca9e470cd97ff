package pairing

import "fmt"

// PostgresSchemaSQL returns idempotent DDL for the sessions table in the given schema.
// `duet migrate` and the integration tests apply it; production may manage it externally.
func PostgresSchemaSQL(schema string) string {
	sessions := pgIdent(schema, "pair_sessions")
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  invite_code TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  initiator_name TEXT NOT NULL DEFAULT '',
  initiator_answers JSONB NOT NULL,
  partner_name TEXT NOT NULL DEFAULT '',
  partner_answers JSONB NULL,
  partner_fingerprint TEXT NULL,
  partner_joined_at TIMESTAMPTZ NULL,
  partner_submitted_at TIMESTAMPTZ NULL,
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  paid_at TIMESTAMPTZ NULL,
  is_finished BOOLEAN NOT NULL DEFAULT false,
  analysis_result JSONB NULL,
  finished_at TIMESTAMPTZ NULL,
  CONSTRAINT chk_pair_sessions_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_pair_sessions_code_len CHECK (char_length(invite_code) = 6),
  CONSTRAINT chk_pair_sessions_payment CHECK (payment_status IN ('unpaid', 'paid')),
  CONSTRAINT chk_pair_sessions_partner_paid CHECK (partner_answers IS NULL OR payment_status = 'paid'),
  CONSTRAINT chk_pair_sessions_finished CHECK (
    NOT is_finished OR (partner_answers IS NOT NULL AND analysis_result IS NOT NULL)
  )
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_pair_sessions_invite_code ON %s (invite_code);
`, pgQuote(schema), sessions, sessions)
}
