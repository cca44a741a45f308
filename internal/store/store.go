// Package store persists run results to PostgreSQL via lib/pq, adapted
// from the teacher's updateEmailStatus (worker/main.go) and widened to
// also record the run ID and per-domain catch-all/MX findings rather
// than only a flat per-address status row.
package store

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"smtpverify/internal/verdict"
)

// Store wraps a *sql.DB opened against the "postgres" driver registered
// by lib/pq (the caller imports it with the blank identifier, same as
// the teacher's cmd/worker does).
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, already-pinged *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables this package needs if they don't exist
// yet. Called once at worker startup; safe to call repeatedly.
func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS email_check (
			run_id        TEXT NOT NULL,
			job_id        TEXT NOT NULL,
			email         TEXT NOT NULL,
			domain        TEXT NOT NULL,
			verdict       TEXT NOT NULL,
			reply_text    TEXT,
			reason        TEXT,
			checked_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (job_id, email)
		);
		CREATE TABLE IF NOT EXISTS domain_info (
			run_id                  TEXT NOT NULL,
			domain                  TEXT NOT NULL,
			mx_hosts                TEXT[],
			catchall                BOOLEAN,
			catchall_indeterminate  BOOLEAN NOT NULL DEFAULT false,
			checked_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, domain)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordAddress upserts one address's verdict for a job.
func (s *Store) RecordAddress(runID, jobID, email, domain string, v verdict.Verdict) error {
	_, err := s.db.Exec(`
		INSERT INTO email_check (run_id, job_id, email, domain, verdict, reply_text, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, email) DO UPDATE SET
			verdict    = EXCLUDED.verdict,
			reply_text = EXCLUDED.reply_text,
			reason     = EXCLUDED.reason,
			checked_at = now()
	`, runID, jobID, email, domain, v.Kind.String(), v.Text, v.Reason)
	if err != nil {
		return fmt.Errorf("record address %s: %w", email, err)
	}
	return nil
}

// RecordDomain upserts one domain's MX list and catch-all finding.
func (s *Store) RecordDomain(runID, domain string, info verdict.DomainInfo) error {
	var catchall sql.NullBool
	if info.Catchall != nil {
		catchall = sql.NullBool{Bool: *info.Catchall, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO domain_info (run_id, domain, mx_hosts, catchall, catchall_indeterminate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, domain) DO UPDATE SET
			mx_hosts               = EXCLUDED.mx_hosts,
			catchall               = EXCLUDED.catchall,
			catchall_indeterminate = EXCLUDED.catchall_indeterminate,
			checked_at             = now()
	`, runID, domain, pq.Array(info.MXs), catchall, info.CatchallIndeterminate)
	if err != nil {
		return fmt.Errorf("record domain %s: %w", domain, err)
	}
	return nil
}

// RecordResults persists an entire run's Results in one pass.
func (s *Store) RecordResults(runID, jobID string, results *verdict.Results) error {
	for domain, info := range results.Domains {
		if err := s.RecordDomain(runID, domain, info); err != nil {
			return err
		}
	}
	for _, addr := range results.OrderedAddresses() {
		v := results.Verdicts[addr]
		domain := domainOf(addr)
		if err := s.RecordAddress(runID, jobID, addr, domain, v); err != nil {
			return err
		}
	}
	return nil
}

func domainOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return ""
}
