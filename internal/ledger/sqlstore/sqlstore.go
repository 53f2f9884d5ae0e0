package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/xaidecide/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateApplication(app ledger.ApplicationRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.CreateApplication(app) })
}

func (s *Store) PutApplication(app ledger.ApplicationRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutApplication(app) })
}

func (s *Store) GetApplication(appID string) (ledger.ApplicationRecord, bool, error) {
	row := s.db.QueryRow(`SELECT app_id, domain, status, body_json, created_at, updated_at FROM applications WHERE app_id = ?`, appID)
	return scanApplication(row)
}

func (s *Store) ListApplications(statuses ...string) ([]ledger.ApplicationRecord, error) {
	query := `SELECT app_id, domain, status, body_json, created_at, updated_at FROM applications`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, app_id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ApplicationRecord{}
	for rows.Next() {
		var rec ledger.ApplicationRecord
		var body string
		if err := rows.Scan(&rec.AppID, &rec.Domain, &rec.Status, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.BodyJSON = []byte(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) InsertPolicy(policy ledger.PolicyRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.InsertPolicy(policy) })
}

func (s *Store) DeletePolicy(domain, policyID string) (bool, error) {
	var deleted bool
	err := s.WithTx(func(tx ledger.Tx) error {
		var err error
		deleted, err = tx.DeletePolicy(domain, policyID)
		return err
	})
	return deleted, err
}

func (s *Store) ListPolicies(domain string) ([]ledger.PolicyRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if domain == "" {
		rows, err = s.db.Query(`SELECT policy_id, domain, text, created_at FROM policies ORDER BY seq ASC`)
	} else {
		rows, err = s.db.Query(`SELECT policy_id, domain, text, created_at FROM policies WHERE domain = ? ORDER BY seq ASC`, domain)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.PolicyRecord{}
	for rows.Next() {
		var rec ledger.PolicyRecord
		if err := rows.Scan(&rec.PolicyID, &rec.Domain, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PushMemory(rec ledger.MemoryRecord, max int) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PushMemory(rec, max) })
}

func (s *Store) ListMemory(domain string, limit int) ([]ledger.MemoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	var (
		rows *sql.Rows
		err  error
	)
	if domain == "" {
		rows, err = s.db.Query(`SELECT domain, status, reasoning, created_at FROM decision_memory ORDER BY seq DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT domain, status, reasoning, created_at FROM decision_memory WHERE domain = ? ORDER BY seq DESC LIMIT ?`, domain, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.MemoryRecord{}
	for rows.Next() {
		var rec ledger.MemoryRecord
		if err := rows.Scan(&rec.Domain, &rec.Status, &rec.Reasoning, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PushExplanation(rec ledger.ExplanationRecord, max int) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PushExplanation(rec, max) })
}

func (s *Store) ListExplanations(limit int) ([]ledger.ExplanationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT explanation_id, domain, body_json, body_digest, created_at FROM explanations ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ExplanationRecord{}
	for rows.Next() {
		var rec ledger.ExplanationRecord
		var body string
		if err := rows.Scan(&rec.ExplanationID, &rec.Domain, &body, &rec.BodyDigest, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.BodyJSON = []byte(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) CreateApplication(app ledger.ApplicationRecord) error {
	if app.AppID == "" {
		return fmt.Errorf("missing app_id")
	}
	res, err := t.tx.Exec(`INSERT INTO applications(app_id, domain, status, body_json, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(app_id) DO NOTHING`,
		app.AppID, app.Domain, app.Status, string(app.BodyJSON), app.CreatedAt, app.UpdatedAt)
	return insertedOne(res, err, "application "+app.AppID)
}

func (t *Tx) PutApplication(app ledger.ApplicationRecord) error {
	if app.AppID == "" {
		return fmt.Errorf("missing app_id")
	}
	_, err := t.tx.Exec(`INSERT INTO applications(app_id, domain, status, body_json, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(app_id) DO UPDATE SET
  status = excluded.status,
  body_json = excluded.body_json,
  updated_at = excluded.updated_at`,
		app.AppID, app.Domain, app.Status, string(app.BodyJSON), app.CreatedAt, app.UpdatedAt)
	return err
}

func (t *Tx) GetApplication(appID string) (ledger.ApplicationRecord, bool, error) {
	row := t.tx.QueryRow(`SELECT app_id, domain, status, body_json, created_at, updated_at FROM applications WHERE app_id = ?`, appID)
	return scanApplication(row)
}

func (t *Tx) InsertPolicy(policy ledger.PolicyRecord) error {
	if policy.PolicyID == "" {
		return fmt.Errorf("missing policy_id")
	}
	res, err := t.tx.Exec(`INSERT INTO policies(policy_id, domain, text, created_at) VALUES(?, ?, ?, ?)
ON CONFLICT(policy_id) DO NOTHING`,
		policy.PolicyID, policy.Domain, policy.Text, policy.CreatedAt)
	return insertedOne(res, err, "policy "+policy.PolicyID)
}

func (t *Tx) DeletePolicy(domain, policyID string) (bool, error) {
	res, err := t.tx.Exec(`DELETE FROM policies WHERE domain = ? AND policy_id = ?`, domain, policyID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (t *Tx) PushMemory(rec ledger.MemoryRecord, max int) error {
	if _, err := t.tx.Exec(`INSERT INTO decision_memory(domain, status, reasoning, created_at) VALUES(?, ?, ?, ?)`,
		rec.Domain, rec.Status, rec.Reasoning, rec.CreatedAt); err != nil {
		return err
	}
	if max <= 0 {
		return nil
	}
	_, err := t.tx.Exec(`DELETE FROM decision_memory WHERE seq NOT IN (SELECT seq FROM decision_memory ORDER BY seq DESC LIMIT ?)`, max)
	return err
}

func (t *Tx) PushExplanation(rec ledger.ExplanationRecord, max int) error {
	if rec.ExplanationID == "" {
		return fmt.Errorf("missing explanation_id")
	}
	if _, err := t.tx.Exec(`INSERT INTO explanations(explanation_id, domain, body_json, body_digest, created_at) VALUES(?, ?, ?, ?, ?)`,
		rec.ExplanationID, rec.Domain, string(rec.BodyJSON), rec.BodyDigest, rec.CreatedAt); err != nil {
		return err
	}
	if max <= 0 {
		return nil
	}
	_, err := t.tx.Exec(`DELETE FROM explanations WHERE seq NOT IN (SELECT seq FROM explanations ORDER BY seq DESC LIMIT ?)`, max)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanApplication reports sql.ErrNoRows as a miss; every other error is a
// storage failure.
func scanApplication(row rowScanner) (ledger.ApplicationRecord, bool, error) {
	var rec ledger.ApplicationRecord
	var body string
	if err := row.Scan(&rec.AppID, &rec.Domain, &rec.Status, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ApplicationRecord{}, false, nil
		}
		return ledger.ApplicationRecord{}, false, err
	}
	rec.BodyJSON = []byte(body)
	return rec, true, nil
}

// insertedOne turns a DO NOTHING insert that touched no row into ErrDuplicateID.
func insertedOne(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ledger.ErrDuplicateID)
	}
	return nil
}
