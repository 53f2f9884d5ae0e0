package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/davidahmann/xaidecide/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

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
	row := s.db.QueryRow(`SELECT app_id, domain, status, body_json::text, created_at::text, updated_at::text FROM xai_applications WHERE app_id = $1`, appID)
	return scanApplication(row)
}

func (s *Store) ListApplications(statuses ...string) ([]ledger.ApplicationRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.Query(`SELECT app_id, domain, status, body_json::text, created_at::text, updated_at::text
FROM xai_applications ORDER BY created_at DESC, app_id ASC`)
	} else {
		rows, err = s.db.Query(`SELECT app_id, domain, status, body_json::text, created_at::text, updated_at::text
FROM xai_applications WHERE status = ANY($1) ORDER BY created_at DESC, app_id ASC`, pq.Array(statuses))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ApplicationRecord{}
	for rows.Next() {
		rec, err := scanApplicationErr(rows)
		if err != nil {
			return nil, err
		}
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
		rows, err = s.db.Query(`SELECT policy_id, domain, text, created_at::text FROM xai_policies ORDER BY seq ASC`)
	} else {
		rows, err = s.db.Query(`SELECT policy_id, domain, text, created_at::text FROM xai_policies WHERE domain = $1 ORDER BY seq ASC`, domain)
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
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if domain == "" {
		rows, err = s.db.Query(`SELECT domain, status, reasoning, created_at::text FROM xai_decision_memory ORDER BY seq DESC LIMIT $1`, limitArg)
	} else {
		rows, err = s.db.Query(`SELECT domain, status, reasoning, created_at::text FROM xai_decision_memory WHERE domain = $1 ORDER BY seq DESC LIMIT $2`, domain, limitArg)
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
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.Query(`SELECT explanation_id, domain, body_json::text, body_digest, created_at::text FROM xai_explanations ORDER BY seq DESC LIMIT $1`, limitArg)
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
		return errors.New("missing app_id")
	}
	if !json.Valid(app.BodyJSON) {
		return errors.New("invalid body_json")
	}
	res, err := t.tx.Exec(`INSERT INTO xai_applications(app_id, domain, status, body_json, created_at, updated_at)
VALUES($1,$2,$3,$4::jsonb,$5::timestamptz,$6::timestamptz)
ON CONFLICT(app_id) DO NOTHING`,
		app.AppID, app.Domain, app.Status, string(app.BodyJSON), app.CreatedAt, app.UpdatedAt,
	)
	return insertedOne(res, err, "application "+app.AppID)
}

func (t *Tx) PutApplication(app ledger.ApplicationRecord) error {
	if app.AppID == "" {
		return errors.New("missing app_id")
	}
	if !json.Valid(app.BodyJSON) {
		return errors.New("invalid body_json")
	}
	_, err := t.tx.Exec(`INSERT INTO xai_applications(app_id, domain, status, body_json, created_at, updated_at)
VALUES($1,$2,$3,$4::jsonb,$5::timestamptz,$6::timestamptz)
ON CONFLICT(app_id) DO UPDATE SET
  status = EXCLUDED.status,
  body_json = EXCLUDED.body_json,
  updated_at = EXCLUDED.updated_at`,
		app.AppID, app.Domain, app.Status, string(app.BodyJSON), app.CreatedAt, app.UpdatedAt,
	)
	return err
}

func (t *Tx) GetApplication(appID string) (ledger.ApplicationRecord, bool, error) {
	row := t.tx.QueryRow(`SELECT app_id, domain, status, body_json::text, created_at::text, updated_at::text FROM xai_applications WHERE app_id = $1 FOR UPDATE`, appID)
	return scanApplication(row)
}

func (t *Tx) InsertPolicy(policy ledger.PolicyRecord) error {
	if policy.PolicyID == "" {
		return errors.New("missing policy_id")
	}
	res, err := t.tx.Exec(`INSERT INTO xai_policies(policy_id, domain, text, created_at) VALUES($1,$2,$3,$4::timestamptz)
ON CONFLICT(policy_id) DO NOTHING`,
		policy.PolicyID, policy.Domain, policy.Text, policy.CreatedAt,
	)
	return insertedOne(res, err, "policy "+policy.PolicyID)
}

func (t *Tx) DeletePolicy(domain, policyID string) (bool, error) {
	res, err := t.tx.Exec(`DELETE FROM xai_policies WHERE domain = $1 AND policy_id = $2`, domain, policyID)
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
	if _, err := t.tx.Exec(`INSERT INTO xai_decision_memory(domain, status, reasoning, created_at) VALUES($1,$2,$3,$4::timestamptz)`,
		rec.Domain, rec.Status, rec.Reasoning, rec.CreatedAt,
	); err != nil {
		return err
	}
	if max <= 0 {
		return nil
	}
	_, err := t.tx.Exec(`DELETE FROM xai_decision_memory WHERE seq NOT IN (SELECT seq FROM xai_decision_memory ORDER BY seq DESC LIMIT $1)`, max)
	return err
}

func (t *Tx) PushExplanation(rec ledger.ExplanationRecord, max int) error {
	if rec.ExplanationID == "" {
		return errors.New("missing explanation_id")
	}
	if !json.Valid(rec.BodyJSON) {
		return errors.New("invalid body_json")
	}
	if _, err := t.tx.Exec(`INSERT INTO xai_explanations(explanation_id, domain, body_json, body_digest, created_at) VALUES($1,$2,$3::jsonb,$4,$5::timestamptz)`,
		rec.ExplanationID, rec.Domain, string(rec.BodyJSON), rec.BodyDigest, rec.CreatedAt,
	); err != nil {
		return err
	}
	if max <= 0 {
		return nil
	}
	_, err := t.tx.Exec(`DELETE FROM xai_explanations WHERE seq NOT IN (SELECT seq FROM xai_explanations ORDER BY seq DESC LIMIT $1)`, max)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanApplication reports sql.ErrNoRows as a miss; every other error is a
// storage failure.
func scanApplication(row rowScanner) (ledger.ApplicationRecord, bool, error) {
	rec, err := scanApplicationErr(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ApplicationRecord{}, false, nil
	}
	if err != nil {
		return ledger.ApplicationRecord{}, false, err
	}
	return rec, true, nil
}

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

func scanApplicationErr(row rowScanner) (ledger.ApplicationRecord, error) {
	var rec ledger.ApplicationRecord
	var body string
	if err := row.Scan(&rec.AppID, &rec.Domain, &rec.Status, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.ApplicationRecord{}, err
	}
	rec.BodyJSON = []byte(body)
	return rec, nil
}
