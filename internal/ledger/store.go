package ledger

import "errors"

// ErrDuplicateID is returned when an insert-only write finds its id taken.
var ErrDuplicateID = errors.New("duplicate id")

// Store is the record store behind the decision core. Writes go through
// WithTx so a read-modify-write on one record runs in a single transaction.
type Store interface {
	WithTx(fn func(Tx) error) error

	CreateApplication(app ApplicationRecord) error
	PutApplication(app ApplicationRecord) error
	GetApplication(appID string) (ApplicationRecord, bool, error)
	ListApplications(statuses ...string) ([]ApplicationRecord, error)

	InsertPolicy(policy PolicyRecord) error
	DeletePolicy(domain, policyID string) (bool, error)
	ListPolicies(domain string) ([]PolicyRecord, error)

	PushMemory(rec MemoryRecord, max int) error
	ListMemory(domain string, limit int) ([]MemoryRecord, error)

	PushExplanation(rec ExplanationRecord, max int) error
	ListExplanations(limit int) ([]ExplanationRecord, error)
}

// Tx is the write side of a transaction. CreateApplication and InsertPolicy
// never overwrite; they fail with ErrDuplicateID instead. GetApplication
// reports a missing record as false with a nil error.
type Tx interface {
	CreateApplication(app ApplicationRecord) error
	PutApplication(app ApplicationRecord) error
	GetApplication(appID string) (ApplicationRecord, bool, error)

	InsertPolicy(policy PolicyRecord) error
	DeletePolicy(domain, policyID string) (bool, error)

	PushMemory(rec MemoryRecord, max int) error
	PushExplanation(rec ExplanationRecord, max int) error
}

// ApplicationRecord stores the full application as JSON. Domain and Status
// are duplicated as columns for filtering.
type ApplicationRecord struct {
	AppID     string
	Domain    string
	Status    string
	BodyJSON  []byte
	CreatedAt string
	UpdatedAt string
}

type PolicyRecord struct {
	PolicyID  string
	Domain    string
	Text      string
	CreatedAt string
}

type MemoryRecord struct {
	Domain    string
	Status    string
	Reasoning string
	CreatedAt string
}

type ExplanationRecord struct {
	ExplanationID string
	Domain        string
	BodyJSON      []byte
	BodyDigest    string
	CreatedAt     string
}
