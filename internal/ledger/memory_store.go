package ledger

import (
	"fmt"
	"sort"
	"sync"
)

type InMemoryStore struct {
	mu sync.Mutex

	apps         map[string]ApplicationRecord
	policies     []PolicyRecord
	memory       []MemoryRecord
	explanations []ExplanationRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		apps: make(map[string]ApplicationRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot so a failed fn leaves the store untouched.
	apps := make(map[string]ApplicationRecord, len(s.apps))
	for k, v := range s.apps {
		apps[k] = v
	}
	policies := append([]PolicyRecord(nil), s.policies...)
	memory := append([]MemoryRecord(nil), s.memory...)
	explanations := append([]ExplanationRecord(nil), s.explanations...)

	if err := fn((*memTx)(s)); err != nil {
		s.apps, s.policies, s.memory, s.explanations = apps, policies, memory, explanations
		return err
	}
	return nil
}

type memTx InMemoryStore

func (s *InMemoryStore) CreateApplication(app ApplicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).CreateApplication(app)
}

func (s *InMemoryStore) PutApplication(app ApplicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutApplication(app)
}

func (s *InMemoryStore) GetApplication(appID string) (ApplicationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetApplication(appID)
}

func (s *InMemoryStore) ListApplications(statuses ...string) ([]ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[string]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]ApplicationRecord, 0, len(s.apps))
	for _, app := range s.apps {
		if len(want) > 0 && !want[app.Status] {
			continue
		}
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].AppID < out[j].AppID
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out, nil
}

func (s *InMemoryStore) InsertPolicy(policy PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).InsertPolicy(policy)
}

func (s *InMemoryStore) DeletePolicy(domain, policyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).DeletePolicy(domain, policyID)
}

func (s *InMemoryStore) ListPolicies(domain string) ([]PolicyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []PolicyRecord{}
	for _, p := range s.policies {
		if domain == "" || p.Domain == domain {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PushMemory(rec MemoryRecord, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PushMemory(rec, max)
}

func (s *InMemoryStore) ListMemory(domain string, limit int) ([]MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []MemoryRecord{}
	for _, rec := range s.memory {
		if limit > 0 && len(out) >= limit {
			break
		}
		if domain == "" || rec.Domain == domain {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PushExplanation(rec ExplanationRecord, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PushExplanation(rec, max)
}

func (s *InMemoryStore) ListExplanations(limit int) ([]ExplanationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.explanations)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]ExplanationRecord(nil), s.explanations[:n]...), nil
}

func (t *memTx) CreateApplication(app ApplicationRecord) error {
	if _, ok := t.apps[app.AppID]; ok {
		return fmt.Errorf("application %s: %w", app.AppID, ErrDuplicateID)
	}
	return t.PutApplication(app)
}

func (t *memTx) PutApplication(app ApplicationRecord) error {
	if app.AppID == "" {
		return fmt.Errorf("missing app_id")
	}
	t.apps[app.AppID] = app
	return nil
}

func (t *memTx) GetApplication(appID string) (ApplicationRecord, bool, error) {
	app, ok := t.apps[appID]
	return app, ok, nil
}

func (t *memTx) InsertPolicy(policy PolicyRecord) error {
	if policy.PolicyID == "" {
		return fmt.Errorf("missing policy_id")
	}
	for _, p := range t.policies {
		if p.PolicyID == policy.PolicyID {
			return fmt.Errorf("policy %s: %w", policy.PolicyID, ErrDuplicateID)
		}
	}
	t.policies = append(t.policies, policy)
	return nil
}

func (t *memTx) DeletePolicy(domain, policyID string) (bool, error) {
	for i, p := range t.policies {
		if p.Domain == domain && p.PolicyID == policyID {
			t.policies = append(t.policies[:i:i], t.policies[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) PushMemory(rec MemoryRecord, max int) error {
	t.memory = append([]MemoryRecord{rec}, t.memory...)
	if max > 0 && len(t.memory) > max {
		t.memory = t.memory[:max]
	}
	return nil
}

func (t *memTx) PushExplanation(rec ExplanationRecord, max int) error {
	t.explanations = append([]ExplanationRecord{rec}, t.explanations...)
	if max > 0 && len(t.explanations) > max {
		t.explanations = t.explanations[:max]
	}
	return nil
}
