package contextstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidahmann/xaidecide/internal/ledger"
	"github.com/davidahmann/xaidecide/pkg/types"
)

const (
	DefaultMaxDecisions = 50
	DefaultContextLimit = 5
	DefaultCharBudget   = 6000

	// reasoningPreview bounds how much of a past decision is replayed into a prompt.
	reasoningPreview = 400

	policyHeader = "\n\nAPPLICABLE POLICIES AND RULES:\n"
	memoryHeader = "\n\nRECENT SIMILAR DECISIONS:\n"
)

var ErrEmptyPolicy = errors.New("policy text is empty")

type Options struct {
	MaxDecisions int
	ContextLimit int
	CharBudget   int
	Logger       *zap.Logger
	Now          func() time.Time
	// NewID generates policy ids. Defaults to an 8 character uuid prefix.
	NewID func() string
}

// insertAttempts bounds how many ids AddPolicy tries before giving up.
const insertAttempts = 5

// Store holds policies and recent decision memory on top of a ledger.Store.
// Every write goes through a single writer lock.
type Store struct {
	ledger ledger.Store
	opts   Options
	log    *zap.Logger

	writeMu sync.Mutex
}

func New(store ledger.Store, opts Options) *Store {
	if opts.MaxDecisions <= 0 {
		opts.MaxDecisions = DefaultMaxDecisions
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = DefaultContextLimit
	}
	if opts.CharBudget <= 0 {
		opts.CharBudget = DefaultCharBudget
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString()[:8] }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{ledger: store, opts: opts, log: log}
}

func (s *Store) now() string {
	return s.opts.Now().UTC().Format(time.RFC3339)
}

// AddPolicy attaches a policy to a domain (or global).
func (s *Store) AddPolicy(domain, text string) (types.Policy, error) {
	d, err := types.ParsePolicyDomain(domain)
	if err != nil {
		return types.Policy{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Policy{}, ErrEmptyPolicy
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertPolicyLocked(d, text)
}

// AddPolicyIfAbsent adds the policy unless the same text is already attached
// to the domain. The check and the insert happen under one writer lock.
func (s *Store) AddPolicyIfAbsent(domain, text string) (bool, error) {
	d, err := types.ParsePolicyDomain(domain)
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, ErrEmptyPolicy
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	existing, err := s.ledger.ListPolicies(string(d))
	if err != nil {
		return false, fmt.Errorf("list policies: %w", err)
	}
	for _, rec := range existing {
		if rec.Text == trimmed {
			return false, nil
		}
	}
	if _, err := s.insertPolicyLocked(d, trimmed); err != nil {
		return false, err
	}
	return true, nil
}

// insertPolicyLocked stores a new policy, drawing a fresh id whenever the
// ledger reports the current one taken. Callers hold writeMu.
func (s *Store) insertPolicyLocked(d types.Domain, text string) (types.Policy, error) {
	policy := types.Policy{
		Domain:    d,
		Text:      text,
		CreatedAt: s.now(),
	}
	for attempt := 0; attempt < insertAttempts; attempt++ {
		policy.ID = s.opts.NewID()
		err := s.ledger.InsertPolicy(ledger.PolicyRecord{
			PolicyID:  policy.ID,
			Domain:    string(policy.Domain),
			Text:      policy.Text,
			CreatedAt: policy.CreatedAt,
		})
		if err == nil {
			return policy, nil
		}
		if !errors.Is(err, ledger.ErrDuplicateID) {
			return types.Policy{}, fmt.Errorf("store policy: %w", err)
		}
		s.log.Warn("policy id collision, retrying", zap.String("policy_id", policy.ID), zap.Int("attempt", attempt+1))
	}
	return types.Policy{}, fmt.Errorf("store policy: %w after %d attempts", ledger.ErrDuplicateID, insertAttempts)
}

// ListPolicies groups policies by domain. An empty domain returns every
// policy domain as a key, even when it has no policies.
func (s *Store) ListPolicies(domain string) (map[types.Domain][]types.Policy, error) {
	keys := types.PolicyDomains
	filter := ""
	if domain != "" {
		d, err := types.ParsePolicyDomain(domain)
		if err != nil {
			return nil, err
		}
		keys = []types.Domain{d}
		filter = string(d)
	}

	recs, err := s.ledger.ListPolicies(filter)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	out := make(map[types.Domain][]types.Policy, len(keys))
	for _, k := range keys {
		out[k] = []types.Policy{}
	}
	for _, rec := range recs {
		d := types.Domain(rec.Domain)
		if _, ok := out[d]; !ok {
			continue
		}
		out[d] = append(out[d], types.Policy{ID: rec.PolicyID, Domain: d, Text: rec.Text, CreatedAt: rec.CreatedAt})
	}
	return out, nil
}

// RemovePolicy reports false when nothing matched.
func (s *Store) RemovePolicy(domain, id string) (bool, error) {
	d, err := types.ParsePolicyDomain(domain)
	if err != nil {
		return false, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ledger.DeletePolicy(string(d), id)
}

// RecordDecision pushes a decision to the front of memory and trims the oldest
// entries past the cap.
func (s *Store) RecordDecision(domain types.Domain, status types.DecisionStatus, reasoning string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ledger.PushMemory(ledger.MemoryRecord{
		Domain:    string(domain),
		Status:    string(status),
		Reasoning: reasoning,
		CreatedAt: s.now(),
	}, s.opts.MaxDecisions)
}

// Recent returns up to limit decisions for a domain, most recent first.
func (s *Store) Recent(domain types.Domain, limit int) ([]types.DecisionMemoryEntry, error) {
	if limit <= 0 {
		limit = s.opts.ContextLimit
	}
	recs, err := s.ledger.ListMemory(string(domain), limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.DecisionMemoryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, types.DecisionMemoryEntry{
			Domain:    types.Domain(rec.Domain),
			Status:    types.DecisionStatus(rec.Status),
			Reasoning: rec.Reasoning,
			Timestamp: rec.CreatedAt,
		})
	}
	return out, nil
}

// RecentContext renders recent decisions as a prompt block. It returns ""
// when there is nothing to show or memory cannot be read.
func (s *Store) RecentContext(domain types.Domain, limit int) string {
	entries, err := s.Recent(domain, limit)
	if err != nil {
		s.log.Warn("read decision memory", zap.String("domain", string(domain)), zap.Error(err))
		return ""
	}
	lines := memoryLines(entries)
	if len(lines) == 0 {
		return ""
	}
	return memoryHeader + strings.Join(lines, "")
}

// PolicyContext renders global then domain policies as a prompt block.
func (s *Store) PolicyContext(domain types.Domain) string {
	lines := s.policyLines(domain)
	if len(lines) == 0 {
		return ""
	}
	return policyHeader + strings.Join(lines, "")
}

// PromptContext returns the policy and memory blocks bounded by the character
// budget. Policies are kept first; memory entries that do not fit are dropped.
func (s *Store) PromptContext(domain types.Domain) (string, string) {
	budget := s.opts.CharBudget

	var policies strings.Builder
	if lines := s.policyLines(domain); len(lines) > 0 {
		budget -= len(policyHeader)
		policies.WriteString(policyHeader)
		for _, line := range lines {
			if len(line) > budget {
				break
			}
			budget -= len(line)
			policies.WriteString(line)
		}
		if policies.Len() == len(policyHeader) {
			policies.Reset()
		}
	}

	entries, err := s.Recent(domain, s.opts.ContextLimit)
	if err != nil {
		s.log.Warn("read decision memory", zap.String("domain", string(domain)), zap.Error(err))
		return policies.String(), ""
	}
	lines := memoryLines(entries)
	if len(lines) == 0 || budget <= len(memoryHeader) {
		return policies.String(), ""
	}
	budget -= len(memoryHeader)
	var memory strings.Builder
	for _, line := range lines {
		if len(line) > budget {
			break
		}
		budget -= len(line)
		memory.WriteString(line)
	}
	if memory.Len() == 0 {
		return policies.String(), ""
	}
	return policies.String(), memoryHeader + memory.String()
}

func (s *Store) policyLines(domain types.Domain) []string {
	scopes := []types.Domain{types.DomainGlobal}
	if domain != types.DomainGlobal {
		scopes = append(scopes, domain)
	}
	var texts []string
	for _, d := range scopes {
		recs, err := s.ledger.ListPolicies(string(d))
		if err != nil {
			s.log.Warn("read policies", zap.String("domain", string(d)), zap.Error(err))
			continue
		}
		for _, rec := range recs {
			texts = append(texts, rec.Text)
		}
	}
	lines := make([]string, 0, len(texts))
	for i, text := range texts {
		lines = append(lines, fmt.Sprintf("%d. %s\n", i+1, text))
	}
	return lines
}

func memoryLines(entries []types.DecisionMemoryEntry) []string {
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		lines = append(lines, fmt.Sprintf("%d. %s: %s\n", i+1, strings.ToUpper(string(e.Status)), preview(e.Reasoning)))
	}
	return lines
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= reasoningPreview {
		return s
	}
	return string(r[:reasoningPreview])
}
