package contextstore

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/xaidecide/internal/ledger"
	"github.com/davidahmann/xaidecide/pkg/types"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Now = func() time.Time { return time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC) }
	return New(ledger.NewInMemoryStore(), opts)
}

func TestRecentContextOrderingWithLimit(t *testing.T) {
	s := newTestStore(t, Options{})
	for _, r := range []string{"r1", "r2", "r3", "r4", "r5"} {
		require.NoError(t, s.RecordDecision(types.DomainLoan, types.StatusApproved, r))
	}

	got := s.RecentContext(types.DomainLoan, 3)
	want := "\n\nRECENT SIMILAR DECISIONS:\n" +
		"1. APPROVED: r5\n" +
		"2. APPROVED: r4\n" +
		"3. APPROVED: r3\n"
	assert.Equal(t, want, got)
}

func TestRecentContextEmptyAndFiltered(t *testing.T) {
	s := newTestStore(t, Options{})
	assert.Equal(t, "", s.RecentContext(types.DomainJob, 5))

	require.NoError(t, s.RecordDecision(types.DomainCredit, types.StatusRejected, "high utilization"))
	assert.Equal(t, "", s.RecentContext(types.DomainJob, 5))
	assert.Contains(t, s.RecentContext(types.DomainCredit, 0), "1. REJECTED: high utilization")
}

func TestRecentContextTruncatesReasoning(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.RecordDecision(types.DomainLoan, types.StatusApproved, strings.Repeat("x", 1000)))

	got := s.RecentContext(types.DomainLoan, 1)
	line := strings.TrimPrefix(got, memoryHeader)
	assert.Equal(t, "1. APPROVED: "+strings.Repeat("x", 400)+"\n", line)
}

func TestMemoryCapAcrossDomains(t *testing.T) {
	s := newTestStore(t, Options{MaxDecisions: 3})
	require.NoError(t, s.RecordDecision(types.DomainLoan, types.StatusApproved, "old"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordDecision(types.DomainJob, types.StatusRejected, "new"))
	}
	entries, err := s.Recent(types.DomainLoan, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPolicyRoundTrip(t *testing.T) {
	s := newTestStore(t, Options{})

	p, err := s.AddPolicy("LOAN", "  Minimum income is 2000  ")
	require.NoError(t, err)
	assert.Len(t, p.ID, 8)
	assert.Equal(t, types.DomainLoan, p.Domain)
	assert.Equal(t, "Minimum income is 2000", p.Text)

	all, err := s.ListPolicies("")
	require.NoError(t, err)
	assert.Len(t, all, len(types.PolicyDomains))
	require.Len(t, all[types.DomainLoan], 1)
	assert.Equal(t, p.ID, all[types.DomainLoan][0].ID)
	assert.Empty(t, all[types.DomainGlobal])

	removed, err := s.RemovePolicy("loan", p.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	again, err := s.RemovePolicy("loan", p.ID)
	require.NoError(t, err)
	assert.False(t, again)

	loan, err := s.ListPolicies("loan")
	require.NoError(t, err)
	assert.Len(t, loan, 1)
	assert.Empty(t, loan[types.DomainLoan])
}

func TestAddPolicyValidation(t *testing.T) {
	s := newTestStore(t, Options{})

	_, err := s.AddPolicy("mortgage", "x")
	assert.ErrorIs(t, err, types.ErrInvalidDomain)

	_, err = s.AddPolicy("global", "   ")
	assert.ErrorIs(t, err, ErrEmptyPolicy)

	_, err = s.ListPolicies("nope")
	assert.ErrorIs(t, err, types.ErrInvalidDomain)
}

func TestPolicyContextGlobalFirst(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.AddPolicy("loan", "DTI below 40%")
	require.NoError(t, err)
	_, err = s.AddPolicy("global", "Do not use protected attributes")
	require.NoError(t, err)
	_, err = s.AddPolicy("job", "unrelated")
	require.NoError(t, err)

	want := "\n\nAPPLICABLE POLICIES AND RULES:\n" +
		"1. Do not use protected attributes\n" +
		"2. DTI below 40%\n"
	assert.Equal(t, want, s.PolicyContext(types.DomainLoan))
	assert.Equal(t, "", newTestStore(t, Options{}).PolicyContext(types.DomainLoan))
}

func TestPromptContextBudget(t *testing.T) {
	s := newTestStore(t, Options{CharBudget: len(policyHeader) + len(memoryHeader) + 60})
	_, err := s.AddPolicy("loan", "short rule")
	require.NoError(t, err)
	require.NoError(t, s.RecordDecision(types.DomainLoan, types.StatusApproved, strings.Repeat("a", 100)))
	require.NoError(t, s.RecordDecision(types.DomainLoan, types.StatusRejected, "brief"))

	policies, memory := s.PromptContext(types.DomainLoan)
	assert.Equal(t, policyHeader+"1. short rule\n", policies)
	// Only the newest entry fits; the long one is dropped whole.
	assert.Equal(t, memoryHeader+"1. REJECTED: brief\n", memory)
	assert.LessOrEqual(t, len(policies)+len(memory), s.opts.CharBudget)
}

func TestPromptContextWithoutBudgetPressure(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.RecordDecision(types.DomainInsurance, types.StatusApproved, "clean history"))

	policies, memory := s.PromptContext(types.DomainInsurance)
	assert.Equal(t, "", policies)
	assert.Equal(t, s.RecentContext(types.DomainInsurance, 0), memory)
}

func TestAddPolicyIfAbsent(t *testing.T) {
	s := newTestStore(t, Options{})

	added, err := s.AddPolicyIfAbsent("credit", "Utilization under 30%")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddPolicyIfAbsent("CREDIT", " Utilization under 30% ")
	require.NoError(t, err)
	assert.False(t, added)

	got, err := s.ListPolicies("credit")
	require.NoError(t, err)
	assert.Len(t, got[types.DomainCredit], 1)
}

func TestAddPolicyIfAbsentConcurrent(t *testing.T) {
	s := newTestStore(t, Options{})

	const callers = 16
	var wg sync.WaitGroup
	var added atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AddPolicyIfAbsent("loan", "Minimum income 2000")
			assert.NoError(t, err)
			if ok {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), added.Load())
	got, err := s.ListPolicies("loan")
	require.NoError(t, err)
	assert.Len(t, got[types.DomainLoan], 1)
}

func TestAddPolicyRetriesTakenID(t *testing.T) {
	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	s := newTestStore(t, Options{NewID: func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}})

	first, err := s.AddPolicy("loan", "first rule")
	require.NoError(t, err)
	second, err := s.AddPolicy("credit", "second rule")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaa", first.ID)
	assert.Equal(t, "bbbbbbbb", second.ID)

	got, err := s.ListPolicies("loan")
	require.NoError(t, err)
	require.Len(t, got[types.DomainLoan], 1)
	assert.Equal(t, "first rule", got[types.DomainLoan][0].Text)
}
