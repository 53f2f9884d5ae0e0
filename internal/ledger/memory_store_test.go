package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestInMemoryStore_ApplicationCRUD(t *testing.T) {
	s := NewInMemoryStore()

	first := ApplicationRecord{AppID: "APP-1", Domain: "loan", Status: "pending_human", BodyJSON: []byte(`{}`), CreatedAt: "2025-12-20T00:00:00Z"}
	second := ApplicationRecord{AppID: "APP-2", Domain: "job", Status: "approved", BodyJSON: []byte(`{}`), CreatedAt: "2025-12-20T00:00:01Z"}
	for _, app := range []ApplicationRecord{first, second} {
		if err := s.PutApplication(app); err != nil {
			t.Fatalf("put application: %v", err)
		}
	}
	if got, ok, err := s.GetApplication("APP-1"); err != nil || !ok || got.Domain != "loan" {
		t.Fatalf("get application mismatch: ok=%v err=%v got=%+v", ok, err, got)
	}
	if _, ok, err := s.GetApplication("missing"); ok || err != nil {
		t.Fatalf("expected missing application without error: ok=%v err=%v", ok, err)
	}

	all, err := s.ListApplications()
	if err != nil || len(all) != 2 || all[0].AppID != "APP-2" {
		t.Fatalf("list all mismatch: err=%v got=%+v", err, all)
	}
	pending, err := s.ListApplications("pending_ai", "pending_human")
	if err != nil || len(pending) != 1 || pending[0].AppID != "APP-1" {
		t.Fatalf("list pending mismatch: err=%v got=%+v", err, pending)
	}

	if err := s.PutApplication(ApplicationRecord{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestInMemoryStore_Policies(t *testing.T) {
	s := NewInMemoryStore()

	for i, domain := range []string{"global", "loan", "loan"} {
		rec := PolicyRecord{PolicyID: fmt.Sprintf("p%d", i), Domain: domain, Text: "t", CreatedAt: "now"}
		if err := s.InsertPolicy(rec); err != nil {
			t.Fatalf("put policy: %v", err)
		}
	}

	loan, err := s.ListPolicies("loan")
	if err != nil || len(loan) != 2 || loan[0].PolicyID != "p1" {
		t.Fatalf("list loan mismatch: err=%v got=%+v", err, loan)
	}
	all, _ := s.ListPolicies("")
	if len(all) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(all))
	}

	if ok, err := s.DeletePolicy("global", "p1"); err != nil || ok {
		t.Fatalf("delete with wrong domain should miss: ok=%v err=%v", ok, err)
	}
	if ok, err := s.DeletePolicy("loan", "p1"); err != nil || !ok {
		t.Fatalf("delete mismatch: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.DeletePolicy("loan", "p1"); ok {
		t.Fatalf("second delete should miss")
	}
}

func TestInMemoryStore_MemoryIsBoundedFIFO(t *testing.T) {
	s := NewInMemoryStore()

	for i := 0; i < 5; i++ {
		domain := "loan"
		if i%2 == 1 {
			domain = "job"
		}
		if err := s.PushMemory(MemoryRecord{Domain: domain, Status: "approved", Reasoning: fmt.Sprintf("r%d", i)}, 4); err != nil {
			t.Fatalf("push memory: %v", err)
		}
	}

	all, _ := s.ListMemory("", 0)
	if len(all) != 4 || all[0].Reasoning != "r4" || all[3].Reasoning != "r1" {
		t.Fatalf("unexpected memory: %+v", all)
	}
	loan, _ := s.ListMemory("loan", 1)
	if len(loan) != 1 || loan[0].Reasoning != "r4" {
		t.Fatalf("unexpected loan memory: %+v", loan)
	}
}

func TestInMemoryStore_Explanations(t *testing.T) {
	s := NewInMemoryStore()
	for i := 0; i < 3; i++ {
		if err := s.PushExplanation(ExplanationRecord{ExplanationID: fmt.Sprintf("e%d", i)}, 2); err != nil {
			t.Fatalf("push explanation: %v", err)
		}
	}
	got, _ := s.ListExplanations(0)
	if len(got) != 2 || got[0].ExplanationID != "e2" {
		t.Fatalf("unexpected explanations: %+v", got)
	}
	got, _ = s.ListExplanations(1)
	if len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}

func TestInMemoryStore_WithTxRollsBack(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.PutApplication(ApplicationRecord{AppID: "APP-1", Status: "pending_human"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := s.WithTx(func(tx Tx) error {
		if err := tx.PutApplication(ApplicationRecord{AppID: "APP-1", Status: "approved"}); err != nil {
			return err
		}
		if err := tx.PushMemory(MemoryRecord{Domain: "loan"}, 10); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	got, _, _ := s.GetApplication("APP-1")
	if got.Status != "pending_human" {
		t.Fatalf("expected rollback, got status %s", got.Status)
	}
	if mem, _ := s.ListMemory("", 0); len(mem) != 0 {
		t.Fatalf("expected memory rollback, got %d", len(mem))
	}

	if err := s.WithTx(func(tx Tx) error {
		app, ok, err := tx.GetApplication("APP-1")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("missing")
		}
		app.Status = "approved"
		return tx.PutApplication(app)
	}); err != nil {
		t.Fatalf("withtx: %v", err)
	}
	if got, _, _ := s.GetApplication("APP-1"); got.Status != "approved" {
		t.Fatalf("expected committed update, got %s", got.Status)
	}
}

func TestInMemoryStore_InsertOnlyWrites(t *testing.T) {
	s := NewInMemoryStore()

	app := ApplicationRecord{AppID: "APP-1", Domain: "loan", Status: "pending_ai", BodyJSON: []byte(`{"n":1}`), CreatedAt: "now"}
	if err := s.CreateApplication(app); err != nil {
		t.Fatalf("create application: %v", err)
	}
	clash := app
	clash.BodyJSON = []byte(`{"n":2}`)
	if err := s.CreateApplication(clash); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if got, _, _ := s.GetApplication("APP-1"); string(got.BodyJSON) != `{"n":1}` {
		t.Fatalf("existing application overwritten: %s", got.BodyJSON)
	}

	if err := s.InsertPolicy(PolicyRecord{PolicyID: "p1", Domain: "loan", Text: "first", CreatedAt: "now"}); err != nil {
		t.Fatalf("insert policy: %v", err)
	}
	if err := s.InsertPolicy(PolicyRecord{PolicyID: "p1", Domain: "job", Text: "second", CreatedAt: "now"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	all, _ := s.ListPolicies("")
	if len(all) != 1 || all[0].Text != "first" {
		t.Fatalf("existing policy overwritten: %+v", all)
	}
}
