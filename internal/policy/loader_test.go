package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const seedYAML = `policy_version: "2025-12-20"
policies:
  global:
    - Do not use protected attributes.
  loan:
    - Debt-to-income ratio must stay below 40%.
    - Minimum monthly income is 2000.
`

func TestLoadSeedHashesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if loaded.Hash == "" || loaded.Hash[:7] != "sha256:" {
		t.Fatalf("unexpected hash %q", loaded.Hash)
	}
	if loaded.Seed.PolicyVersion != "2025-12-20" {
		t.Fatalf("unexpected version %q", loaded.Seed.PolicyVersion)
	}
	if len(loaded.Seed.Policies["loan"]) != 2 {
		t.Fatalf("expected 2 loan policies, got %v", loaded.Seed.Policies["loan"])
	}
}

func TestLoadSeedRejectsUnknownDomain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte("policies:\n  mortgage:\n    - x\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeed(path); err == nil {
		t.Fatalf("expected error for unknown domain")
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	if _, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

type recordingAdder struct {
	seen map[string]bool
}

func (r *recordingAdder) AddPolicyIfAbsent(domain, text string) (bool, error) {
	key := domain + "|" + text
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	return true, nil
}

func TestApplyIsIdempotent(t *testing.T) {
	seed := Seed{Policies: map[string][]string{
		"global": {"a"},
		"loan":   {"b", "c"},
	}}
	adder := &recordingAdder{seen: map[string]bool{}}

	n, err := Apply(adder, seed)
	if err != nil || n != 3 {
		t.Fatalf("first apply: n=%d err=%v", n, err)
	}
	n, err = Apply(adder, seed)
	if err != nil || n != 0 {
		t.Fatalf("second apply: n=%d err=%v", n, err)
	}
}
