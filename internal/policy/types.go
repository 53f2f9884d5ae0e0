package policy

// Seed is the on-disk policy seed file: policy texts keyed by domain.
//
//	policy_version: "2025-12-20"
//	policies:
//	  global:
//	    - Do not use protected attributes.
//	  loan:
//	    - Debt-to-income ratio must stay below 40%.
type Seed struct {
	PolicyVersion string              `yaml:"policy_version"`
	Policies      map[string][]string `yaml:"policies"`
}

// Adder is the part of the context store seeding needs.
type Adder interface {
	AddPolicyIfAbsent(domain, text string) (bool, error)
}
