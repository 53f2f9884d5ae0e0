package types

import "strings"

type Domain string

const (
	DomainLoan      Domain = "loan"
	DomainCredit    Domain = "credit"
	DomainInsurance Domain = "insurance"
	DomainJob       Domain = "job"

	// DomainGlobal scopes a policy to every evaluation. It is not a valid
	// application domain.
	DomainGlobal Domain = "global"
)

// Domains lists the application domains in declaration order.
var Domains = []Domain{DomainLoan, DomainCredit, DomainInsurance, DomainJob}

// PolicyDomains lists every domain a policy can be attached to, global first.
var PolicyDomains = []Domain{DomainGlobal, DomainLoan, DomainCredit, DomainInsurance, DomainJob}

// ParseDomain validates an application domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Domains {
		if d == known {
			return d, nil
		}
	}
	return "", invalidDomain(s)
}

// ParsePolicyDomain validates a policy domain, which may also be global.
func ParsePolicyDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if d == DomainGlobal {
		return d, nil
	}
	return ParseDomain(s)
}

func (d Domain) String() string { return string(d) }
