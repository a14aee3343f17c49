// Package classify maps employee email addresses to a shareability class.
// The function is pure and total: every syntactically valid address yields
// exactly one class, with no I/O — it gates whether a folder may be shared
// and must be testable without a live provider.
package classify

import (
	"strings"
)

// Class is the classification outcome.
type Class string

const (
	// PersonalConsumer is a personal account on the consumer mail service
	// (e.g. gmail.com). Folders are shareable directly.
	PersonalConsumer Class = "personal_consumer"
	// EnterpriseConsumer is a company domain known to route through the
	// same mail provider (tenant allow-list). Folders are shareable.
	EnterpriseConsumer Class = "enterprise_consumer"
	// NonEligible is everything else; the folder is created under the
	// non-shareable branch and no permission is ever granted.
	NonEligible Class = "non_eligible"
)

// Shareable reports whether a folder of this class may be shared with the
// employee.
func (c Class) Shareable() bool {
	return c == PersonalConsumer || c == EnterpriseConsumer
}

// Rules holds the domain sets the classification is computed from.
// ConsumerDomains is the fixed consumer-mail set; EnterpriseDomains is the
// tenant's allow-list of company domains hosted on the same provider.
// Enterprise detection is allow-list only — no heuristics.
type Rules struct {
	ConsumerDomains   []string
	EnterpriseDomains []string
}

// Classify returns the class for email under the given rules. Domain
// comparison is exact and case-insensitive. Addresses without a parseable
// domain are NonEligible — the function stays total on any input.
func Classify(email string, rules Rules) Class {
	domain := Domain(email)
	if domain == "" {
		return NonEligible
	}

	for _, d := range rules.ConsumerDomains {
		if strings.EqualFold(domain, d) {
			return PersonalConsumer
		}
	}

	for _, d := range rules.EnterpriseDomains {
		if strings.EqualFold(domain, d) {
			return EnterpriseConsumer
		}
	}

	return NonEligible
}

// Domain extracts the domain part of an address, lowercased. Returns ""
// when the address has no usable domain.
func Domain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}

	if at == 0 {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
