package enrichment

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what Enrich returns when the round trip fails
type FailurePolicy int

const (
	// FailFast returns the round-trip error and no batch
	FailFast FailurePolicy = iota
	// BestEffort logs the error and returns the batch with whatever could be
	// merged from the cache
	BestEffort
)

// String returns the config spelling of the policy
func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case BestEffort:
		return "best_effort"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses a config value. An empty value selects FailFast.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail_fast", "failfast":
		return FailFast, nil
	case "best_effort", "besteffort":
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("unknown failure policy %q", s)
	}
}
