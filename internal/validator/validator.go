// Package validator rejects malformed or unsafe query requests before any
// cache lookup or paid provider call.
//
// The injection checks are heuristic, pattern-based defense-in-depth — not
// a SQL parser and not a guarantee. Generated queries are executed behind
// the persistence layer's own safeguards.
package validator

import (
	"regexp"
	"strings"

	"github.com/ossature/querygen/pkg/models"
)

// injectionPatterns is the fixed set of injection-style shapes that block a
// request outright. Matching is case-insensitive.
var injectionPatterns = []*regexp.Regexp{
	// Statement terminator followed by a destructive keyword.
	regexp.MustCompile(`(?i);\s*(drop\s+table|drop\s+database|delete\s+from|truncate\s+table|alter\s+table)`),
	// UNION SELECT targeting credential-like columns.
	regexp.MustCompile(`(?i)union\s+(all\s+)?select\b.*\b(password|passwd|pwd|credential|secret|token)`),
	// Classic always-true predicate.
	regexp.MustCompile(`(?i)'\s*or\s*'1'\s*=\s*'1`),
	regexp.MustCompile(`(?i)"\s*or\s*"1"\s*=\s*"1`),
	// Inline comment used to truncate the rest of a statement.
	regexp.MustCompile(`(?i)'\s*;?\s*--`),
}

// Validator checks inbound requests against the structural and safety rules.
type Validator struct{}

// New creates a request validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns nil if the request may proceed, or a validation_error
// describing the first rule that failed. No cost has been incurred either way.
func (v *Validator) Validate(req *models.QueryRequest) *models.ServiceError {
	if req == nil {
		return models.NewValidationError("request is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return models.NewValidationError("query text must not be empty")
	}
	if strings.TrimSpace(req.Role) == "" {
		return models.NewValidationError("role must not be empty")
	}

	for _, re := range injectionPatterns {
		if re.MatchString(req.Query) {
			return models.NewValidationError("query contains a potentially unsafe pattern")
		}
	}

	return nil
}
