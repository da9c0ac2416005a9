// Package selector implements the provider selection rules. Selection is a
// pure function of the request and current provider availability: no I/O,
// no side effects, so every branch is directly testable.
//
// Rule order matters. An explicit user override short-circuits everything.
// Otherwise the default provider is chosen, then the complexity hint, the
// automatic complexity score, and the domain-specialization keywords may
// each revise the choice, in that order. Availability is enforced last so
// the secondary provider is never selected without a configured credential.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ossature/querygen/pkg/models"
)

// AutoComplexityThreshold is the score above which the secondary provider
// is preferred.
const AutoComplexityThreshold = 0.7

// Availability reports which providers currently have a usable credential
// and connection configured.
type Availability struct {
	Claude bool
	GPT    bool
}

// Available reports availability for a single provider id.
func (a Availability) Available(p models.ProviderID) bool {
	switch p {
	case models.ProviderClaude:
		return a.Claude
	case models.ProviderGPT:
		return a.GPT
	default:
		return false
	}
}

// complexKeywords each add 0.2 to the automatic complexity score. They mark
// structurally demanding SQL: joins, grouping, set operations, windows.
var complexKeywords = []string{
	"join", "having", "group by", "union", "intersect", "except",
	"partition by", "subquery", "sous-requête",
}

// analyticalKeywords each add 0.1. They mark analytical intent rather than
// structural complexity.
var analyticalKeywords = []string{
	"trend", "tendance", "forecast", "prévision", "correlation",
	"corrélation", "benchmark", "évolution",
}

// domainPattern forces the primary provider: it has better grounding on the
// menuiserie vocabulary than the secondary. Whole words only, so "pose"
// does not fire inside "proposer" or "bois" inside "boisson".
var domainPattern = regexp.MustCompile(
	`\b(?:menuiseries?|fen[eê]tres?|portes?|volets?|vitrages?|pvc|aluminium|charpentes?|bois|poses?|chantiers?)\b`)

// tableRefPattern counts distinct schema references in the context excerpt.
var tableRefPattern = regexp.MustCompile(`(?i)(?:create\s+table|\btable\b|\bfrom\b|\bjoin\b)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// Select chooses a provider for the request. First rule that applies wins,
// except that later rules may revise earlier ones as documented above.
func Select(req *models.QueryRequest, avail Availability) models.ModelSelection {
	if req.ForceModel != "" {
		return models.ModelSelection{
			Provider:          req.ForceModel,
			Reason:            "user override",
			Confidence:        1.0,
			RulesFired:        []string{models.RuleUserOverride},
			FallbackAvailable: avail.Available(req.ForceModel.Other()),
		}
	}

	sel := models.ModelSelection{
		Provider:   models.ProviderClaude,
		Reason:     "default cost/quality balance",
		Confidence: 0.7,
	}

	if req.Complexity == models.ComplexityComplex || req.Complexity == models.ComplexityExpert {
		sel.Provider = models.ProviderGPT
		sel.Reason = fmt.Sprintf("complexity hint %q prefers the secondary provider", req.Complexity)
		sel.Confidence = 0.85
		sel.RulesFired = append(sel.RulesFired, models.RuleComplexityBased)
	}

	// The automatic score runs independently of the hint and may restate the
	// rationale even when it agrees on the provider.
	if score := ComplexityScore(req); score > AutoComplexityThreshold {
		sel.Provider = models.ProviderGPT
		sel.Reason = fmt.Sprintf("automatic complexity score %.2f exceeds %.2f", score, AutoComplexityThreshold)
		sel.Confidence = min(0.9, score)
		sel.RulesFired = append(sel.RulesFired, models.RuleAutoComplexity)
	}

	// Domain specialization takes precedence over the complexity rules.
	if matchesDomain(req) {
		sel.Provider = models.ProviderClaude
		sel.Reason = "menuiserie domain vocabulary prefers the primary provider"
		sel.Confidence = 0.8
		sel.RulesFired = append(sel.RulesFired, models.RuleMenuiserieDomain)
	}

	if sel.Provider == models.ProviderGPT && !avail.GPT {
		sel.Provider = models.ProviderClaude
		sel.Reason = "secondary provider unavailable, falling back to default"
		sel.Confidence = 0.6
		sel.RulesFired = append(sel.RulesFired, models.RuleGPTUnavailable)
	}

	sel.FallbackAvailable = avail.Available(sel.Provider.Other())
	return sel
}

// ComplexityScore estimates in [0,1] how analytically demanding a query is,
// from its length, keyword presence, and schema-reference density.
func ComplexityScore(req *models.QueryRequest) float64 {
	query := strings.ToLower(req.Query)

	score := min(0.35, float64(len(req.Query))/600)

	for _, kw := range complexKeywords {
		if strings.Contains(query, kw) {
			score += 0.2
		}
	}
	for _, kw := range analyticalKeywords {
		if strings.Contains(query, kw) {
			score += 0.1
		}
	}

	refs := distinctTableRefs(req.Context)
	score += 0.05 * float64(min(4, refs))

	return min(1.0, score)
}

// distinctTableRefs counts unique table identifiers mentioned in the
// context excerpt.
func distinctTableRefs(context string) int {
	if context == "" {
		return 0
	}
	seen := make(map[string]struct{})
	for _, m := range tableRefPattern.FindAllStringSubmatch(context, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}
	return len(seen)
}

// matchesDomain reports whether the query or context carries menuiserie
// vocabulary.
func matchesDomain(req *models.QueryRequest) bool {
	return domainPattern.MatchString(strings.ToLower(req.Query + " " + req.Context))
}
