package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// decodedOutput is the structured shape expected from a provider.
type decodedOutput struct {
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	Warnings    []string `json:"warnings"`
}

// Confidence assigned when the structured decode failed but a query
// statement could still be extracted heuristically.
const extractedConfidence = 0.3

// Confidence assigned when nothing recognizable was found and the raw text
// is passed through.
const rawConfidence = 0.2

var (
	codeFencePattern    = regexp.MustCompile("(?s)```(?:json|sql)?\\s*(.*?)\\s*```")
	sqlStatementPattern = regexp.MustCompile(`(?is)\b(select|with|insert|update|delete)\b.*`)
)

// decodeCompletion turns raw provider output into a structured result.
// Strict JSON decode first; on failure a best-effort extraction of a
// recognizable query statement. Never fails: malformed output lowers the
// confidence and adds a warning instead.
func decodeCompletion(text string) decodedOutput {
	candidate := strings.TrimSpace(text)
	if m := codeFencePattern.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}

	var out decodedOutput
	if err := json.Unmarshal([]byte(candidate), &out); err == nil && strings.TrimSpace(out.SQL) != "" {
		out.SQL = strings.TrimSpace(out.SQL)
		if out.Confidence <= 0 || out.Confidence > 1 {
			out.Confidence = 0.5
		}
		return out
	}

	// Some payloads wrap the object in surrounding prose. Try the first
	// top-level JSON object before falling back to raw extraction.
	if start := strings.Index(candidate, "{"); start >= 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			if err := json.Unmarshal([]byte(candidate[start:end+1]), &out); err == nil && strings.TrimSpace(out.SQL) != "" {
				out.SQL = strings.TrimSpace(out.SQL)
				if out.Confidence <= 0 || out.Confidence > 1 {
					out.Confidence = 0.5
				}
				return out
			}
		}
	}

	if stmt := sqlStatementPattern.FindString(candidate); stmt != "" {
		return decodedOutput{
			SQL:        strings.TrimSpace(stmt),
			Confidence: extractedConfidence,
			Warnings:   []string{"provider output was malformed, query extracted heuristically"},
		}
	}

	return decodedOutput{
		SQL:        candidate,
		Confidence: rawConfidence,
		Warnings:   []string{"provider output was malformed, no query statement recognized"},
	}
}
