package retriever

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Excerpt truncates text to at most n runes, marking the cut with "...".
func Excerpt(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

var suggestionTemplates = []string{
	"What is %s?",
	"Explain %s",
	"How does %s work?",
	"Tell me about %s",
	"Examples of %s",
}

// Suggestions expands a partial query into up to max full questions.
func Suggestions(partial string, max int) []string {
	partial = strings.TrimSpace(partial)
	if partial == "" || max <= 0 {
		return []string{}
	}
	out := make([]string, 0, min(max, len(suggestionTemplates)))
	for _, tmpl := range suggestionTemplates[:min(max, len(suggestionTemplates))] {
		out = append(out, fmt.Sprintf(tmpl, partial))
	}
	return out
}

// Intent is a keyword-based classification of a query.
type Intent struct {
	IsQuestion        bool `json:"is_question"`
	IsDefinition      bool `json:"is_definition"`
	IsExplanation     bool `json:"is_explanation"`
	IsComparison      bool `json:"is_comparison"`
	IsExample         bool `json:"is_example"`
	QueryLength       int  `json:"query_length"`
	HasTechnicalTerms bool `json:"has_technical_terms"`
}

// AnalyzeIntent flags a query by the keywords it contains. Matching is by
// substring on the lower-cased query.
func AnalyzeIntent(query string) Intent {
	q := strings.ToLower(query)
	return Intent{
		IsQuestion:        containsAny(q, "what", "how", "why", "when", "where", "who", "?"),
		IsDefinition:      containsAny(q, "what is", "define", "definition"),
		IsExplanation:     containsAny(q, "explain", "how does", "tell me about"),
		IsComparison:      containsAny(q, "compare", "difference", "vs", "versus"),
		IsExample:         containsAny(q, "example", "instance", "case"),
		QueryLength:       len(strings.Fields(query)),
		HasTechnicalTerms: containsAny(q, "api", "function", "method", "class", "algorithm"),
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
