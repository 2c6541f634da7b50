package gate

import (
	"context"
	"fmt"
	"strings"
)

// Built-in requirement type keys.
const (
	TypeContentLength    = "content_length"
	TypeKeywordPresence  = "keyword_presence"
	TypeSectionPresence  = "section_presence"
	TypeForbiddenContent = "forbidden_content"
)

// RegisterBuiltins installs the built-in evaluators and their hint
// generators on the registry.
func RegisterBuiltins(r *Registry) {
	r.RegisterEvaluator(TypeContentLength, EvaluatorFunc(evaluateContentLength))
	r.RegisterHintGenerator(TypeContentLength, HintFunc(contentLengthHint))

	r.RegisterEvaluator(TypeKeywordPresence, EvaluatorFunc(evaluateKeywordPresence))
	r.RegisterHintGenerator(TypeKeywordPresence, HintFunc(keywordPresenceHint))

	r.RegisterEvaluator(TypeSectionPresence, EvaluatorFunc(evaluateSectionPresence))
	r.RegisterHintGenerator(TypeSectionPresence, HintFunc(sectionPresenceHint))

	r.RegisterEvaluator(TypeForbiddenContent, EvaluatorFunc(evaluateForbiddenContent))
	r.RegisterHintGenerator(TypeForbiddenContent, HintFunc(forbiddenContentHint))
}

// ---- content_length ----
// Criteria: {"min": int, "max": int}, both optional, zero means unbounded.

func evaluateContentLength(_ context.Context, content string, criteria map[string]any, _ Context) (EvaluationResult, error) {
	minLen := criteriaInt(criteria, "min")
	maxLen := criteriaInt(criteria, "max")
	length := len([]rune(content))

	passed := true
	var msg string
	switch {
	case minLen > 0 && length < minLen:
		passed = false
		msg = fmt.Sprintf("content length %d is below minimum %d", length, minLen)
	case maxLen > 0 && length > maxLen:
		passed = false
		msg = fmt.Sprintf("content length %d exceeds maximum %d", length, maxLen)
	default:
		msg = fmt.Sprintf("content length %d within bounds", length)
	}

	score := 1.0
	if !passed {
		if minLen > 0 && length < minLen {
			score = float64(length) / float64(minLen)
		} else if maxLen > 0 {
			score = float64(maxLen) / float64(length)
		}
	}

	return EvaluationResult{
		Passed:  passed,
		Score:   clampScore(score),
		Message: msg,
		Details: map[string]any{"length": length, "min": minLen, "max": maxLen},
	}, nil
}

func contentLengthHint(req Requirement, result EvaluationResult) string {
	minLen := criteriaInt(req.Criteria, "min")
	maxLen := criteriaInt(req.Criteria, "max")
	if length, ok := result.Details["length"].(int); ok {
		if minLen > 0 && length < minLen {
			return fmt.Sprintf("expand the content by at least %d characters to reach the %d character minimum", minLen-length, minLen)
		}
		if maxLen > 0 && length > maxLen {
			return fmt.Sprintf("shorten the content by %d characters to fit the %d character maximum", length-maxLen, maxLen)
		}
	}
	return "adjust the content length to fit the configured bounds"
}

// ---- keyword_presence ----
// Criteria: {"keywords": []string, "mode": "all"|"any"}, mode defaults to all.

func evaluateKeywordPresence(_ context.Context, content string, criteria map[string]any, _ Context) (EvaluationResult, error) {
	keywords := criteriaStrings(criteria, "keywords")
	if len(keywords) == 0 {
		return EvaluationResult{}, fmt.Errorf("keyword_presence requires a non-empty keywords list")
	}
	mode := criteriaString(criteria, "mode")
	if mode == "" {
		mode = "all"
	}

	lower := strings.ToLower(content)
	var present, missing []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			present = append(present, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	passed := len(missing) == 0
	if mode == "any" {
		passed = len(present) > 0
	}

	msg := fmt.Sprintf("found %d of %d keywords", len(present), len(keywords))
	return EvaluationResult{
		Passed:  passed,
		Score:   clampScore(float64(len(present)) / float64(len(keywords))),
		Message: msg,
		Details: map[string]any{"present": present, "missing": missing, "mode": mode},
	}, nil
}

func keywordPresenceHint(_ Requirement, result EvaluationResult) string {
	if missing, ok := result.Details["missing"].([]string); ok && len(missing) > 0 {
		return fmt.Sprintf("include the missing keywords: %s", strings.Join(missing, ", "))
	}
	return "include the required keywords in the content"
}

// ---- section_presence ----
// Criteria: {"sections": []string}, markdown-style headings expected in the content.

func evaluateSectionPresence(_ context.Context, content string, criteria map[string]any, _ Context) (EvaluationResult, error) {
	sections := criteriaStrings(criteria, "sections")
	if len(sections) == 0 {
		return EvaluationResult{}, fmt.Errorf("section_presence requires a non-empty sections list")
	}

	headings := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			headings[strings.ToLower(heading)] = true
		}
	}

	var missing []string
	for _, s := range sections {
		if !headings[strings.ToLower(s)] {
			missing = append(missing, s)
		}
	}

	found := len(sections) - len(missing)
	return EvaluationResult{
		Passed:  len(missing) == 0,
		Score:   clampScore(float64(found) / float64(len(sections))),
		Message: fmt.Sprintf("found %d of %d required sections", found, len(sections)),
		Details: map[string]any{"missing": missing},
	}, nil
}

func sectionPresenceHint(_ Requirement, result EvaluationResult) string {
	if missing, ok := result.Details["missing"].([]string); ok && len(missing) > 0 {
		return fmt.Sprintf("add the missing sections as markdown headings: %s", strings.Join(missing, ", "))
	}
	return "add the required section headings to the content"
}

// ---- forbidden_content ----
// Criteria: {"patterns": []string}, substrings that must not appear.

func evaluateForbiddenContent(_ context.Context, content string, criteria map[string]any, _ Context) (EvaluationResult, error) {
	patterns := criteriaStrings(criteria, "patterns")
	if len(patterns) == 0 {
		return EvaluationResult{}, fmt.Errorf("forbidden_content requires a non-empty patterns list")
	}

	lower := strings.ToLower(content)
	var matched []string
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			matched = append(matched, p)
		}
	}

	passed := len(matched) == 0
	score := 1.0
	if !passed {
		score = 1 - float64(len(matched))/float64(len(patterns))
	}

	return EvaluationResult{
		Passed:  passed,
		Score:   clampScore(score),
		Message: fmt.Sprintf("matched %d forbidden patterns", len(matched)),
		Details: map[string]any{"matched": matched},
	}, nil
}

func forbiddenContentHint(_ Requirement, result EvaluationResult) string {
	if matched, ok := result.Details["matched"].([]string); ok && len(matched) > 0 {
		return fmt.Sprintf("remove the forbidden content: %s", strings.Join(matched, ", "))
	}
	return "remove the forbidden content"
}

// ---- criteria helpers ----

// criteriaInt reads an integer criterion, accepting the numeric types JSON
// and YAML decoding produce.
func criteriaInt(criteria map[string]any, key string) int {
	switch v := criteria[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// criteriaString reads a string criterion.
func criteriaString(criteria map[string]any, key string) string {
	if s, ok := criteria[key].(string); ok {
		return s
	}
	return ""
}

// criteriaStrings reads a string-list criterion, accepting []string and
// []any from decoded JSON/YAML.
func criteriaStrings(criteria map[string]any, key string) []string {
	switch v := criteria[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
