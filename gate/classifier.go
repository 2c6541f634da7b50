package gate

import "context"

// Classification is the advisory output of a content classifier: a set of
// suggested gate ids and the classifier's confidence in them. It feeds gate
// selection only, never gate evaluation logic.
type Classification struct {
	// SuggestedGates lists gate ids the classifier recommends applying.
	SuggestedGates []string `json:"suggested_gates"`
	// Confidence is the classifier's confidence in the suggestion, in [0, 1].
	Confidence float64 `json:"confidence"`
}

// ContentClassifier analyzes content and suggests gates to apply.
// Implementations live outside the core engine.
type ContentClassifier interface {
	Classify(ctx context.Context, content string) (Classification, error)
}

// MergeGateIDs combines manually configured gate ids with classifier
// suggestions, preserving configured order, appending suggestions not already
// present, and dropping duplicates. Suggestions below minConfidence are
// ignored entirely.
func MergeGateIDs(configured []string, suggestion Classification, minConfidence float64) []string {
	merged := make([]string, 0, len(configured)+len(suggestion.SuggestedGates))
	seen := make(map[string]bool, len(configured))
	for _, id := range configured {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	if suggestion.Confidence < minConfidence {
		return merged
	}
	for _, id := range suggestion.SuggestedGates {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	return merged
}
