package cases

import "slices"

// CanonicalQuestionIDs lists the follow-up question ids every analysis carries, in order.
var CanonicalQuestionIDs = []string{"duration", "diet_change", "vomiting", "energy", "deworming_recent"}

// CanonicalQuestions returns a fresh copy of the standard follow-up questions.
func CanonicalQuestions() []Question {
	return []Question{
		{ID: "duration", Type: "number", Label: "How many days has this been occurring?", Required: true},
		{ID: "diet_change", Type: "select", Label: "Any recent diet changes?", Options: []string{"No", "Yes (new brand)", "Yes (new protein)"}},
		{ID: "vomiting", Type: "select", Label: "Has your dog been vomiting?", Options: []string{"No", "Once", "Multiple times"}},
		{ID: "energy", Type: "select", Label: "How is your dog's energy level?", Options: []string{"Normal", "Slightly low", "Low"}},
		{ID: "deworming_recent", Type: "select", Label: "When was the last deworming?", Options: []string{"No", "Within 3 months", "> 3 months ago"}},
	}
}

// HasCanonicalQuestions reports whether qs carries exactly the canonical id
// set, each once, with known input types.
func HasCanonicalQuestions(qs []Question) bool {
	if len(qs) != len(CanonicalQuestionIDs) {
		return false
	}
	seen := make(map[string]bool, len(qs))
	for _, q := range qs {
		if !slices.Contains(CanonicalQuestionIDs, q.ID) || seen[q.ID] {
			return false
		}
		if !slices.Contains(questionTypes, q.Type) {
			return false
		}
		seen[q.ID] = true
	}
	return true
}
