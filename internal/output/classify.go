package output

import "strings"

// classRule maps a set of keywords to a category. Rules are checked in
// order and the first hit wins, so "failed: warning ignored" is an error.
type classRule struct {
	category Category
	keywords []string
}

var classRules = []classRule{
	{CategoryError, []string{"error", "exception", "failed", "failure"}},
	{CategoryWarning, []string{"warning", "warn", "deprecated"}},
	{CategorySuccess, []string{"success", "completed", "done", "ready"}},
	{CategoryInfo, []string{"info", "information", "note"}},
}

// Classify assigns a category by case-insensitive keyword inspection.
// Lines matching no keyword are CategoryDebug. The text is not modified.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	for _, rule := range classRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryDebug
}
