package output

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter decides which buffered lines are displayable for a read.
//
// The zero value shows everything. Predicates combine with AND:
//
//	substring (if set) AND regex (if set)
//	AND (not errorsOnly OR category == error)
//	AND (not warningsOnly OR category == warning)
//
// errorsOnly and warningsOnly are mutually exclusive: enabling one
// clears the other.
//
// A Filter is not safe for concurrent mutation; callers own their filter
// and pass it to reads.
type Filter struct {
	search       string
	searchLower  string
	pattern      string
	re           *regexp.Regexp
	errorsOnly   bool
	warningsOnly bool
}

// SetSearch sets the case-insensitive substring predicate. Empty disables it.
func (f *Filter) SetSearch(s string) {
	f.search = s
	f.searchLower = strings.ToLower(s)
}

// Search returns the substring predicate.
func (f *Filter) Search() string {
	return f.search
}

// SetPattern compiles and sets the regex predicate. Empty disables it.
// An invalid pattern leaves the previous predicate in place.
func (f *Filter) SetPattern(pattern string) error {
	if pattern == "" {
		f.pattern = ""
		f.re = nil
		return nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}
	f.pattern = pattern
	f.re = re
	return nil
}

// Pattern returns the regex predicate source.
func (f *Filter) Pattern() string {
	return f.pattern
}

// SetErrorsOnly toggles the error-only predicate. Enabling it clears warningsOnly.
func (f *Filter) SetErrorsOnly(on bool) {
	f.errorsOnly = on
	if on {
		f.warningsOnly = false
	}
}

// SetWarningsOnly toggles the warning-only predicate. Enabling it clears errorsOnly.
func (f *Filter) SetWarningsOnly(on bool) {
	f.warningsOnly = on
	if on {
		f.errorsOnly = false
	}
}

// ErrorsOnly reports whether only error lines are displayable.
func (f *Filter) ErrorsOnly() bool {
	return f.errorsOnly
}

// WarningsOnly reports whether only warning lines are displayable.
func (f *Filter) WarningsOnly() bool {
	return f.warningsOnly
}

// Active reports whether any predicate is set.
func (f *Filter) Active() bool {
	return f != nil && (f.search != "" || f.re != nil || f.errorsOnly || f.warningsOnly)
}

// Match reports whether line is displayable. A nil filter matches everything.
// Compaction markers always match so the gap stays visible.
func (f *Filter) Match(line Line) bool {
	if f == nil || line.Marker {
		return true
	}
	if f.search != "" && !strings.Contains(strings.ToLower(line.Text), f.searchLower) {
		return false
	}
	if f.re != nil && !f.re.MatchString(line.Text) {
		return false
	}
	if f.errorsOnly && line.Category != CategoryError {
		return false
	}
	if f.warningsOnly && line.Category != CategoryWarning {
		return false
	}
	return true
}

// Render evaluates the filter over lines.
func (f *Filter) Render(lines []Line) []RenderedLine {
	out := make([]RenderedLine, len(lines))
	for i, l := range lines {
		out[i] = RenderedLine{Line: l, Displayable: f.Match(l)}
	}
	return out
}
