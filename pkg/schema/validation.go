package schema

import (
	"fmt"
	"sort"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single validation problem tied to the task it was
// found on. Label is empty for graph-wide issues.
type ValidationIssue struct {
	Label    string             `json:"label,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues from a validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue for the given task label.
func (r *ValidationResult) AddError(label, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Label: label, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue for the given task label.
func (r *ValidationResult) AddWarning(label, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Label: label, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ErrorLabels returns the sorted distinct labels carrying errors.
func (r *ValidationResult) ErrorLabels() []string {
	seen := make(map[string]bool, len(r.Errors))
	var labels []string
	for _, issue := range r.Errors {
		if issue.Label != "" && !seen[issue.Label] {
			seen[issue.Label] = true
			labels = append(labels, issue.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// ToError converts the result to a LatticeError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if first.Label != "" {
		msg = fmt.Sprintf("%s: %s", first.Label, first.Message)
	}
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"labels":        r.ErrorLabels(),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
