package security

import (
	"fmt"
	"regexp"
)

// Identifier limits.
const (
	MaxRequestIDLength = 128
	MaxStageNameLength = 64
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      any
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

var (
	// requestIDRegex admits UUIDs and the usual trace id alphabets.
	requestIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
	stageNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateRequestID checks an externally supplied request id.
// Requirements: 1-128 chars of letters, digits, '.', '_', ':' or '-',
// starting with a letter or digit.
func ValidateRequestID(id string) error {
	return validateIdentifier("request_id", id, MaxRequestIDLength, requestIDRegex,
		"must contain only letters, digits, '.', '_', ':' and '-', and start with a letter or digit")
}

// ValidateStageName checks a pipeline stage name: 1-64 chars of lower-case
// letters, digits and underscores, starting with a letter.
func ValidateStageName(stage string) error {
	return validateIdentifier("stage", stage, MaxStageNameLength, stageNameRegex,
		"must be lower_snake_case")
}

func validateIdentifier(field, v string, maxLen int, re *regexp.Regexp, constraint string) error {
	if v == "" {
		return &ValidationError{Field: field, Constraint: "required"}
	}
	if len(v) > maxLen {
		return &ValidationError{
			Field:      field,
			Value:      len(v),
			Constraint: fmt.Sprintf("maximum length is %d characters", maxLen),
		}
	}
	if !re.MatchString(v) {
		return &ValidationError{Field: field, Value: SanitizeForLogWithLength(v, 40), Constraint: constraint}
	}
	return nil
}
