package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrInvalidInput indicates the input failed validation
	ErrInvalidInput = errors.New("invalid input")

	// Metric, policy and service names must be alphanumeric with
	// hyphens/underscores, 1-100 chars
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,99}$`)

	// Operator identifier for alert acknowledgement: alphanumeric with
	// underscores, dots, @ and hyphens (usernames or email addresses)
	operatorRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.@-]{2,99}$`)
)

// SanitizeString removes potentially dangerous characters and trims whitespace
func SanitizeString(input string) string {
	// Trim whitespace
	input = strings.TrimSpace(input)

	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters except newline and tab
	var builder strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) || r == '\n' || r == '\t' {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// ValidateName checks a metric, policy or service name taken from a
// request path or query parameter.
func ValidateName(name string) error {
	name = SanitizeString(name)

	if name == "" {
		return errors.New("name cannot be empty")
	}

	if len(name) > 100 {
		return errors.New("name must not exceed 100 characters")
	}

	if !nameRegex.MatchString(name) {
		return errors.New("name must start with alphanumeric and contain only letters, numbers, hyphens, and underscores")
	}

	return nil
}

// ValidateOperator checks the user identifier supplied when acknowledging
// an alert.
func ValidateOperator(user string) error {
	user = SanitizeString(user)

	if user == "" {
		return errors.New("user cannot be empty")
	}

	if len(user) < 3 {
		return errors.New("user must be at least 3 characters")
	}

	if len(user) > 100 {
		return errors.New("user must not exceed 100 characters")
	}

	if !operatorRegex.MatchString(user) {
		return errors.New("user must contain only letters, numbers, underscores, dots, @ and hyphens")
	}

	return nil
}
