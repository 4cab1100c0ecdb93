package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail checks the shape of a login email
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if len(email) > 254 {
		return fmt.Errorf("email too long")
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateManualCode checks a manually entered ticket code before it reaches
// the workflow. The extractor heuristic does not apply on this path, so the
// gate here is deliberately loose: printable, bounded, non-empty.
func ValidateManualCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("ticket code cannot be empty")
	}
	if len(code) > 128 {
		return fmt.Errorf("ticket code too long (max 128 chars)")
	}
	for _, r := range code {
		if r < 32 || r == 127 {
			return fmt.Errorf("invalid characters in ticket code")
		}
	}
	return nil
}

// ValidateExportFormat checks the export format query parameter
func ValidateExportFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "csv", "json":
		return nil
	}
	return fmt.Errorf("invalid export format: %s (allowed: csv, json)", format)
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates the history limit parameter
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
