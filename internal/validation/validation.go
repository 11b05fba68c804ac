// Package validation provides input validation for the Sentinel API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxReasoningLength caps the agent's free-text justification
const MaxReasoningLength = 4000

// MaxPayloadFields caps the number of action payload fields
const MaxPayloadFields = 64

// phoneRegex validates E.164 phone numbers
var phoneRegex = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPhoneNumber checks for an E.164 phone number
func IsValidPhoneNumber(s string) bool {
	return phoneRegex.MatchString(s)
}

// IsValidActionType reports whether s looks like an action type identifier
// (upper snake case). The policy engine decides how unknown types score;
// this only rejects garbage input early.
func IsValidActionType(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidActionType checks that a field is a well-formed action type
func ValidActionType(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidActionType(value) {
			return &ValidationError{Field: field, Message: "must be an UPPER_SNAKE_CASE action type"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MaxFields checks that a payload map is not unreasonably large
func MaxFields(field string, payload map[string]any, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(payload) > max {
			return &ValidationError{Field: field, Message: "has too many fields"}
		}
		return nil
	}
}
