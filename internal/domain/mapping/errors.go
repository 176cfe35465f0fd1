package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the mapping layer
var (
	ErrSpecNotLoaded   = errors.New("mapping: specification not loaded")
	ErrUnknownCulture  = errors.New("mapping: culture not configured")
	ErrMediaUnresolved = errors.New("mapping: media content could not be fingerprinted")
)

// ---------------------------------------------------------------------------
// ValidationError
// ---------------------------------------------------------------------------

// Violation is one structural problem in a mapping document, addressed by a
// document path such as "fields[3].kind".
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// ValidationError reports every violation found in a mapping document. The
// loader collects all of them instead of stopping at the first, so operators
// can fix a document in one pass. A ValidationError is fatal: no product is
// processed while the spec is invalid.
type ValidationError struct {
	Violations []Violation
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "mapping: invalid specification"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("mapping: %d violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// add appends a violation.
func (e *ValidationError) add(path, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

// orNil returns the error when at least one violation was collected.
func (e *ValidationError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// AsValidationError unwraps a ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// CoercionError
// ---------------------------------------------------------------------------

// CoercionError is a field-level conversion failure. It never escalates past
// the product it belongs to: the resolver downgrades it to a warning and
// excludes the field.
type CoercionError struct {
	Field   string
	Culture string
	Raw     any
	Reason  string
}

// Error implements the error interface
func (e *CoercionError) Error() string {
	if e.Culture != "" {
		return fmt.Sprintf("mapping: field %s [%s]: %s", e.Field, e.Culture, e.Reason)
	}
	return fmt.Sprintf("mapping: field %s: %s", e.Field, e.Reason)
}
