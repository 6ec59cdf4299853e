package protocol

import "fmt"

const (
	// Control-surface / scoring input validation.
	ErrValidation = "E_VALIDATION"

	// Control operation illegal for the current run status.
	ErrInvalidState = "E_INVALID_STATE"

	// Referenced agent/venue/booking missing.
	ErrNotFound = "E_NOT_FOUND"

	// Booking validation failure (terminal).
	ErrCapacity = "E_CAPACITY"

	// External dependency (explanation generator) unreachable.
	ErrDependency = "E_DEPENDENCY"
)

var knownCodes = map[string]struct{}{
	ErrValidation:   {},
	ErrInvalidState: {},
	ErrNotFound:     {},
	ErrCapacity:     {},
	ErrDependency:   {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is the structured error returned by control and domain operations.
// Code is one of the E_* constants above; Detail is human-readable.
type Error struct {
	Code   string
	Detail string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Detail
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf returns the protocol error code, or "" for nil/plain errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*Error); ok {
		return pe.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
