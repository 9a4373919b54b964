// Package errs defines the single failure type used across the race-analysis
// pipeline. No other package in this module declares an exported error type;
// the validators that return it live in the stage packages (for example the
// orchestrator's input checks and scoring's Top-4 contract checks).
package errs

import "fmt"

// Code is a stable, serializable error identifier.
type Code string

const (
	MissingOdds      Code = "E001_MISSING_ODDS"
	ZeroOdds         Code = "E002_ZERO_ODDS"
	InvalidProfile   Code = "E003_INVALID_PROFILE"
	MissingScore     Code = "E004_MISSING_SCORE"
	InvalidTop4      Code = "E005_INVALID_TOP4"
	MissingRunnerID  Code = "E006_MISSING_RUNNER_ID"
	InvalidFieldSize Code = "E007_INVALID_FIELD_SIZE"
	StorageIO        Code = "E008_STORAGE_IO"
	NotFound         Code = "E009_NOT_FOUND"
	InvalidState     Code = "E010_INVALID_STATE"
	InvalidVersion   Code = "E011_INVALID_VERSION"
)

// Error is the engine's single exception type. It carries a stable code, a
// human message, a context map for structured logging, and an optional
// wrapped cause for errors.Is/errors.As chains.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Cause   error
}

func New(code Code, message string, context map[string]any) *Error {
	if context == nil {
		context = map[string]any{}
	}
	return &Error{Code: code, Message: message, Context: context}
}

func Wrap(code Code, message string, cause error, context map[string]any) *Error {
	e := New(code, message, context)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
