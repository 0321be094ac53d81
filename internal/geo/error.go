package geo

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/logger"
	"github.com/wegman-software/vtpipe/internal/stats"
)

// Error is a recoverable geometry failure: invalid input, a collapsed
// polygon, a simplification that no longer decodes, and so on. Callers log
// it through Stats under a stable code and skip the offending feature or
// post-process result; anything that is not a geo.Error is fatal.
type Error struct {
	// Code identifies the kind of failure in stats output; stable across
	// runs, lowercase snake case.
	Code    string
	Message string
	Err     error
}

// NewError creates a recoverable geometry error with a stable stat code.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a stable stat code to an underlying failure.
func WrapError(code string, err error) *Error {
	return &Error{Code: code, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("geometry error %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Log records the error through Stats under statPrefix_code and writes a
// debug log line with context. Best-effort; never fails.
func (e *Error) Log(st stats.Stats, statPrefix, context string) {
	st.DataError(statPrefix + "_" + e.Code)
	logger.Get().Debug("Geometry error",
		zap.String("code", e.Code),
		zap.String("context", context),
		zap.String("detail", e.Message))
}
