package cli

import (
	"errors"
	"fmt"

	"github.com/petal-labs/monkeyml/session"
)

// Process exit codes.
const (
	exitSuccess      = 0
	exitParse        = 1
	exitFault        = 2
	exitFileNotFound = 3
	exitUsage        = 4
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// evalExitError maps an evaluation error to its exit code: faults exit 2,
// everything else is a parse error.
func evalExitError(path string, err error) *ExitError {
	if errors.Is(err, session.ErrFault) {
		return exitError(exitFault, "%s: %v", path, err)
	}
	return exitError(exitParse, "%s: %v", path, err)
}
