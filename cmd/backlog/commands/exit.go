package commands

import (
	"errors"
	"fmt"

	"github.com/workitems/backlog/pkg/engine"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitInvalid = 2
	exitDrift   = 3
)

// exitError carries the process exit code for a failed command. reported
// means the details were already printed and main should not log them again.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func reported(code int, err error) error {
	return &exitError{code: code, err: err, reported: true}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	switch {
	case engine.IsValidation(err):
		return exitInvalid
	case engine.IsDrift(err):
		return exitDrift
	default:
		return exitFailure
	}
}

// IsReported reports whether the command already printed err.
func IsReported(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.reported
}
