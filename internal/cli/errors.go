package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/chat"
)

// Exit codes.
const (
	ExitCodeFailure     = 1
	ExitCodeUsage       = 2
	ExitCodeConfig      = 3
	ExitCodeUnavailable = 4
	ExitCodeRejected    = 5
)

// ExitError carries the process exit code for an error. Printed is set
// when the message was already written.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exitf formats an ExitError.
func Exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

func usageError(cmd *cobra.Command, msg string) error {
	return &ExitError{Code: ExitCodeUsage, Err: fmt.Errorf("%s (see `%s --help`)", msg, cmd.CommandPath())}
}

// operationError maps a sync failure to an exit code.
func operationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	code := ExitCodeFailure
	switch {
	case chat.IsValidation(err):
		code = ExitCodeUsage
	case chat.IsRemote(err):
		code = ExitCodeRejected
	case errors.Is(err, chat.ErrChannelUnavailable),
		errors.Is(err, chat.ErrOperationTimedOut),
		errors.Is(err, context.DeadlineExceeded):
		code = ExitCodeUnavailable
	}
	return &ExitError{Code: code, Err: fmt.Errorf("%s: %w", op, err)}
}
