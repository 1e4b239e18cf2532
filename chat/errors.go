package chat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sentinel errors for chat operations.
var (
	// ErrCommunicationLost indicates end-of-stream or an I/O failure on
	// either stream. It is fatal.
	ErrCommunicationLost = errors.New("lost connection to child")

	// ErrProtocolMismatch indicates the child sent a byte other than the one
	// the dialogue required. It is fatal.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrSessionDead is returned by every call on a session that has
	// already failed fatally.
	ErrSessionDead = errors.New("chat session is dead")

	// ErrSessionClosed is returned by calls on a closed session.
	ErrSessionClosed = errors.New("chat session is closed")
)

// ExitCommunication is the process exit status for fatal chat errors.
// It matches ECOMM on Linux.
const ExitCommunication = 70

// Error wraps chat errors with the operation that failed.
//
// Errors produced by a Session are not recoverable: once one is returned the
// session is dead, and the caller is expected to end the process (see Fatal).
type Error struct {
	Op  string // Operation that failed ("read", "write", "expect", ...)
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// MismatchError reports a byte that differs from the expected one.
type MismatchError struct {
	Expected byte
	Found    byte
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("[child] expected 0x%02x %c, found 0x%02x %c",
		e.Expected, printable(e.Expected), e.Found, printable(e.Found))
}

// Is reports MismatchError as ErrProtocolMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrProtocolMismatch
}

// lostError builds the fatal error for a failed read, write or flush.
func lostError(op string, cause error) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrCommunicationLost, cause)}
}

// printable returns b if it is a printable ASCII byte and '.' otherwise.
func printable(b byte) byte {
	if b >= 0x20 && b < 0x7f {
		return b
	}
	return '.'
}

// IsFatal reports whether err is a communication loss or a protocol mismatch.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCommunicationLost) || errors.Is(err, ErrProtocolMismatch)
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsFatal(err):
		return ExitCommunication
	default:
		return 1
	}
}

// exit and stderr are replaced in tests.
var (
	exit   = os.Exit
	stderr = io.Writer(os.Stderr)
)

// Fatal writes a single diagnostic line for err to stderr and terminates the
// process with ExitCode(err). Callers that receive a fatal error from a
// Session should end here rather than attempt to continue the dialogue.
func Fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s: %v\n", progName(), err)
	exit(ExitCode(err))
}

func progName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "chat"
}
