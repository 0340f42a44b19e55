package copilot

import (
	"errors"
	"strconv"

	"github.com/dmora/copilot/internal/jsonrpc"
)

// Sentinel errors for client and session operations.
var (
	// ErrUnavailable indicates the CLI cannot be started
	// (binary not found, not executable).
	ErrUnavailable = errors.New("copilot: cli unavailable")

	// ErrNotConnected indicates an operation was attempted on a client that
	// is not connected and has auto-start disabled.
	ErrNotConnected = errors.New("copilot: client not connected")

	// ErrConnectionClosed indicates the connection to the CLI server ended
	// while a request was in flight.
	ErrConnectionClosed = errors.New("copilot: connection closed")

	// ErrProtocolVersion indicates the server speaks a different protocol
	// version than this SDK.
	ErrProtocolVersion = errors.New("copilot: protocol version mismatch")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("copilot: session not found")

	// ErrSessionDestroyed indicates the session handle was already destroyed.
	ErrSessionDestroyed = errors.New("copilot: session destroyed")

	// ErrSessionError indicates the agent reported a session.error event
	// while SendAndWait was waiting for the turn to finish.
	ErrSessionError = errors.New("copilot: session error")

	// ErrMalformedRecord indicates a wire record could not be decoded into
	// its typed form (unknown discriminator, missing or ill-typed field).
	ErrMalformedRecord = errors.New("copilot: malformed record")
)

// ValidationError describes a malformed wire record. It matches
// ErrMalformedRecord under errors.Is.
type ValidationError struct {
	// Record names the record kind, e.g. "attachment".
	Record string

	// Field is the offending field in wire (camelCase) form, or "" when the
	// record as a whole is rejected.
	Field string

	// Reason is a short human-readable description.
	Reason string
}

func (e *ValidationError) Error() string {
	msg := "copilot: malformed " + e.Record
	if e.Field != "" {
		msg += " field " + strconv.Quote(e.Field)
	}
	return msg + ": " + e.Reason
}

// Is reports whether target is ErrMalformedRecord.
func (e *ValidationError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// RPCError is an error response returned by the CLI server.
type RPCError = jsonrpc.Error

// ExitError represents a CLI process that exited with a non-zero status.
// Wraps the underlying error so callers can errors.As to *exec.ExitError.
//
// Code semantics: positive = exit status, negative (-1) = signal-killed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "copilot: cli exit status " + strconv.Itoa(e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing *ExitError.
// Returns (0, false) if the error does not contain an ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
