package reql

import "fmt"

// ErrorType classifies a RuntimeError as reported by the server, matching
// the error_type enum in the query response protocol.
type ErrorType int

// These match the wire values in the real protocol's error_type enum, not
// a compact 0..7 range: NON_EXISTENCE and QUERY_LOGIC are related but
// distinct codes, as are the two OP_* variants.
const (
	ErrorTypeInternal        ErrorType = 1000000
	ErrorTypeResourceLimit   ErrorType = 2000000
	ErrorTypeQueryLogic      ErrorType = 3000000
	ErrorTypeNonExistence    ErrorType = 3100000
	ErrorTypeOpFailed        ErrorType = 4100000
	ErrorTypeOpIndeterminate ErrorType = 4200000
	ErrorTypeUser            ErrorType = 5000000
	ErrorTypePermissionError ErrorType = 6000000
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInternal:
		return "INTERNAL"
	case ErrorTypeResourceLimit:
		return "RESOURCE_LIMIT"
	case ErrorTypeQueryLogic:
		return "QUERY_LOGIC"
	case ErrorTypeNonExistence:
		return "NON_EXISTENCE"
	case ErrorTypeOpFailed:
		return "OP_FAILED"
	case ErrorTypeOpIndeterminate:
		return "OP_INDETERMINATE"
	case ErrorTypeUser:
		return "USER"
	case ErrorTypePermissionError:
		return "PERMISSION_ERROR"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// Error is the root of every error the server attaches a message and
// optional backtrace to: client errors, compile errors, and runtime errors.
// Driver-local failures (handshake, transport, cursor misuse) use the
// driver-side types below instead, none of which embeds Error.
type Error struct {
	Message   string
	Backtrace []any
}

func (e *Error) Error() string {
	return e.Message
}

// ClientError is returned when the server rejects a query before ever
// attempting to compile or run it — most commonly a malformed protocol
// frame or an unsupported query type.
type ClientError struct {
	Error
}

// CompileError is returned when a query fails to compile: a malformed term
// tree, a bad argument count, or similar.
type CompileError struct {
	Error
}

// RuntimeError is returned when a query compiled but failed during
// execution. Type further classifies the failure per ErrorType.
type RuntimeError struct {
	Error
	Type ErrorType
}

// DriverError reports a failure local to the driver rather than one
// reported by the server: dialing, the TLS upgrade, building a query term,
// or resolving and decoding a row. Handshake failures, framing violations,
// cursor misuse and a dead connection have their own types (AuthError,
// ProtocolError, CursorError, ConnectionClosedError).
type DriverError struct {
	Message string
	Cause   error
}

func (e *DriverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reql: %s: %v", e.Message, e.Cause)
	}
	return "reql: " + e.Message
}

func (e *DriverError) Unwrap() error {
	return e.Cause
}

// AuthError is a DriverError raised during the handshake: a protocol
// violation, an unsupported SCRAM mechanism, a malformed attribute list, or
// a server signature mismatch.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reql: authentication failed: %s: %v", e.Message, e.Cause)
	}
	return "reql: authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// CursorError reports misuse of a Cursor (ToList on a feed). It is also the
// type of ErrCursorEnd, which Next returns after the last row or after Close.
type CursorError struct {
	Message string
}

func (e *CursorError) Error() string {
	return "reql: " + e.Message
}

// ConnectionClosedError is returned to every outstanding waiter when a
// connection's socket dies, and to any new call made after Close.
type ConnectionClosedError struct {
	Cause error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reql: connection closed: %v", e.Cause)
	}
	return "reql: connection closed"
}

func (e *ConnectionClosedError) Unwrap() error {
	return e.Cause
}

// TimeoutError is returned when a deadline passed to Connection.Run or
// Cursor.Next expires before the server answers.
type TimeoutError struct{}

func (e *TimeoutError) Error() string {
	return "reql: deadline exceeded"
}

// PoolError wraps failures of a Pool: every member connection was
// quarantined when a query was dispatched, or NewPool could not establish
// one of its initial connections.
type PoolError struct {
	Message string
	Cause   error
}

func (e *PoolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reql: pool: %s: %v", e.Message, e.Cause)
	}
	return "reql: pool: " + e.Message
}

func (e *PoolError) Unwrap() error {
	return e.Cause
}
