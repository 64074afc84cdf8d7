package simplesocket

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorType categorizes a SocketError.
type ErrorType int

const (
	ErrorConnection ErrorType = iota
	ErrorTimeout
	ErrorAuthentication
	ErrorAuthorization
	ErrorValidation
	ErrorServer
	ErrorNetwork
	ErrorUnknown
)

// String returns the string representation of an ErrorType.
func (t ErrorType) String() string {
	switch t {
	case ErrorConnection:
		return "connection"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuthentication:
		return "authentication"
	case ErrorAuthorization:
		return "authorization"
	case ErrorValidation:
		return "validation"
	case ErrorServer:
		return "server"
	case ErrorNetwork:
		return "network"
	case ErrorUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("unknown_type_%d", t)
	}
}

// ParseErrorType converts a server error code string to ErrorType.
// Codes outside the taxonomy map to ErrorServer, since they originate
// from the server.
func ParseErrorType(code string) ErrorType {
	switch code {
	case "connection":
		return ErrorConnection
	case "timeout":
		return ErrorTimeout
	case "authentication":
		return ErrorAuthentication
	case "authorization":
		return ErrorAuthorization
	case "validation":
		return ErrorValidation
	case "network":
		return ErrorNetwork
	case "unknown":
		return ErrorUnknown
	default:
		return ErrorServer
	}
}

// SocketError is a structured error with a generated id and creation time.
type SocketError struct {
	ID        string
	Type      ErrorType
	Message   string
	Code      string
	Details   any
	Timestamp time.Time
	Wrapped   error
}

// Error implements the error interface.
func (e *SocketError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Type, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *SocketError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison by type.
func (e *SocketError) Is(target error) bool {
	t, ok := target.(*SocketError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewError creates a SocketError with the given type and message.
func NewError(t ErrorType, message string) *SocketError {
	return &SocketError{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with a SocketError.
func WrapError(t ErrorType, message string, err error) *SocketError {
	e := NewError(t, message)
	e.Wrapped = err
	return e
}

// FromWireError converts a server-pushed error to a SocketError.
func FromWireError(we *WireError) *SocketError {
	if we == nil {
		return nil
	}
	e := NewError(ParseErrorType(we.Code), we.Msg)
	e.Code = we.Code
	return e
}

// classifyConnectError buckets a raw connect failure by substring match,
// in priority order timeout, authentication, authorization, else
// connection. Best-effort: an unrelated message containing one of the
// substrings is misclassified.
func classifyConnectError(err error) ErrorType {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTimeout
	case strings.Contains(msg, "authentication"):
		return ErrorAuthentication
	case strings.Contains(msg, "authorization"):
		return ErrorAuthorization
	default:
		return ErrorConnection
	}
}
