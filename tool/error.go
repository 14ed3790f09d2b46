package tool

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool: duplicate tool name")
	// ErrInvalidDescriptor is returned for descriptors that cannot be registered.
	ErrInvalidDescriptor = errors.New("tool: invalid descriptor")
	// ErrRegistrySealed is returned when registering after discovery has finished.
	ErrRegistrySealed = errors.New("tool: registry is sealed")
	// ErrToolNotFound is returned when a lookup names an unregistered tool.
	ErrToolNotFound = errors.New("tool: not found")
	// ErrInvalidArguments wraps schema validation failures for call arguments.
	ErrInvalidArguments = errors.New("tool: invalid arguments")
)

// RegistrationError reports why a single registration was rejected.
type RegistrationError struct {
	Name string
	Err  error
}

func (e *RegistrationError) Error() string {
	if e == nil {
		return ""
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = "<empty>"
	}
	return fmt.Sprintf("tool: register %q: %v", name, e.Err)
}

// Unwrap exposes the underlying sentinel for errors.Is.
func (e *RegistrationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const (
	// CallErrorTransport is used when the collaborator endpoint is unreachable.
	CallErrorTransport = "TRANSPORT_FAILURE"
	// CallErrorTimeout is used when the invocation exceeded its deadline.
	CallErrorTimeout = "TIMEOUT"
	// CallErrorUpstream is used for non-success upstream responses.
	CallErrorUpstream = "UPSTREAM_FAILURE"
	// CallErrorInvalidRequest is used when the outbound request cannot be built.
	CallErrorInvalidRequest = "INVALID_REQUEST"
	// CallErrorFailed is the generic fallback.
	CallErrorFailed = "INVOCATION_FAILED"
)

// CallError is a structured handler failure that carries retryability.
type CallError struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return CallErrorFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newCallError(code, message string, retryable bool, cause error) *CallError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = CallErrorFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &CallError{
		Code:      cleanCode,
		Message:   cleanMsg,
		Retryable: retryable,
		Cause:     cause,
	}
}

func callErrorFrom(err error) (*CallError, bool) {
	if err == nil {
		return nil, false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr, true
	}
	return nil, false
}
