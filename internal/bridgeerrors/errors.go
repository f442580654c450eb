// Package bridgeerrors provides standardized error codes for the sync bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: the subsystem that generated the error (protocol, capacity,
//     heartbeat, host, connection)
//   - error: the specific error type within that domain
//
// Codes are stable identifiers a remote client can rely on for programmatic
// handling; the accompanying message is for humans only.
package bridgeerrors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Protocol domain - message codec errors (spec.md §7 "Protocol").
	CodeProtocolInvalidMessage = "protocol.invalid_message" // malformed frame / missing required field
	CodeProtocolUnknownType    = "protocol.unknown_type"    // type is not in the closed enum

	// Capacity domain - connection admission (spec.md §7 "Capacity").
	CodeCapacityExceeded    = "capacity.exceeded"     // server at maxConnections
	CodeCapacityRateLimited = "capacity.rate_limited" // per-connection inbound limiter tripped

	// Heartbeat domain - ping/pong liveness (spec.md §7 "Heartbeat").
	CodeHeartbeatTimeout = "heartbeat.timeout" // no pong within the grace window

	// Host domain - host-task operation failures (spec.md §7 "Host operation").
	CodeHostOperationFailed = "host.operation_failed" // createTask / answer / trigger / cancel threw
	CodeHostNoCurrentTask   = "host.no_current_task"  // ask-response with no pending task

	// Connection domain - send path (spec.md §7 "Send failure").
	CodeConnectionSendFailed = "connection.send_failed" // socket closed mid-write
	CodeConnectionNotFound   = "connection.not_found"   // sendMessage target unknown

	// Startup domain - fatal to Service.Start.
	CodeStartupPortUnavailable = "startup.port_unavailable"
	CodeStartupNoPrimaryIP     = "startup.no_primary_ip"
	CodeStartupAlreadyRunning  = "startup.already_running"
)

// CodedError wraps an error with a stable error code and a human message.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Wrap creates a CodedError wrapping an existing cause.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// ToCodeAndMessage extracts a (code, message) pair from any error.
// Uncoded errors fall back to a generic host-operation code, since every
// caller of this helper is reporting a failed host operation or a bridge
// conversion error back to a client.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}
	return CodeHostOperationFailed, err.Error()
}
