// Package apperrors defines the closed error taxonomy the controller uses to
// translate internal failures into either a retry-transition (shown to the
// user, command continues) or a terminal-transition (one JSON error
// response, command ends).
package apperrors

import "fmt"

// Code is a wire-level error identifier, sent to the browser extension as
// error.code. Names follow the ERR_WEBEID_* convention the extension expects.
type Code string

const (
	CodeInvalidArgument        Code = "ERR_WEBEID_NATIVE_INVALID_ARGUMENT"
	CodeProgrammingError       Code = "ERR_WEBEID_NATIVE_PROGRAMMING_ERROR"
	CodeNoSmartCardReaders     Code = "ERR_WEBEID_NO_SMART_CARD_READERS"
	CodeNoSmartCardReaderFound Code = "ERR_WEBEID_NO_SUITABLE_CARD_FOUND" // no candidate card for purpose
	CodeUnknownCard            Code = "ERR_WEBEID_UNKNOWN_CARD"
	CodeCardRemoved            Code = "ERR_WEBEID_CARD_REMOVED"
	CodePinVerifyDisabled      Code = "ERR_WEBEID_PIN_VERIFY_DISABLED"
	CodeWrongPin               Code = "ERR_WEBEID_PIN_WRONG"
	CodePinTimeout             Code = "ERR_WEBEID_PIN_TIMEOUT"
	CodePinBlocked             Code = "ERR_WEBEID_PIN_BLOCKED"
	CodeUserCancelled          Code = "ERR_WEBEID_USER_CANCELLED"
	CodeTimeout                Code = "ERR_WEBEID_TIMEOUT"
	CodeCardCommunicationError Code = "ERR_WEBEID_NATIVE_FATAL"
	CodeServiceUnavailable     Code = "ERR_WEBEID_SMART_CARD_SERVICE_UNAVAILABLE"
)

// FramingError means the wire format was violated badly enough that no
// well-formed response can be attributed to a request. The process exits 2
// after attempting a best-effort error frame.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string { return fmt.Sprintf("framing error: %v", e.Err) }
func (e *FramingError) Unwrap() error { return e.Err }

// CommandHandlerInputDataError is raised by a command handler when an
// argument fails semantic validation (length, URL scheme, hash length, ...).
// The command parser also returns it for structural failures (unrecognized
// command, arguments not an object, missing or non-string argument).
type CommandHandlerInputDataError struct {
	Field   string
	Message string
}

func (e *CommandHandlerInputDataError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *CommandHandlerInputDataError) Code() Code { return CodeInvalidArgument }

// ProgrammingError marks an internal invariant violation, e.g. a missing
// algorithm mapping or an attempt to start a second worker. It is logged and
// surfaced to the caller as a generic failure.
type ProgrammingError struct {
	Message string
}

func (e *ProgrammingError) Error() string { return "programming error: " + e.Message }
func (e *ProgrammingError) Code() Code    { return CodeProgrammingError }

// RetriableReason enumerates the closed set of user-recoverable conditions.
type RetriableReason string

const (
	ReasonNoReader          RetriableReason = "no_reader"
	ReasonNoCard            RetriableReason = "no_card"
	ReasonUnknownCard       RetriableReason = "unknown_card"
	ReasonCardRemoved       RetriableReason = "card_removed"
	ReasonPinVerifyDisabled RetriableReason = "pin_verify_disabled"
	ReasonWrongPin          RetriableReason = "wrong_pin"
	ReasonPinTimeout        RetriableReason = "pin_timeout"
)

// RetriableError is recoverable without re-invoking the extension: the UI
// may show it and offer a retry affordance.
type RetriableError struct {
	Reason      RetriableReason
	RetriesLeft int // meaningful only for ReasonWrongPin
	Err         error
}

func (e *RetriableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *RetriableError) Unwrap() error { return e.Err }

func (e *RetriableError) Code() Code {
	switch e.Reason {
	case ReasonNoReader:
		return CodeNoSmartCardReaders
	case ReasonNoCard:
		return CodeNoSmartCardReaderFound
	case ReasonUnknownCard:
		return CodeUnknownCard
	case ReasonCardRemoved:
		return CodeCardRemoved
	case ReasonPinVerifyDisabled:
		return CodePinVerifyDisabled
	case ReasonWrongPin:
		return CodeWrongPin
	case ReasonPinTimeout:
		return CodePinTimeout
	default:
		return CodeProgrammingError
	}
}

// TerminalReason enumerates the closed set of unrecoverable conditions.
type TerminalReason string

const (
	ReasonPinBlocked               TerminalReason = "pin_blocked"
	ReasonUserCancelled            TerminalReason = "user_cancelled"
	ReasonTimeout                  TerminalReason = "timeout"
	ReasonCardCommunicationFailure TerminalReason = "card_communication_failure"
	ReasonServiceUnavailable       TerminalReason = "smart_card_service_unavailable"
)

// TerminalError ends the command: exactly one JSON error response is
// written and the controller leaves the command in FailingTerminal; only a
// quit command, end of input, or a framing error ends the process.
type TerminalError struct {
	Reason TerminalReason
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *TerminalError) Unwrap() error { return e.Err }

func (e *TerminalError) Code() Code {
	switch e.Reason {
	case ReasonPinBlocked:
		return CodePinBlocked
	case ReasonUserCancelled:
		return CodeUserCancelled
	case ReasonTimeout:
		return CodeTimeout
	case ReasonCardCommunicationFailure:
		return CodeCardCommunicationError
	case ReasonServiceUnavailable:
		return CodeServiceUnavailable
	default:
		return CodeProgrammingError
	}
}

// PromoteWrongPin converts an exhausted WrongPin retriable into the
// terminal PinBlocked error: no retries remain, so no further PIN dialog
// may be shown.
func PromoteWrongPin(e *RetriableError) *TerminalError {
	return &TerminalError{Reason: ReasonPinBlocked, Err: e.Err}
}
