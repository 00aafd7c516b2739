package controller

import (
	"context"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/pin"
	"github.com/webeid-native/webeid-app/internal/protocol"
)

// Handler is the capability set each command implements: a tagged variant
// over the fixed command set rather than a class hierarchy. The controller
// owns the state machine; a Handler only supplies the command-specific
// pieces slotted into it.
type Handler interface {
	// Purpose selects which certificate (auth vs sign) this command needs.
	Purpose() card.Purpose

	// RequiresPin reports whether RunningHandler needs a PIN buffer.
	// GetSigningCertificate is the one command that does not.
	RequiresPin() bool

	// Validate performs semantic argument validation (length, URL scheme,
	// digest length) - anything beyond the parser's structural checks.
	// Failures are CommandHandlerInputDataError.
	Validate(cmd protocol.Command) error

	// Run executes the handler's cryptographic operation against the
	// already-read certificate (and, if RequiresPin, an already-collected
	// PIN buffer which Run hands to the facade's sign call, where it is
	// consumed and zeroized). It returns the command's success payload.
	Run(ctx context.Context, deps HandlerDeps, cmd protocol.Command, cert card.CardCertificateAndPin, pinBuf *pin.Buffer) (any, error)
}

// HandlerDeps is the subset of controller state a Handler needs, passed
// explicitly rather than via an embedded Controller reference so Handler
// implementations stay unit-testable without a full controller.
type HandlerDeps struct {
	Facade     card.Facade
	AppVersion string
}

func handlerFor(name protocol.Name) (Handler, bool) {
	switch name {
	case protocol.CommandAuthenticate:
		return &authenticateHandler{}, true
	case protocol.CommandGetSigningCertificate:
		return &getSigningCertificateHandler{}, true
	case protocol.CommandSign:
		return &signHandler{}, true
	default:
		return nil, false
	}
}

func invalidArgument(field, message string) error {
	return &apperrors.CommandHandlerInputDataError{Field: field, Message: message}
}
