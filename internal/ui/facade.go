// Package ui defines the main-thread-only UI facade the controller drives
// for card chooser prompts, user confirmation, PIN entry, and error
// display.
package ui

import (
	"context"

	"github.com/webeid-native/webeid-app/internal/pin"
)

// Action describes what the user is being asked to confirm.
type Action int

const (
	ActionAuthenticate Action = iota
	ActionSign
)

// ConfirmRequest carries everything the ConfirmingWithUser state needs to
// render a confirmation dialog: the requesting origin, the candidate
// certificate's subject, and (on a retry round-trip) the error from the
// previous attempt.
type ConfirmRequest struct {
	Action         Action
	Origin         string
	CertSubject    string
	Lang           string
	NeedsPin       bool // false for certificate-only commands and pad readers
	PinRetriesLeft int
	PreviousError  string // empty unless this is a retry after a retriable error
}

// ConfirmOutcome is what the user decided. Confirmed is false on explicit
// cancellation; PinBuf is nil when the reader is a PIN pad (the facade
// never materializes a pad-entered PIN in process memory).
type ConfirmOutcome struct {
	Confirmed bool
	PinBuf    *pin.Buffer
}

// CardChoice is one candidate card presented to the user when more than
// one inserted card matches the command's purpose.
type CardChoice struct {
	ReaderName string
	Subject    string
}

// Facade is the contract the controller drives on the main thread. Every
// method blocks until the user responds or ctx is cancelled; cancellation
// surfaces as ctx.Err() and the controller treats it as user_cancelled.
type Facade interface {
	// Confirm shows the confirmation dialog (with PIN entry for
	// non-pad-reader flows) and blocks for the user's response.
	Confirm(ctx context.Context, req ConfirmRequest) (ConfirmOutcome, error)

	// ChooseCard presents a chooser among multiple candidate cards.
	ChooseCard(ctx context.Context, choices []CardChoice) (int, error)

	// ShowError renders a retriable error inline (used when
	// ConfirmingWithUser is re-entered after verify_pin_failed or a
	// retriable facade error).
	ShowError(ctx context.Context, message string) error

	// Close releases any resources the concrete backend holds (terminal
	// raw mode, window handles, ...).
	Close() error
}
