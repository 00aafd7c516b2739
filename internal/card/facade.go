// Package card defines the card subsystem facade contract: the
// boundary between the controller and the concrete PC/SC + PKCS#11
// bindings. All methods are blocking; cancellation is cooperative via the
// ctx passed to each call. The pcsc binding checks it between status polls;
// the pkcs11cert binding checks it only on entry to ReadCertificates and
// Sign, so a call already inside the PKCS#11 module runs to completion.
package card

import (
	"context"

	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
)

// Purpose distinguishes which key/certificate a caller needs.
type Purpose int

const (
	PurposeAuthentication Purpose = iota
	PurposeSigning
)

// ReaderInfo describes one PC/SC reader slot.
type ReaderInfo struct {
	Name        string
	CardPresent bool
}

// CardInfo references a specific inserted card. It is treated as an
// ownership token: the controller passes it to a worker by value, and the
// card-event monitor's invalidation causes the worker to abort at its next
// suspension point rather than through a shared mutable reference.
type CardInfo struct {
	ReaderName string
	ATR        []byte

	// generation is a per-reader counter the facade bumps each time it
	// describes a card in this reader slot, so a repeat description of the
	// same physical card also gets a new value; a worker holding a stale
	// generation must treat its CardInfo as invalidated.
	generation uint64
}

// NewCardInfo constructs a CardInfo. Only facade implementations should
// call this; handlers and the controller treat CardInfo as opaque.
func NewCardInfo(readerName string, atr []byte, generation uint64) CardInfo {
	return CardInfo{ReaderName: readerName, ATR: atr, generation: generation}
}

// SameCard reports whether other comes from the same facade description of
// a card as c (same reader, same generation).
func (c CardInfo) SameCard(other CardInfo) bool {
	return c.ReaderName == other.ReaderName && c.generation == other.generation
}

// CardCertificateAndPin is built while reading a certificate for a given
// purpose; it never holds PIN bytes outside of the PIN-entry step.
type CardCertificateAndPin struct {
	Card           CardInfo
	CertificateDER []byte
	Subject        string
	SupportedAlgos []cryptoutil.SignatureAlgorithm
	PinRetriesLeft int
	PinMinLength   int
	PinMaxLength   int
	IsPinPadReader bool
}

// Facade is the contract the controller drives. Concrete implementations
// live in the pcsc (reader/card lifecycle) and pkcs11cert (certificate +
// signing) sub-packages, composed together; see card/composite.go.
type Facade interface {
	// ListReaders enumerates currently known PC/SC readers.
	ListReaders(ctx context.Context) ([]ReaderInfo, error)

	// WaitForCard blocks until a card is inserted in any reader or ctx is
	// cancelled/times out.
	WaitForCard(ctx context.Context) (CardInfo, error)

	// CandidateCards returns one CardInfo per reader that currently has a
	// card present, for the "Common: certificate reader" multi-card
	// chooser: when more than one is returned, the controller
	// reads each candidate's certificate and lets the UI choose among
	// them rather than committing to whichever WaitForCard happened to
	// return first.
	CandidateCards(ctx context.Context) ([]CardInfo, error)

	// ReadCertificates reads the certificate (and associated PIN policy)
	// for the given purpose from the given card.
	ReadCertificates(ctx context.Context, card CardInfo, purpose Purpose) (CardCertificateAndPin, error)

	// SignWithAuthKey signs digest with the card's authentication key, PIN
	// permitting. The pinBuf is moved (not copied) into the call.
	SignWithAuthKey(ctx context.Context, card CardInfo, pinBuf *pin.Buffer, digest []byte) ([]byte, error)

	// SignWithSigningKey signs digest with the card's signing key.
	SignWithSigningKey(ctx context.Context, card CardInfo, pinBuf *pin.Buffer, digest []byte) ([]byte, error)

	// MonitorEvents streams reader/card changes until ctx is cancelled.
	MonitorEvents(ctx context.Context) (<-chan ReaderChange, error)
}

// ReaderChangeKind enumerates the kinds of events MonitorEvents emits.
type ReaderChangeKind int

const (
	CardInserted ReaderChangeKind = iota
	CardRemoved
	ReaderSetChanged
)

// ReaderChange is one card-event-monitor notification.
type ReaderChange struct {
	Kind       ReaderChangeKind
	ReaderName string
	Card       CardInfo
}
