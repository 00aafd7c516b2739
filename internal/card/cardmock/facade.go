// Package cardmock provides an in-memory card.Facade for controller tests,
// scripted by the test rather than driven by real hardware.
package cardmock

import (
	"context"
	"sync"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/pin"
)

// Facade is a scriptable card.Facade. Each method returns the canned result
// fields the test set; the same values are returned on every call, except
// for the one-shot SignSignErrOnce and BlockSignOnce.
type Facade struct {
	mu sync.Mutex

	Readers       []card.ReaderInfo
	ReadersErr    error
	WaitCard      card.CardInfo
	WaitCardErr   error
	Candidates    []card.CardInfo
	CandidatesErr error
	Cert          card.CardCertificateAndPin
	CertErr       error

	// CertByReader, when non-nil, overrides Cert per-reader so multi-card
	// chooser tests can give each candidate a distinct certificate.
	CertByReader map[string]card.CardCertificateAndPin

	SignAuthResult []byte
	SignAuthErr    error

	// SignAuthFn, when non-nil, computes the auth signature from the
	// digest instead of returning SignAuthResult, so tests can produce a
	// real verifiable signature with a test key.
	SignAuthFn func(digest []byte) ([]byte, error)

	SignSignResult []byte
	SignSignErr    error

	// SignSignErrOnce, when non-nil, is returned by the next
	// SignWithSigningKey call and then cleared, so tests can script a
	// retriable failure followed by a success.
	SignSignErrOnce error

	// BlockSignOnce, when true, makes the next SignWithAuthKey or
	// SignWithSigningKey call block until its ctx is cancelled and return
	// a CardRemoved retriable error instead of its scripted result -
	// simulating a card physically pulled mid-APDU. It is cleared after
	// firing once.
	BlockSignOnce bool

	Events chan card.ReaderChange

	// PinSeenLen records the length of the PIN buffer the last sign call
	// received, taken before the mock zeroizes it; it records no PIN bytes.
	PinSeenLen int
}

// New constructs a Facade with its event channel ready to receive.
func New() *Facade {
	return &Facade{Events: make(chan card.ReaderChange, 8)}
}

func (f *Facade) ListReaders(ctx context.Context) ([]card.ReaderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Readers, f.ReadersErr
}

func (f *Facade) WaitForCard(ctx context.Context) (card.CardInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.WaitCard, f.WaitCardErr
}

func (f *Facade) CandidateCards(ctx context.Context) ([]card.CardInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Candidates, f.CandidatesErr
}

func (f *Facade) ReadCertificates(ctx context.Context, c card.CardInfo, purpose card.Purpose) (card.CardCertificateAndPin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CertByReader != nil {
		if cert, ok := f.CertByReader[c.ReaderName]; ok {
			return cert, f.CertErr
		}
	}
	return f.Cert, f.CertErr
}

func (f *Facade) SignWithAuthKey(ctx context.Context, c card.CardInfo, pinBuf *pin.Buffer, digest []byte) ([]byte, error) {
	if f.consumeBlockSignOnce() {
		<-ctx.Done()
		pinBuf.Zeroize()
		return nil, &apperrors.RetriableError{Reason: apperrors.ReasonCardRemoved, Err: ctx.Err()}
	}
	f.mu.Lock()
	f.PinSeenLen = pinBuf.Len()
	result, err := f.SignAuthResult, f.SignAuthErr
	if f.SignAuthFn != nil {
		result, err = f.SignAuthFn(digest)
	}
	f.mu.Unlock()
	pinBuf.Zeroize()
	return result, err
}

func (f *Facade) SignWithSigningKey(ctx context.Context, c card.CardInfo, pinBuf *pin.Buffer, digest []byte) ([]byte, error) {
	if f.consumeBlockSignOnce() {
		<-ctx.Done()
		pinBuf.Zeroize()
		return nil, &apperrors.RetriableError{Reason: apperrors.ReasonCardRemoved, Err: ctx.Err()}
	}
	f.mu.Lock()
	f.PinSeenLen = pinBuf.Len()
	result, err := f.SignSignResult, f.SignSignErr
	if f.SignSignErrOnce != nil {
		result, err = nil, f.SignSignErrOnce
		f.SignSignErrOnce = nil
	}
	f.mu.Unlock()
	pinBuf.Zeroize()
	return result, err
}

func (f *Facade) consumeBlockSignOnce() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	block := f.BlockSignOnce
	f.BlockSignOnce = false
	return block
}

func (f *Facade) MonitorEvents(ctx context.Context) (<-chan card.ReaderChange, error) {
	return f.Events, nil
}

// Emit sends a ReaderChange on the mock's event channel, or drops it if ctx
// is already done.
func (f *Facade) Emit(ctx context.Context, change card.ReaderChange) {
	select {
	case f.Events <- change:
	case <-ctx.Done():
	}
}

var _ card.Facade = (*Facade)(nil)
