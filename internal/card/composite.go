package card

import (
	"context"
	"errors"

	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
)

var errNoAlgorithm = errors.New("card: no signature algorithm available for this digest length")

// ReaderMonitor is the subset of pcsc.Monitor the composite facade drives.
// Defined here (rather than imported) so this package stays free of a
// direct dependency on github.com/ebfe/scard.
type ReaderMonitor interface {
	ListReaders(ctx context.Context) ([]ReaderInfo, error)
	WaitForCard(ctx context.Context) (CardInfo, error)
	CandidateCards(ctx context.Context) ([]CardInfo, error)
	MonitorEvents(ctx context.Context) (<-chan ReaderChange, error)
}

// CertSigner is the subset of pkcs11cert.Client the composite facade
// drives. Kept as an interface for the same reason as ReaderMonitor, and so
// cardmock can satisfy Facade without linking PKCS#11 or PC/SC at all.
type CertSigner interface {
	ReadCertificates(ctx context.Context, card CardInfo, purpose Purpose) (CardCertificateAndPin, error)
	Sign(ctx context.Context, card CardInfo, purpose Purpose, pinBuf *pin.Buffer, digest []byte, alg cryptoutil.SignatureAlgorithm) ([]byte, error)
}

// composite joins a ReaderMonitor (reader/card lifecycle via PC/SC) and a
// CertSigner (certificate read + PIN-gated signing via PKCS#11) into one
// Facade. The two halves are independent subsystems against the same
// physical token; composing them here keeps the controller's dependency
// surface down to the single Facade interface.
type composite struct {
	readers ReaderMonitor
	signer  CertSigner
}

// NewFacade composes a ReaderMonitor and a CertSigner into a Facade.
func NewFacade(readers ReaderMonitor, signer CertSigner) Facade {
	return &composite{readers: readers, signer: signer}
}

func (c *composite) ListReaders(ctx context.Context) ([]ReaderInfo, error) {
	return c.readers.ListReaders(ctx)
}

func (c *composite) WaitForCard(ctx context.Context) (CardInfo, error) {
	return c.readers.WaitForCard(ctx)
}

func (c *composite) CandidateCards(ctx context.Context) ([]CardInfo, error) {
	return c.readers.CandidateCards(ctx)
}

func (c *composite) MonitorEvents(ctx context.Context) (<-chan ReaderChange, error) {
	return c.readers.MonitorEvents(ctx)
}

func (c *composite) ReadCertificates(ctx context.Context, card CardInfo, purpose Purpose) (CardCertificateAndPin, error) {
	return c.signer.ReadCertificates(ctx, card, purpose)
}

func (c *composite) SignWithAuthKey(ctx context.Context, card CardInfo, pinBuf *pin.Buffer, digest []byte) ([]byte, error) {
	return c.signWithPurposeAlgo(ctx, card, PurposeAuthentication, pinBuf, digest)
}

func (c *composite) SignWithSigningKey(ctx context.Context, card CardInfo, pinBuf *pin.Buffer, digest []byte) ([]byte, error) {
	return c.signWithPurposeAlgo(ctx, card, PurposeSigning, pinBuf, digest)
}

// signWithPurposeAlgo re-reads the certificate to recover the card's
// signature algorithm descriptor for this purpose, then signs. This costs
// one extra round-trip per sign call but keeps Facade's SignWith* methods
// free of an algorithm parameter the controller would otherwise have to
// thread through from an earlier ReadCertificates call.
func (c *composite) signWithPurposeAlgo(ctx context.Context, card CardInfo, purpose Purpose, pinBuf *pin.Buffer, digest []byte) ([]byte, error) {
	certInfo, err := c.signer.ReadCertificates(ctx, card, purpose)
	if err != nil {
		pinBuf.Zeroize()
		return nil, err
	}
	alg, err := algorithmForDigestLength(certInfo.SupportedAlgos, len(digest))
	if err != nil {
		pinBuf.Zeroize()
		return nil, err
	}
	return c.signer.Sign(ctx, card, purpose, pinBuf, digest, alg)
}

func algorithmForDigestLength(algos []cryptoutil.SignatureAlgorithm, digestLen int) (cryptoutil.SignatureAlgorithm, error) {
	for _, a := range algos {
		if cryptoutil.HashLengths[a.Hash] == digestLen {
			return a, nil
		}
	}
	if len(algos) > 0 {
		return algos[0], nil
	}
	return cryptoutil.SignatureAlgorithm{}, errNoAlgorithm
}
