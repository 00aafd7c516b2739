// Package pkcs11cert reads eID certificates and performs PIN-gated signing
// through a PKCS#11 middleware module, using CKA_CLASS/CKA_LABEL/CKA_VALUE
// attribute templates over the FindObjectsInit/FindObjects/FindObjectsFinal
// enumeration sequence.
package pkcs11cert

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/miekg/pkcs11"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
)

// certificateLabel distinguishes the authentication certificate from the
// signing (non-repudiation) certificate by PKCS#11 object label convention,
// matching the two-certificate layout common to national eID middlewares.
type certificateLabel string

const (
	labelAuthentication certificateLabel = "Authentication"
	labelSigning        certificateLabel = "Signing"
	labelSigningAlt     certificateLabel = "Non-repudiation"
)

// Client wraps one loaded PKCS#11 module. A single Client is shared across
// all slots the module exposes; it is not safe for concurrent signing calls
// against the same slot, which the controller already serializes through
// running a single active worker at a time.
type Client struct {
	modulePath string
	ctx        *pkcs11.Ctx
}

// New loads and initializes the PKCS#11 module at modulePath.
func New(modulePath string) (*Client, error) {
	p := pkcs11.New(modulePath)
	if p == nil {
		return nil, fmt.Errorf("pkcs11: failed to load module %q", modulePath)
	}
	if err := p.Initialize(); err != nil {
		return nil, fmt.Errorf("pkcs11: initialize %q: %w", modulePath, err)
	}
	return &Client{modulePath: modulePath, ctx: p}, nil
}

// Close finalizes the PKCS#11 module.
func (c *Client) Close() error {
	if c.ctx == nil {
		return nil
	}
	c.ctx.Finalize()
	c.ctx.Destroy()
	c.ctx = nil
	return nil
}

// slotForReader maps a PC/SC reader name to the PKCS#11 slot whose token
// label the middleware exposes for that reader. Most national eID modules
// expose one slot per reader in ListReaders order, which this resolves by
// matching GetSlotInfo's SlotDescription against the reader name.
func (c *Client) slotForReader(readerName string) (uint, error) {
	slots, err := c.ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("pkcs11 GetSlotList: %w", err)
	}
	if len(slots) == 0 {
		return 0, errors.New("pkcs11: no slots with a token present")
	}
	for _, slot := range slots {
		info, err := c.ctx.GetSlotInfo(slot)
		if err != nil {
			continue
		}
		if readerName == "" || containsFold(info.SlotDescription, readerName) || containsFold(readerName, info.SlotDescription) {
			return slot, nil
		}
	}
	// Fall back to the first slot with a token: single-reader systems are
	// the overwhelming common case and the reader-name match is
	// best-effort only.
	return slots[0], nil
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	h, n := []rune(haystack), []rune(needle)
	if len(n) == 0 || len(n) > len(h) {
		return len(n) == 0
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if foldRune(h[i+j]) != foldRune(n[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func foldRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// ReadCertificates reads the certificate object for the given purpose along
// with the token's PIN policy, without requiring a login (public objects
// are readable unauthenticated on every eID card family this targets).
func (c *Client) ReadCertificates(ctx context.Context, ci card.CardInfo, purpose card.Purpose) (card.CardCertificateAndPin, error) {
	if err := ctx.Err(); err != nil {
		return card.CardCertificateAndPin{}, err
	}

	slot, err := c.slotForReader(ci.ReaderName)
	if err != nil {
		return card.CardCertificateAndPin{}, &apperrors.RetriableError{Reason: apperrors.ReasonNoCard, Err: err}
	}

	session, err := c.ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return card.CardCertificateAndPin{}, &apperrors.RetriableError{Reason: apperrors.ReasonCardRemoved, Err: err}
	}
	defer c.ctx.CloseSession(session)

	tokenInfo, err := c.ctx.GetTokenInfo(slot)
	if err != nil {
		return card.CardCertificateAndPin{}, fmt.Errorf("pkcs11 GetTokenInfo: %w", err)
	}

	der, err := c.findCertificate(session, purpose)
	if err != nil {
		return card.CardCertificateAndPin{}, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return card.CardCertificateAndPin{}, fmt.Errorf("parse certificate: %w", err)
	}

	algos, err := supportedAlgorithms(cert, purpose)
	if err != nil {
		return card.CardCertificateAndPin{}, err
	}

	return card.CardCertificateAndPin{
		Card:           ci,
		CertificateDER: der,
		Subject:        cert.Subject.String(),
		SupportedAlgos: algos,
		PinRetriesLeft: retriesLeftFromFlags(tokenInfo.Flags),
		PinMinLength:   int(tokenInfo.MinPinLen),
		PinMaxLength:   int(tokenInfo.MaxPinLen),
		IsPinPadReader: tokenInfo.Flags&pkcs11.CKF_PROTECTED_AUTHENTICATION_PATH != 0,
	}, nil
}

func (c *Client) findCertificate(session pkcs11.SessionHandle, purpose card.Purpose) ([]byte, error) {
	want := labelAuthentication
	if purpose == card.PurposeSigning {
		want = labelSigning
	}

	if err := c.ctx.FindObjectsInit(session, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}); err != nil {
		return nil, fmt.Errorf("FindObjectsInit: %w", err)
	}
	objs, _, err := c.ctx.FindObjects(session, 16)
	c.ctx.FindObjectsFinal(session)
	if err != nil {
		return nil, fmt.Errorf("FindObjects: %w", err)
	}
	if len(objs) == 0 {
		return nil, &apperrors.RetriableError{Reason: apperrors.ReasonUnknownCard, Err: errors.New("no certificate objects on token")}
	}

	var fallback []byte
	for _, obj := range objs {
		attrs, err := c.ctx.GetAttributeValue(session, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
		})
		if err != nil {
			continue
		}
		var der, label []byte
		for _, a := range attrs {
			switch a.Type {
			case pkcs11.CKA_VALUE:
				der = a.Value
			case pkcs11.CKA_LABEL:
				label = a.Value
			}
		}
		if len(der) == 0 {
			continue
		}
		if fallback == nil {
			fallback = der
		}
		if certificateLabel(label) == want || (want == labelSigning && certificateLabel(label) == labelSigningAlt) {
			return der, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, &apperrors.RetriableError{Reason: apperrors.ReasonUnknownCard, Err: errors.New("no matching certificate object")}
}

func retriesLeftFromFlags(flags uint) int {
	if flags&pkcs11.CKF_USER_PIN_LOCKED != 0 {
		return 0
	}
	if flags&pkcs11.CKF_USER_PIN_FINAL_TRY != 0 {
		return 1
	}
	if flags&pkcs11.CKF_USER_PIN_COUNT_LOW != 0 {
		return 2
	}
	return 3
}

func supportedAlgorithms(cert *x509.Certificate, purpose card.Purpose) ([]cryptoutil.SignatureAlgorithm, error) {
	return algorithmsForPublicKey(cert, purpose)
}
