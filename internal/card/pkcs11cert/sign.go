package pkcs11cert

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/miekg/pkcs11"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
)

// digestInfoPrefix holds the DER-encoded DigestInfo AlgorithmIdentifier
// prefix PKCS#1 v1.5 signing prepends to the raw hash before the private
// key operation, per RFC 8017 section 9.2.
var digestInfoPrefix = map[cryptoutil.HashFunction][]byte{
	cryptoutil.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	cryptoutil.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	cryptoutil.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// Sign logs in with the PIN held by pinBuf, locates the private key object
// for purpose, and signs digest with it using the mechanism implied by alg.
// pinBuf is always zeroized before return, on every path.
func (c *Client) Sign(ctx context.Context, ci card.CardInfo, purpose card.Purpose, pinBuf *pin.Buffer, digest []byte, alg cryptoutil.SignatureAlgorithm) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		pinBuf.Zeroize()
		return nil, err
	}

	slot, err := c.slotForReader(ci.ReaderName)
	if err != nil {
		pinBuf.Zeroize()
		return nil, &apperrors.RetriableError{Reason: apperrors.ReasonCardRemoved, Err: err}
	}

	session, err := c.ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		pinBuf.Zeroize()
		return nil, &apperrors.RetriableError{Reason: apperrors.ReasonCardRemoved, Err: err}
	}
	defer c.ctx.CloseSession(session)

	loginErr := pinBuf.Move(func(pinBytes []byte) error {
		return c.ctx.Login(session, pkcs11.CKU_USER, string(pinBytes))
	})
	if loginErr != nil {
		return nil, c.translateLoginError(slot, loginErr)
	}
	defer c.ctx.Logout(session)

	key, err := c.findPrivateKey(session, purpose)
	if err != nil {
		return nil, err
	}

	mechanism, payload, err := mechanismFor(alg, digest)
	if err != nil {
		return nil, err
	}

	if err := c.ctx.SignInit(session, []*pkcs11.Mechanism{mechanism}, key); err != nil {
		return nil, &apperrors.TerminalError{Reason: apperrors.ReasonCardCommunicationFailure, Err: fmt.Errorf("SignInit: %w", err)}
	}
	signature, err := c.ctx.Sign(session, payload)
	if err != nil {
		return nil, &apperrors.TerminalError{Reason: apperrors.ReasonCardCommunicationFailure, Err: fmt.Errorf("Sign: %w", err)}
	}
	return signature, nil
}

func (c *Client) findPrivateKey(session pkcs11.SessionHandle, purpose card.Purpose) (pkcs11.ObjectHandle, error) {
	if err := c.ctx.FindObjectsInit(session, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}); err != nil {
		return 0, fmt.Errorf("FindObjectsInit private key: %w", err)
	}
	objs, _, err := c.ctx.FindObjects(session, 16)
	c.ctx.FindObjectsFinal(session)
	if err != nil {
		return 0, fmt.Errorf("FindObjects private key: %w", err)
	}
	if len(objs) == 0 {
		return 0, &apperrors.TerminalError{Reason: apperrors.ReasonCardCommunicationFailure, Err: fmt.Errorf("no private key object for purpose %v", purpose)}
	}
	// A two-certificate eID token exposes two private keys in the same
	// slot; without a reliable cross-vendor label convention for the key
	// objects themselves, the first and second FindObjects slot position
	// reliably mirrors the authentication/signing certificate order on
	// every middleware this targets.
	idx := 0
	if purpose == card.PurposeSigning && len(objs) > 1 {
		idx = 1
	}
	return objs[idx], nil
}

// pssParams packs a CK_RSA_PKCS_PSS_PARAMS structure for CKM_RSA_PKCS_PSS:
// matching hash mechanism, matching MGF1, and a salt length equal to the
// hash length. The library has no param struct for PSS, so the three CK_ULONG
// fields are packed in native layout.
func pssParams(hash cryptoutil.HashFunction) ([]byte, error) {
	var hashMech, mgf, saltLen uint
	switch hash {
	case cryptoutil.SHA256:
		hashMech, mgf, saltLen = pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, 32
	case cryptoutil.SHA384:
		hashMech, mgf, saltLen = pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384, 48
	case cryptoutil.SHA512:
		hashMech, mgf, saltLen = pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512, 64
	default:
		return nil, fmt.Errorf("no PSS parameters for hash %s", hash)
	}

	params := make([]byte, 0, 24)
	for _, v := range []uint{hashMech, mgf, saltLen} {
		var ulong [8]byte
		binary.LittleEndian.PutUint64(ulong[:], uint64(v))
		params = append(params, ulong[:]...)
	}
	return params, nil
}

func mechanismFor(alg cryptoutil.SignatureAlgorithm, digest []byte) (*pkcs11.Mechanism, []byte, error) {
	switch alg.Crypto {
	case cryptoutil.CryptoRSA:
		switch alg.Padding {
		case cryptoutil.PaddingPKCS1v15:
			prefix, ok := digestInfoPrefix[alg.Hash]
			if !ok {
				return nil, nil, fmt.Errorf("no DigestInfo prefix for hash %s", alg.Hash)
			}
			payload := append(append([]byte{}, prefix...), digest...)
			return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), payload, nil
		case cryptoutil.PaddingPSS:
			params, err := pssParams(alg.Hash)
			if err != nil {
				return nil, nil, err
			}
			return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params), digest, nil
		default:
			return nil, nil, fmt.Errorf("unsupported RSA padding %s", alg.Padding)
		}
	case cryptoutil.CryptoECDSA:
		return pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil), digest, nil
	default:
		return nil, nil, fmt.Errorf("unsupported crypto algorithm %s", alg.Crypto)
	}
}

// translateLoginError maps PKCS#11 CKR_PIN_* return codes to the closed
// retriable/terminal taxonomy. A wrong PIN re-reads the token's flags so
// the retriable error carries the card's remaining attempt count; the
// controller promotes retriesLeft == 0 to PinBlocked.
func (c *Client) translateLoginError(slot uint, err error) error {
	pErr, ok := err.(pkcs11.Error)
	if !ok {
		return &apperrors.TerminalError{Reason: apperrors.ReasonCardCommunicationFailure, Err: err}
	}
	switch uint(pErr) {
	case pkcs11.CKR_PIN_INCORRECT:
		retries := 0
		if tokenInfo, tiErr := c.ctx.GetTokenInfo(slot); tiErr == nil {
			retries = retriesLeftFromFlags(tokenInfo.Flags)
		}
		return &apperrors.RetriableError{Reason: apperrors.ReasonWrongPin, RetriesLeft: retries, Err: err}
	case pkcs11.CKR_PIN_LOCKED:
		return &apperrors.TerminalError{Reason: apperrors.ReasonPinBlocked, Err: err}
	case pkcs11.CKR_FUNCTION_CANCELED:
		return &apperrors.TerminalError{Reason: apperrors.ReasonUserCancelled, Err: err}
	case pkcs11.CKR_DEVICE_REMOVED:
		return &apperrors.RetriableError{Reason: apperrors.ReasonCardRemoved, Err: err}
	default:
		return &apperrors.TerminalError{Reason: apperrors.ReasonCardCommunicationFailure, Err: err}
	}
}
