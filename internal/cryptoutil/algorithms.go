// Package cryptoutil builds the authentication digest, maps card signature
// algorithm capabilities to JWS algorithm names, and assembles the
// AuthenticationToken / SignatureResult wire payloads. It never talks to a
// card directly - it operates purely on digests and algorithm descriptors
// supplied by the card facade.
package cryptoutil

import (
	"crypto"
	"fmt"
)

// CryptoAlgorithm identifies the public-key algorithm family.
type CryptoAlgorithm string

const (
	CryptoRSA   CryptoAlgorithm = "RSA"
	CryptoECDSA CryptoAlgorithm = "ECDSA"
)

// PaddingScheme identifies the signature padding/format.
type PaddingScheme string

const (
	PaddingPKCS1v15 PaddingScheme = "PKCS1v15"
	PaddingPSS      PaddingScheme = "PSS"
	PaddingNone     PaddingScheme = "None" // ECDSA has no padding scheme
)

// HashFunction identifies the digest algorithm by its wire name
// (SHA-256/384/512).
type HashFunction string

const (
	SHA256 HashFunction = "SHA-256"
	SHA384 HashFunction = "SHA-384"
	SHA512 HashFunction = "SHA-512"
)

// HashLengths gives the expected byte length of a declared hash function.
var HashLengths = map[HashFunction]int{
	SHA256: 32,
	SHA384: 48,
	SHA512: 64,
}

// GoHash maps a wire HashFunction to the standard library hash identifier.
var GoHash = map[HashFunction]crypto.Hash{
	SHA256: crypto.SHA256,
	SHA384: crypto.SHA384,
	SHA512: crypto.SHA512,
}

// SignatureAlgorithm describes one signing capability the card offers,
// exactly as returned in get-signing-certificate's
// supportedSignatureAlgorithms list and sign's signatureAlgorithm field.
type SignatureAlgorithm struct {
	Crypto  CryptoAlgorithm `json:"crypto"`
	Padding PaddingScheme   `json:"padding"`
	Hash    HashFunction    `json:"hash"`
}

// JWSName returns the JWS algorithm name (RS256, PS256, ES256/384/512) for
// this descriptor, or an error if the combination is not one of the
// recognized auth-signature algorithms.
func (a SignatureAlgorithm) JWSName() (string, error) {
	switch {
	case a.Crypto == CryptoRSA && a.Padding == PaddingPKCS1v15 && a.Hash == SHA256:
		return "RS256", nil
	case a.Crypto == CryptoRSA && a.Padding == PaddingPSS && a.Hash == SHA256:
		return "PS256", nil
	case a.Crypto == CryptoECDSA && a.Hash == SHA256:
		return "ES256", nil
	case a.Crypto == CryptoECDSA && a.Hash == SHA384:
		return "ES384", nil
	case a.Crypto == CryptoECDSA && a.Hash == SHA512:
		return "ES512", nil
	default:
		return "", fmt.Errorf("no JWS algorithm mapping for %+v", a)
	}
}

// AuthDigestHashFunction returns the hash function used to build the
// authenticate pre-image for a given auth signature algorithm:
// RS256/PS256/ES256 -> SHA-256, ES384 -> SHA-384, ES512 -> SHA-512.
func AuthDigestHashFunction(a SignatureAlgorithm) (HashFunction, error) {
	jws, err := a.JWSName()
	if err != nil {
		return "", err
	}
	switch jws {
	case "RS256", "PS256", "ES256":
		return SHA256, nil
	case "ES384":
		return SHA384, nil
	case "ES512":
		return SHA512, nil
	default:
		return "", fmt.Errorf("no digest hash mapping for JWS algorithm %s", jws)
	}
}
