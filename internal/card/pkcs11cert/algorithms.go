package pkcs11cert

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
)

// algorithmsForPublicKey derives the signature algorithms the card's key can
// produce from the certificate's public key type: RSA keys
// support both PKCS#1 v1.5 and PSS padding across the three hash sizes; EC
// keys are tied to one hash size by curve.
func algorithmsForPublicKey(cert *x509.Certificate, purpose card.Purpose) ([]cryptoutil.SignatureAlgorithm, error) {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		var out []cryptoutil.SignatureAlgorithm
		for _, h := range []cryptoutil.HashFunction{cryptoutil.SHA256, cryptoutil.SHA384, cryptoutil.SHA512} {
			out = append(out,
				cryptoutil.SignatureAlgorithm{Crypto: cryptoutil.CryptoRSA, Padding: cryptoutil.PaddingPKCS1v15, Hash: h},
				cryptoutil.SignatureAlgorithm{Crypto: cryptoutil.CryptoRSA, Padding: cryptoutil.PaddingPSS, Hash: h},
			)
		}
		return out, nil
	case *ecdsa.PublicKey:
		hash, err := hashForCurveBits(pub.Curve.Params().BitSize)
		if err != nil {
			return nil, err
		}
		return []cryptoutil.SignatureAlgorithm{{Crypto: cryptoutil.CryptoECDSA, Padding: cryptoutil.PaddingNone, Hash: hash}}, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}

func hashForCurveBits(bits int) (cryptoutil.HashFunction, error) {
	switch bits {
	case 256:
		return cryptoutil.SHA256, nil
	case 384:
		return cryptoutil.SHA384, nil
	case 521:
		return cryptoutil.SHA512, nil
	default:
		return "", fmt.Errorf("unsupported EC curve bit size %d", bits)
	}
}
