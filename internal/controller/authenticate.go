package controller

import (
	"context"
	"net/url"

	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
	"github.com/webeid-native/webeid-app/internal/protocol"
)

// Challenge nonce length bounds.
const (
	minChallengeNonceLength = 44
	maxChallengeNonceLength = 128
)

type authenticateHandler struct{}

func (h *authenticateHandler) Purpose() card.Purpose { return card.PurposeAuthentication }

func (h *authenticateHandler) RequiresPin() bool { return true }

func (h *authenticateHandler) Validate(cmd protocol.Command) error {
	args := cmd.Authenticate
	if len(args.ChallengeNonce) < minChallengeNonceLength {
		return invalidArgument("challengeNonce", "challengeNonce must be at least 44 characters long")
	}
	if len(args.ChallengeNonce) > maxChallengeNonceLength {
		return invalidArgument("challengeNonce", "challengeNonce must be at most 128 characters long")
	}
	if err := validateHTTPSOrigin(args.Origin); err != nil {
		return invalidArgument("origin", err.Error())
	}
	return nil
}

func (h *authenticateHandler) Run(ctx context.Context, deps HandlerDeps, cmd protocol.Command, cert card.CardCertificateAndPin, pinBuf *pin.Buffer) (any, error) {
	alg, err := chooseAlgorithm(cert.SupportedAlgos)
	if err != nil {
		return nil, err
	}
	jwsName, err := alg.JWSName()
	if err != nil {
		return nil, err
	}
	digestHash, err := cryptoutil.AuthDigestHashFunction(alg)
	if err != nil {
		return nil, err
	}

	digest, err := cryptoutil.AuthenticationDigest(cmd.Authenticate.Origin, cmd.Authenticate.ChallengeNonce, digestHash)
	if err != nil {
		return nil, err
	}

	signature, err := deps.Facade.SignWithAuthKey(ctx, cert.Card, pinBuf, digest)
	if err != nil {
		return nil, err
	}

	return cryptoutil.BuildAuthenticationToken(cert.CertificateDER, jwsName, signature, deps.AppVersion), nil
}

// chooseAlgorithm picks the card's preferred authentication algorithm: the
// strongest PSS/ECDSA variant if offered, falling back to PKCS1v15. Only
// algorithms with a JWS name are candidates - an RSA card advertising
// SHA-384/512 capability still authenticates as RS256/PS256, since those
// are the only RSA auth-signature algorithms on the wire.
func chooseAlgorithm(algos []cryptoutil.SignatureAlgorithm) (cryptoutil.SignatureAlgorithm, error) {
	var best cryptoutil.SignatureAlgorithm
	found := false
	for _, a := range algos {
		if _, err := a.JWSName(); err != nil {
			continue
		}
		if !found {
			best, found = a, true
			continue
		}
		if rank(a) > rank(best) {
			best = a
		}
	}
	if !found {
		return cryptoutil.SignatureAlgorithm{}, invalidArgument("certificate", "card offers no usable signature algorithm")
	}
	return best, nil
}

func rank(a cryptoutil.SignatureAlgorithm) int {
	score := 0
	switch a.Hash {
	case cryptoutil.SHA512:
		score += 3
	case cryptoutil.SHA384:
		score += 2
	case cryptoutil.SHA256:
		score += 1
	}
	if a.Crypto == cryptoutil.CryptoECDSA {
		score += 10
	}
	if a.Padding == cryptoutil.PaddingPSS {
		score += 1
	}
	return score
}

func validateHTTPSOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if u.Scheme != "https" {
		return errNotHTTPS
	}
	return nil
}

var errNotHTTPS = httpsSchemeError{}

type httpsSchemeError struct{}

func (httpsSchemeError) Error() string { return "origin must use the https scheme" }
