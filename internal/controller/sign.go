package controller

import (
	"context"
	"encoding/base64"

	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
	"github.com/webeid-native/webeid-app/internal/protocol"
)

type signHandler struct {
	digest []byte // populated by Validate, consumed by Run
}

func (h *signHandler) Purpose() card.Purpose { return card.PurposeSigning }

func (h *signHandler) RequiresPin() bool { return true }

func (h *signHandler) Validate(cmd protocol.Command) error {
	args := cmd.Sign
	if err := validateHTTPSOrigin(args.Origin); err != nil {
		return invalidArgument("origin", err.Error())
	}

	digest, err := base64.StdEncoding.DecodeString(args.Hash)
	if err != nil {
		return invalidArgument("hash", "must be valid base64")
	}

	hashFn := cryptoutil.HashFunction(args.HashFunction)
	wantLen, ok := cryptoutil.HashLengths[hashFn]
	if !ok {
		return invalidArgument("hashFunction", "unrecognized hash function")
	}
	if len(digest) != wantLen {
		return invalidArgument("hash", "length does not match hashFunction")
	}

	h.digest = digest
	return nil
}

func (h *signHandler) Run(ctx context.Context, deps HandlerDeps, cmd protocol.Command, cert card.CardCertificateAndPin, pinBuf *pin.Buffer) (any, error) {
	hashFn := cryptoutil.HashFunction(cmd.Sign.HashFunction)
	alg, err := algorithmForHash(cert.SupportedAlgos, hashFn)
	if err != nil {
		return nil, err
	}

	signature, err := deps.Facade.SignWithSigningKey(ctx, cert.Card, pinBuf, h.digest)
	if err != nil {
		return nil, err
	}

	return cryptoutil.BuildSignatureResult(signature, alg), nil
}

func algorithmForHash(algos []cryptoutil.SignatureAlgorithm, hashFn cryptoutil.HashFunction) (cryptoutil.SignatureAlgorithm, error) {
	for _, a := range algos {
		if a.Hash == hashFn {
			return a, nil
		}
	}
	return cryptoutil.SignatureAlgorithm{}, invalidArgument("hashFunction", "card's signing key does not support this hash")
}
