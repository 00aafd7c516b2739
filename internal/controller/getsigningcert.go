package controller

import (
	"context"

	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
	"github.com/webeid-native/webeid-app/internal/protocol"
)

type getSigningCertificateHandler struct{}

func (h *getSigningCertificateHandler) Purpose() card.Purpose { return card.PurposeSigning }

func (h *getSigningCertificateHandler) RequiresPin() bool { return false }

func (h *getSigningCertificateHandler) Validate(cmd protocol.Command) error {
	if err := validateHTTPSOrigin(cmd.GetSigningCertificate.Origin); err != nil {
		return invalidArgument("origin", err.Error())
	}
	return nil
}

func (h *getSigningCertificateHandler) Run(ctx context.Context, deps HandlerDeps, cmd protocol.Command, cert card.CardCertificateAndPin, pinBuf *pin.Buffer) (any, error) {
	return cryptoutil.BuildCertificatePayload(cert.CertificateDER, cert.SupportedAlgos), nil
}
