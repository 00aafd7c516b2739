package cryptoutil

import "encoding/base64"

// TokenFormat is the fixed format tag for an AuthenticationToken.
const TokenFormat = "web-eid:1.0"

// AuthenticationToken is the authenticate command's success payload.
type AuthenticationToken struct {
	UnverifiedCertificate string `json:"unverifiedCertificate"`
	Algorithm             string `json:"algorithm"`
	Signature             string `json:"signature"`
	Format                string `json:"format"`
	AppVersion            string `json:"appVersion"`
}

// BuildAuthenticationToken assembles the wire payload from the card's DER
// certificate, the JWS algorithm name, and the raw signature bytes.
func BuildAuthenticationToken(certDER []byte, jwsAlgorithm string, signature []byte, appVersion string) AuthenticationToken {
	return AuthenticationToken{
		UnverifiedCertificate: base64.StdEncoding.EncodeToString(certDER),
		Algorithm:             jwsAlgorithm,
		Signature:             base64.StdEncoding.EncodeToString(signature),
		Format:                TokenFormat,
		AppVersion:            appVersion,
	}
}

// SignatureResult is the sign command's success payload.
type SignatureResult struct {
	Signature          string             `json:"signature"`
	SignatureAlgorithm SignatureAlgorithm `json:"signatureAlgorithm"`
}

// BuildSignatureResult assembles the wire payload for a completed sign.
func BuildSignatureResult(signature []byte, alg SignatureAlgorithm) SignatureResult {
	return SignatureResult{
		Signature:          base64.StdEncoding.EncodeToString(signature),
		SignatureAlgorithm: alg,
	}
}

// CertificatePayload is get-signing-certificate's success payload.
type CertificatePayload struct {
	Certificate                  string               `json:"certificate"`
	SupportedSignatureAlgorithms []SignatureAlgorithm `json:"supportedSignatureAlgorithms"`
}

// BuildCertificatePayload assembles the wire payload for a certificate read.
func BuildCertificatePayload(certDER []byte, supported []SignatureAlgorithm) CertificatePayload {
	return CertificatePayload{
		Certificate:                  base64.StdEncoding.EncodeToString(certDER),
		SupportedSignatureAlgorithms: supported,
	}
}
