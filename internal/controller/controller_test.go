package controller

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/card/cardmock"
	"github.com/webeid-native/webeid-app/internal/config"
	"github.com/webeid-native/webeid-app/internal/cryptoutil"
	"github.com/webeid-native/webeid-app/internal/pin"
	"github.com/webeid-native/webeid-app/internal/protocol"
	"github.com/webeid-native/webeid-app/internal/ui"
	"github.com/webeid-native/webeid-app/internal/wire"
	"github.com/webeid-native/webeid-app/internal/worker"
)

// scriptedUI is a test double for ui.Facade: the test pre-populates what
// Confirm should return and, for a confirmed outcome, how many PIN digits to
// stuff into the returned buffer (whatever req.NeedsPin says).
type scriptedUI struct {
	confirmed    bool
	pinDigits    int
	confirmErr   error
	confirmCalls int
	shownErrors  []string
	lastPinBuf   *pin.Buffer

	chooseIndex  int
	chooseErr    error
	chooseCalled bool
	lastChoices  []ui.CardChoice
}

func (s *scriptedUI) Confirm(ctx context.Context, req ui.ConfirmRequest) (ui.ConfirmOutcome, error) {
	s.confirmCalls++
	if s.confirmErr != nil {
		return ui.ConfirmOutcome{}, s.confirmErr
	}
	if !s.confirmed {
		return ui.ConfirmOutcome{Confirmed: false}, nil
	}
	buf := pin.New()
	for i := 0; i < s.pinDigits; i++ {
		buf.Append('1')
	}
	s.lastPinBuf = buf
	return ui.ConfirmOutcome{Confirmed: true, PinBuf: buf}, nil
}

func (s *scriptedUI) ChooseCard(ctx context.Context, choices []ui.CardChoice) (int, error) {
	s.chooseCalled = true
	s.lastChoices = choices
	if s.chooseErr != nil {
		return 0, s.chooseErr
	}
	return s.chooseIndex, nil
}

func (s *scriptedUI) ShowError(ctx context.Context, message string) error {
	s.shownErrors = append(s.shownErrors, message)
	return nil
}

func (s *scriptedUI) Close() error { return nil }

func testOpts() config.Options {
	return config.Options{
		Browser:              "chrome",
		WaitForReaderTimeout: time.Second,
		WaitForCardTimeout:   time.Second,
	}
}

func generateTestCert(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "TEST,JOHN"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return key, der
}

func newMockFacade(t *testing.T, der []byte) *cardmock.Facade {
	t.Helper()
	f := cardmock.New()
	f.Readers = []card.ReaderInfo{{Name: "ACS Reader 0", CardPresent: true}}
	f.WaitCard = card.NewCardInfo("ACS Reader 0", []byte{0x3b}, 1)
	f.Cert = card.CardCertificateAndPin{
		Card:           f.WaitCard,
		CertificateDER: der,
		Subject:        "CN=TEST,JOHN",
		SupportedAlgos: []cryptoutil.SignatureAlgorithm{
			{Crypto: cryptoutil.CryptoECDSA, Padding: cryptoutil.PaddingNone, Hash: cryptoutil.SHA256},
		},
		PinRetriesLeft: 3,
		PinMinLength:   4,
		PinMaxLength:   12,
	}
	f.SignAuthResult = []byte("auth-signature")
	f.SignSignResult = []byte("sign-signature")
	return f
}

func sendAndReceive(t *testing.T, c *Controller, req protocol.RequestEnvelope) protocol.ResponseEnvelope {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	var in bytes.Buffer
	if err := wire.WriteFrame(&in, body); err != nil {
		t.Fatalf("write request frame: %v", err)
	}

	var out bytes.Buffer
	if err := c.Run(context.Background(), &in, &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	respBody, err := wire.ReadFrame(&out, wire.MaxResponseSize)
	if err != nil {
		t.Fatalf("read response frame: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(respBody, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return mapToEnvelope(resp)
}

// mapToEnvelope adapts the flattened wire response back into a structure
// tests can inspect without duplicating ResponseEnvelope's custom
// marshaling logic.
func mapToEnvelope(m map[string]any) protocol.ResponseEnvelope {
	env := protocol.ResponseEnvelope{}
	if id, ok := m["id"].(string); ok {
		env.ID = id
	}
	if errRaw, ok := m["error"]; ok {
		b, _ := json.Marshal(errRaw)
		var ep protocol.ErrorPayload
		_ = json.Unmarshal(b, &ep)
		env.Error = &ep
	} else {
		env.Data = m
	}
	return env
}

func TestController_Status_DoesNotTouchCards(t *testing.T) {
	facade := cardmock.New()
	facade.ReadersErr = errBoom // would surface if Status touched the facade
	c := New(facade, &scriptedUI{}, testOpts(), nil, nil, nil)

	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "status"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.ID != "1" {
		t.Errorf("response id = %q, want the request id echoed", resp.ID)
	}
	data := resp.Data.(map[string]any)
	if data["nativeApp"] != "webeid-app" {
		t.Errorf("nativeApp = %v", data["nativeApp"])
	}
	if data["version"] != config.AppVersion {
		t.Errorf("version = %v, want %s", data["version"], config.AppVersion)
	}
}

func TestController_Authenticate_NoReaders(t *testing.T) {
	facade := cardmock.New()
	opts := testOpts()
	opts.WaitForReaderTimeout = 100 * time.Millisecond
	c := New(facade, &scriptedUI{}, opts, nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "01234567890123456789012345678901234567890123",
		"origin":         "https://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodeNoSmartCardReaders {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodeNoSmartCardReaders)
	}
	if resp.ID != "1" {
		t.Errorf("response id = %q, want the request id echoed", resp.ID)
	}
}

func TestController_Sign_WrongPinRetryThenSuccess(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	facade.SignSignErrOnce = &apperrors.RetriableError{Reason: apperrors.ReasonWrongPin, RetriesLeft: 2}
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	digest := make([]byte, 32)
	args, _ := json.Marshal(map[string]string{
		"origin":       "https://example.org",
		"hash":         base64.StdEncoding.EncodeToString(digest),
		"hashFunction": "SHA-256",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "sign", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error after PIN retry: %+v", resp.Error)
	}
	if uiFacade.confirmCalls != 2 {
		t.Errorf("confirmCalls = %d, want 2 (initial + one wrong-PIN retry)", uiFacade.confirmCalls)
	}
	if len(uiFacade.shownErrors) != 1 {
		t.Errorf("shownErrors = %d, want 1", len(uiFacade.shownErrors))
	}
	data := resp.Data.(map[string]any)
	if data["signature"] != base64.StdEncoding.EncodeToString([]byte("sign-signature")) {
		t.Errorf("signature = %v", data["signature"])
	}
}

func TestController_Quit_Exits(t *testing.T) {
	facade := cardmock.New()
	c := New(facade, &scriptedUI{}, testOpts(), nil, nil, nil)

	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "quit"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if c.state != StateExited {
		t.Errorf("state = %v, want Exited", c.state)
	}
}

func TestController_Authenticate_HappyPath(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "01234567890123456789012345678901234567890123",
		"origin":         "https://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	data := resp.Data.(map[string]any)
	if data["format"] != cryptoutil.TokenFormat {
		t.Errorf("format = %v", data["format"])
	}
	if uiFacade.confirmCalls != 1 {
		t.Errorf("confirmCalls = %d, want 1", uiFacade.confirmCalls)
	}
	if uiFacade.lastPinBuf.Len() != 0 {
		t.Errorf("PIN buffer not zeroized after signing: %d bytes remain", uiFacade.lastPinBuf.Len())
	}
}

func TestController_Authenticate_SignatureVerifies(t *testing.T) {
	key, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	facade.SignAuthFn = func(digest []byte) ([]byte, error) {
		return ecdsa.SignASN1(rand.Reader, key, digest)
	}
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	const (
		origin = "https://example.org"
		nonce  = "01234567890123456789012345678901234567890123"
	)
	args, _ := json.Marshal(map[string]string{"challengeNonce": nonce, "origin": origin})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	data := resp.Data.(map[string]any)
	if data["algorithm"] != "ES256" {
		t.Fatalf("algorithm = %v, want ES256", data["algorithm"])
	}

	certDER, err := base64.StdEncoding.DecodeString(data["unverifiedCertificate"].(string))
	if err != nil {
		t.Fatalf("decode unverifiedCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("unverifiedCertificate is not valid DER: %v", err)
	}

	signature, err := base64.StdEncoding.DecodeString(data["signature"].(string))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest, err := cryptoutil.AuthenticationDigest(origin, nonce, cryptoutil.SHA256)
	if err != nil {
		t.Fatalf("AuthenticationDigest: %v", err)
	}
	if !ecdsa.VerifyASN1(cert.PublicKey.(*ecdsa.PublicKey), digest, signature) {
		t.Error("signature does not verify against the certificate over hash(hash(origin)||hash(nonce))")
	}
}

func TestController_Authenticate_RSACardSelectsPS256(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	var rsaAlgos []cryptoutil.SignatureAlgorithm
	for _, h := range []cryptoutil.HashFunction{cryptoutil.SHA256, cryptoutil.SHA384, cryptoutil.SHA512} {
		rsaAlgos = append(rsaAlgos,
			cryptoutil.SignatureAlgorithm{Crypto: cryptoutil.CryptoRSA, Padding: cryptoutil.PaddingPKCS1v15, Hash: h},
			cryptoutil.SignatureAlgorithm{Crypto: cryptoutil.CryptoRSA, Padding: cryptoutil.PaddingPSS, Hash: h},
		)
	}
	facade.Cert.SupportedAlgos = rsaAlgos
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "01234567890123456789012345678901234567890123",
		"origin":         "https://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error for RSA capability list: %+v", resp.Error)
	}
	data := resp.Data.(map[string]any)
	if data["algorithm"] != "PS256" {
		t.Errorf("algorithm = %v, want PS256 (strongest mappable RSA variant)", data["algorithm"])
	}
}

func TestController_Sign_UnsupportedHashZeroizesPin(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der) // signing key supports SHA-256 only
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"origin":       "https://example.org",
		"hash":         base64.StdEncoding.EncodeToString(make([]byte, 48)),
		"hashFunction": "SHA-384",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "sign", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodeInvalidArgument {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodeInvalidArgument)
	}
	if uiFacade.lastPinBuf == nil {
		t.Fatal("expected a PIN buffer to have been collected")
	}
	if uiFacade.lastPinBuf.Len() != 0 {
		t.Errorf("PIN buffer not zeroized after pre-sign handler failure: %d bytes remain", uiFacade.lastPinBuf.Len())
	}
}

func TestController_Authenticate_UserCancels(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	uiFacade := &scriptedUI{confirmed: false}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "01234567890123456789012345678901234567890123",
		"origin":         "https://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodeUserCancelled {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodeUserCancelled)
	}
}

func TestController_Authenticate_RejectsNonHTTPSOrigin(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "01234567890123456789012345678901234567890123",
		"origin":         "http://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodeInvalidArgument {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodeInvalidArgument)
	}
	if uiFacade.confirmCalls != 0 {
		t.Errorf("confirmCalls = %d, want 0 (validation should reject before confirming)", uiFacade.confirmCalls)
	}
}

func TestController_Authenticate_RejectsShortNonce(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "short",
		"origin":         "https://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodeInvalidArgument {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodeInvalidArgument)
	}
	if uiFacade.confirmCalls != 0 {
		t.Errorf("confirmCalls = %d, want 0 (validation should reject before confirming)", uiFacade.confirmCalls)
	}
}

func TestController_GetSigningCertificate_NoPinRequired(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 0}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{"origin": "https://example.org"})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "get-signing-certificate", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	data := resp.Data.(map[string]any)
	if data["certificate"] != base64.StdEncoding.EncodeToString(der) {
		t.Errorf("certificate mismatch")
	}
}

func TestController_GetSigningCertificate_MultipleCardsPromptsChooser(t *testing.T) {
	_, der1 := generateTestCert(t)
	_, der2 := generateTestCert(t)
	facade := newMockFacade(t, der1)

	cardA := card.NewCardInfo("Reader A", []byte{0x3b}, 1)
	cardB := card.NewCardInfo("Reader B", []byte{0x3b}, 1)
	facade.Candidates = []card.CardInfo{cardA, cardB}
	facade.CertByReader = map[string]card.CardCertificateAndPin{
		"Reader A": {Card: cardA, CertificateDER: der1, Subject: "CN=A,JOHN"},
		"Reader B": {Card: cardB, CertificateDER: der2, Subject: "CN=B,JANE"},
	}

	uiFacade := &scriptedUI{confirmed: true, chooseIndex: 1}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{"origin": "https://example.org"})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "get-signing-certificate", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if !uiFacade.chooseCalled {
		t.Fatal("expected ChooseCard to be called for multiple candidate cards")
	}
	if len(uiFacade.lastChoices) != 2 {
		t.Fatalf("choices = %d, want 2", len(uiFacade.lastChoices))
	}
	data := resp.Data.(map[string]any)
	if data["certificate"] != base64.StdEncoding.EncodeToString(der2) {
		t.Errorf("certificate is not Reader B's (chosen index 1) DER")
	}
}

func TestController_CardRemovedDuringRunningHandler_RetriesOnReinsertion(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	facade.BlockSignOnce = true

	monitor, err := worker.StartCardEventMonitor(context.Background(), facade)
	if err != nil {
		t.Fatalf("start card event monitor: %v", err)
	}
	defer monitor.Stop()

	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, monitor)

	go func() {
		// Give the worker time to enter the blocked sign call before the
		// reader reports the card gone.
		time.Sleep(50 * time.Millisecond)
		facade.Emit(context.Background(), card.ReaderChange{Kind: card.CardRemoved, ReaderName: "ACS Reader 0"})
	}()

	args, _ := json.Marshal(map[string]string{
		"challengeNonce": "01234567890123456789012345678901234567890123",
		"origin":         "https://example.org",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "authenticate", Arguments: args})
	if resp.Error != nil {
		t.Fatalf("unexpected error after reinsertion retry: %+v", resp.Error)
	}
	if uiFacade.confirmCalls != 2 {
		t.Errorf("confirmCalls = %d, want 2 (initial + retry after card removal)", uiFacade.confirmCalls)
	}
	if len(uiFacade.shownErrors) != 1 {
		t.Errorf("shownErrors = %d, want 1 (card_removed shown once)", len(uiFacade.shownErrors))
	}
}

func TestController_Sign_WrongPinRetriesThenBlocked(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	facade.SignSignErrOnce = &apperrors.RetriableError{Reason: apperrors.ReasonWrongPin, RetriesLeft: 1}
	facade.SignSignErr = &apperrors.RetriableError{Reason: apperrors.ReasonWrongPin, RetriesLeft: 0}
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	digest := make([]byte, 32)
	args, _ := json.Marshal(map[string]string{
		"origin":       "https://example.org",
		"hash":         base64.StdEncoding.EncodeToString(digest),
		"hashFunction": "SHA-256",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "sign", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodePinBlocked {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodePinBlocked)
	}
	if uiFacade.confirmCalls != 2 {
		t.Errorf("confirmCalls = %d, want 2 (one wrong-PIN retry, then blocked)", uiFacade.confirmCalls)
	}
}

func TestController_Sign_HashLengthMismatch(t *testing.T) {
	_, der := generateTestCert(t)
	facade := newMockFacade(t, der)
	uiFacade := &scriptedUI{confirmed: true, pinDigits: 4}
	c := New(facade, uiFacade, testOpts(), nil, nil, nil)

	args, _ := json.Marshal(map[string]string{
		"origin":       "https://example.org",
		"hash":         base64.StdEncoding.EncodeToString(make([]byte, 20)),
		"hashFunction": "SHA-256",
	})
	resp := sendAndReceive(t, c, protocol.RequestEnvelope{ID: "1", Command: "sign", Arguments: args})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != apperrors.CodeInvalidArgument {
		t.Errorf("code = %s, want %s", resp.Error.Code, apperrors.CodeInvalidArgument)
	}
}

var errBoom = boomErr{}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
