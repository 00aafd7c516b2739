package cryptoutil

import (
	"bytes"
	"testing"
)

func TestAuthenticationDigest_DomainSeparation(t *testing.T) {
	base, err := AuthenticationDigest("https://example.org", "nonce-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", SHA256)
	if err != nil {
		t.Fatalf("AuthenticationDigest failed: %v", err)
	}

	diffOrigin, err := AuthenticationDigest("https://evil.example", "nonce-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", SHA256)
	if err != nil {
		t.Fatalf("AuthenticationDigest failed: %v", err)
	}
	if bytes.Equal(base, diffOrigin) {
		t.Error("changing origin did not change the digest")
	}

	diffNonce, err := AuthenticationDigest("https://example.org", "nonce-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", SHA256)
	if err != nil {
		t.Fatalf("AuthenticationDigest failed: %v", err)
	}
	if bytes.Equal(base, diffNonce) {
		t.Error("changing nonce did not change the digest")
	}
}

func TestAuthenticationDigest_Length(t *testing.T) {
	for fn, want := range HashLengths {
		digest, err := AuthenticationDigest("https://example.org", "nonce", fn)
		if err != nil {
			t.Fatalf("AuthenticationDigest(%s) failed: %v", fn, err)
		}
		if len(digest) != want {
			t.Errorf("%s digest length = %d, want %d", fn, len(digest), want)
		}
	}
}

func TestSignatureAlgorithm_JWSName(t *testing.T) {
	cases := []struct {
		alg  SignatureAlgorithm
		want string
	}{
		{SignatureAlgorithm{CryptoRSA, PaddingPKCS1v15, SHA256}, "RS256"},
		{SignatureAlgorithm{CryptoRSA, PaddingPSS, SHA256}, "PS256"},
		{SignatureAlgorithm{CryptoECDSA, PaddingNone, SHA256}, "ES256"},
		{SignatureAlgorithm{CryptoECDSA, PaddingNone, SHA384}, "ES384"},
		{SignatureAlgorithm{CryptoECDSA, PaddingNone, SHA512}, "ES512"},
	}
	for _, c := range cases {
		got, err := c.alg.JWSName()
		if err != nil {
			t.Fatalf("JWSName(%+v) failed: %v", c.alg, err)
		}
		if got != c.want {
			t.Errorf("JWSName(%+v) = %s, want %s", c.alg, got, c.want)
		}
	}
}

func TestSignatureAlgorithm_JWSName_Unrecognized(t *testing.T) {
	_, err := SignatureAlgorithm{CryptoRSA, PaddingNone, SHA384}.JWSName()
	if err == nil {
		t.Fatal("expected error for unrecognized combination")
	}
}
