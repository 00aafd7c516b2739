package cryptoutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

func newHasher(fn HashFunction) (hash.Hash, error) {
	switch fn {
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash function %q", fn)
	}
}

// AuthenticationDigest builds the domain-separated pre-image signed by the
// authenticate command: hash( hash(origin) || hash(nonce) ).
// Concatenating at the pre-hash level (rather than hashing the concatenated
// strings directly) guarantees that no origin/nonce pair can be confused
// with a different split of the same bytes.
func AuthenticationDigest(origin, nonce string, fn HashFunction) ([]byte, error) {
	originHash, err := hashBytes(fn, []byte(origin))
	if err != nil {
		return nil, err
	}
	nonceHash, err := hashBytes(fn, []byte(nonce))
	if err != nil {
		return nil, err
	}

	combined := make([]byte, 0, len(originHash)+len(nonceHash))
	combined = append(combined, originHash...)
	combined = append(combined, nonceHash...)

	return hashBytes(fn, combined)
}

func hashBytes(fn HashFunction, data []byte) ([]byte, error) {
	h, err := newHasher(fn)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}
