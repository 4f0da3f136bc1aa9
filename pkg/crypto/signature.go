package crypto

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"hash"
	"math/big"
)

// SignatureSize is the exact decoded length of every signature on the wire.
const SignatureSize = 512

var ErrMalformedKey = errors.New("crypto: malformed public key")

// PublicKey is the RSA key update signatures are checked against.
type PublicKey struct {
	E *big.Int // public exponent
	N *big.Int // modulus
}

// ParsePublicKey decodes a base64 key blob. The framing is two components,
// each preceded by a 16-bit big-endian length *in bits*; the component then
// occupies that many bits rounded up to whole bytes, big-endian. The
// exponent comes first, then the modulus.
func ParsePublicKey(b64 string) (*PublicKey, error) {
	data := Base64Decode(b64)

	var comp [2]*big.Int
	p := 0
	for i := 0; i < 2; i++ {
		if p+2 > len(data) {
			return nil, ErrMalformedKey
		}
		n := (int(data[p])<<8 + int(data[p+1]) + 7) >> 3
		p += 2
		if p+n > len(data) {
			return nil, ErrMalformedKey
		}
		comp[i] = new(big.Int).SetBytes(data[p : p+n])
		p += n
	}

	key := &PublicKey{E: comp[0], N: comp[1]}
	if key.N.Sign() == 0 || key.E.Sign() == 0 {
		return nil, ErrMalformedKey
	}
	return key, nil
}

// Verifier checks that a streamed payload matches a detached base64
// signature under a fixed public key.
//
// The scheme is raw RSA over SHA-512: the 512 signature bytes, read as a
// big-endian integer, are raised to the public exponent modulo N and the
// result is compared directly against the digest. There is no PKCS#1 or PSS
// formatting, which makes the signatures malleable; this is a limitation of
// the on-the-wire format, and a padding-aware scheme would reject every
// signature the update service actually produces.
type Verifier struct {
	key  *PublicKey
	hash hash.Hash
}

// NewVerifier creates a verifier with a fresh SHA-512 context.
func NewVerifier(key *PublicKey) *Verifier {
	return &Verifier{key: key, hash: sha512.New()}
}

// Init discards any partially accumulated digest and starts a new one.
func (v *Verifier) Init() {
	v.hash.Reset()
}

// Add feeds payload bytes into the running digest.
func (v *Verifier) Add(p []byte) {
	v.hash.Write(p)
}

// Verify finalizes the digest and reports whether it matches the signature.
// A signature of the wrong decoded length fails before the digest is
// finalized; otherwise the hash context is reset for the next Init/Add run.
func (v *Verifier) Verify(signatureB64 string) bool {
	sig := Base64Decode(signatureB64)
	if len(sig) != SignatureSize {
		return false
	}

	digest := v.hash.Sum(nil)
	v.hash.Reset()

	m := new(big.Int).Exp(new(big.Int).SetBytes(sig), v.key.E, v.key.N)
	buf := m.Bytes()
	if len(buf) == 0 || len(buf) > len(digest) {
		return false
	}
	if len(buf) < len(digest) {
		padded := make([]byte, len(digest))
		copy(padded[len(digest)-len(buf):], buf)
		buf = padded
	}
	return bytes.Equal(buf, digest)
}
