// Package cryptotest provides a throwaway 4096-bit signing key for tests
// that need to produce wire-compatible update signatures. Production code
// must never import it: the updater only ever verifies.
package cryptotest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"math/big"
	"sync"

	"github.com/meganz/megacmd-updater/pkg/crypto"
)

// SigningKey signs payloads the way the update service does: raw RSA over
// SHA-512, no padding, 512-byte signatures.
type SigningKey struct {
	priv *rsa.PrivateKey
}

var (
	once sync.Once
	key  *SigningKey
)

// Key returns a process-wide signing key. Generation is expensive, so the
// key is created once and shared by every test in the binary.
func Key() *SigningKey {
	once.Do(func() {
		priv, err := rsa.GenerateKey(rand.Reader, crypto.SignatureSize*8)
		if err != nil {
			panic(err)
		}
		key = &SigningKey{priv: priv}
	})
	return key
}

// PublicKeyB64 encodes the public key in the embedded-blob framing: two
// components (exponent, then modulus), each preceded by a 16-bit big-endian
// bit length.
func (k *SigningKey) PublicKeyB64() string {
	e := big.NewInt(int64(k.priv.PublicKey.E))
	return crypto.Base64Encode(append(frameComponent(e), frameComponent(k.priv.PublicKey.N)...))
}

// Sign hashes the concatenation of parts with SHA-512 and signs the digest
// raw, returning the base64 signature.
func (k *SigningKey) Sign(parts ...[]byte) string {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}

	m := new(big.Int).SetBytes(h.Sum(nil))
	s := new(big.Int).Exp(m, k.priv.D, k.priv.PublicKey.N)

	sig := make([]byte, crypto.SignatureSize)
	s.FillBytes(sig)
	return crypto.Base64Encode(sig)
}

func frameComponent(c *big.Int) []byte {
	bits := c.BitLen()
	out := []byte{byte(bits >> 8), byte(bits)}
	return append(out, c.Bytes()...)
}
