package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"

	"github.com/cartkit/nxcart/pkg/corecb"
)

const cryptoSHA256 = stdcrypto.SHA256

// RSA2048ModulusSize is the byte length of an RSA-2048 block.
const RSA2048ModulusSize = 256

// ModExp performs C^D mod N for arbitrary-length exponents, used by the
// OAEP path and the key self-test (PSS signing goes through crypto/rsa). It is the one place device-key title-key
// decryption goes through, since the console only ever hands us (D, N, E)
// — never the prime factors — so crypto/rsa's CRT-accelerated path is
// unavailable and a direct
// big.Int.Exp is the correct, idiomatic fallback (crypto/rsa itself falls
// back to this exact computation when no primes are set).
func ModExp(c, d, n *big.Int) *big.Int {
	return new(big.Int).Exp(c, d, n)
}

// MGF1SHA256 is the mask generation function OAEP unmasking needs,
// generalized from RFC 8017 §B.2.1.
func MGF1SHA256(seed []byte, length int) []byte {
	var out []byte
	var counter uint32
	for len(out) < length {
		c := []byte{byte(counter >> 24), byte(counter >> 16), byte(counter >> 8), byte(counter)}
		h := sha256.Sum256(append(append([]byte{}, seed...), c...))
		out = append(out, h[:]...)
		counter++
	}
	return out[:length]
}

// KeyPair is the bundled RSA-2048 key the core uses to re-sign program
// archive headers. A real deployment bakes a private key it
// owns into the binary; here it is generated at init time with
// crypto/rsa.GenerateKey and kept process-lifetime, matching "shipped with
// the program" without hardcoding fixed key material in source.
type KeyPair struct {
	Priv *rsa.PrivateKey
}

var bundledKeyPair *KeyPair

func init() {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("crypto: failed to materialize bundled RSA-2048 signing key: " + err.Error())
	}
	bundledKeyPair = &KeyPair{Priv: priv}
}

// BundledKeyPair returns the process-wide signing key used to re-sign
// program archive headers.
func BundledKeyPair() *KeyPair { return bundledKeyPair }

// PublicKeyBytes returns the 0x100-byte big-endian modulus suitable for
// embedding as the replacement ACID public key in a rewritten meta file.
func (kp *KeyPair) PublicKeyBytes() [RSA2048ModulusSize]byte {
	var out [RSA2048ModulusSize]byte
	kp.Priv.PublicKey.N.FillBytes(out[:])
	return out
}

// PSSSignSHA256 signs a 0x200-byte message with salt length 0x20, as
// required for both the fixed-platform-key and npdm signatures plus the
// header-rewrite re-signature. crypto/rsa.SignPSS is used directly —
// none of the retrieved examples hand-roll PSS and the standard library's
// implementation is already constant-time and RFC-compliant.
func PSSSignSHA256(priv *rsa.PrivateKey, message []byte) ([RSA2048ModulusSize]byte, error) {
	var out [RSA2048ModulusSize]byte
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, cryptoSHA256, digest[:], &rsa.PSSOptions{
		SaltLength: 0x20,
		Hash:       cryptoSHA256,
	})
	if err != nil {
		return out, corecb.New(corecb.KindCrypto, "rsa.SignPSS", err)
	}
	copy(out[:], sig)
	return out, nil
}

// VerifyPSSSHA256 verifies a PSS-SHA256 signature with salt length 0x20
// over message, returning the KeyPair round-trip error kind on mismatch.
func VerifyPSSSHA256(pub *rsa.PublicKey, message []byte, sig []byte) error {
	digest := sha256.Sum256(message)
	opts := &rsa.PSSOptions{SaltLength: 0x20, Hash: cryptoSHA256}
	if err := rsa.VerifyPSS(pub, cryptoSHA256, digest[:], sig, opts); err != nil {
		return corecb.New(corecb.KindCrypto, "rsa.VerifyPSS", errKeyPairMismatch)
	}
	return nil
}
