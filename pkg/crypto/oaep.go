package crypto

import (
	"math/big"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// OaepHashLen is the SHA-256 digest size used throughout the eTicket OAEP
// scheme.
const OaepHashLen = 32

// DevicePrivateKey holds the raw (D, N, E) triple recovered from the
// calibration blob. It intentionally does not carry prime
// factors — the console never exposes them — so every operation below goes
// through ModExp rather than crypto/rsa's CRT path.
type DevicePrivateKey struct {
	D *big.Int
	N *big.Int
	E *big.Int
}

// SelfTest encrypts 0xCAFEBABE with (E, N), decrypts with (D, N), and
// compares, matching the device-key validation step.
func (k *DevicePrivateKey) SelfTest() error {
	plain := big.NewInt(0xCAFEBABE)
	cipher := ModExp(plain, k.E, k.N)
	recovered := ModExp(cipher, k.D, k.N)
	if recovered.Cmp(plain) != 0 {
		return corecb.New(corecb.KindKeyVault, "devkey.selftest", errKeyPairMismatch)
	}
	return nil
}

// OaepDecrypt performs the raw RSA-2048-OAEP-SHA256 decrypt-and-unmask:
// M = C^D mod N, then EME-OAEP decoding with MGF1-SHA256, verifying the
// recovered label hash against expectedLabelHash. Returns the embedded
// message (for a titlekey payload that's just the tail of the message
// once padding is stripped).
func (k *DevicePrivateKey) OaepDecrypt(ciphertext []byte, expectedLabelHash []byte) ([]byte, error) {
	if len(ciphertext) != RSA2048ModulusSize {
		return nil, corecb.New(corecb.KindCrypto, "oaep.decrypt", errKeyLen(RSA2048ModulusSize, len(ciphertext)))
	}

	c := new(big.Int).SetBytes(ciphertext)
	m := ModExp(c, k.D, k.N)

	em := make([]byte, RSA2048ModulusSize)
	m.FillBytes(em)

	return oaepUnmask(em, expectedLabelHash)
}

// oaepUnmask implements RFC 8017 §7.1.2 EME-OAEP decoding with MGF1-SHA256.
func oaepUnmask(em []byte, expectedLabelHash []byte) ([]byte, error) {
	const hLen = OaepHashLen
	k := len(em)
	if k < 2*hLen+2 {
		return nil, corecb.New(corecb.KindTicket, "oaep.unmask", errOaepPadding)
	}

	y := em[0]
	maskedSeed := em[1 : 1+hLen]
	maskedDB := em[1+hLen:]

	seedMask := MGF1SHA256(maskedDB, hLen)
	seed := xorBytes(maskedSeed, seedMask)

	dbMask := MGF1SHA256(seed, k-hLen-1)
	db := xorBytes(maskedDB, dbMask)

	lHash := db[:hLen]
	if !constantTimeEqual(lHash, expectedLabelHash) || y != 0 {
		return nil, corecb.New(corecb.KindTicket, "oaep.unmask", errOaepLabelMismatch)
	}

	rest := db[hLen:]
	idx := -1
	for i, b := range rest {
		if b == 0x01 {
			idx = i
			break
		}
		if b != 0x00 {
			return nil, corecb.New(corecb.KindTicket, "oaep.unmask", errOaepPadding)
		}
	}
	if idx < 0 {
		return nil, corecb.New(corecb.KindTicket, "oaep.unmask", errOaepPadding)
	}

	return rest[idx+1:], nil
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
