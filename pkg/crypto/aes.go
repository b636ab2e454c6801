// Package crypto implements the AES/RSA/SHA/CRC primitives the Switch
// container formats need: ECB, CBC, CTR, XTS, and CCM block modes plus
// the RSA and CRC-32 primitives the rest of the pipeline builds on.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// Cipher cache to avoid recreating AES ciphers for the same key.
var (
	cipherCache   = make(map[[16]byte]cipher.Block)
	cipherCacheMu sync.RWMutex
)

func getCachedCipher(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, corecb.New(corecb.KindCrypto, "aes.NewCipher", errKeyLen(16, len(key)))
	}

	var keyArr [16]byte
	copy(keyArr[:], key)

	cipherCacheMu.RLock()
	block, ok := cipherCache[keyArr]
	cipherCacheMu.RUnlock()
	if ok {
		return block, nil
	}

	cipherCacheMu.Lock()
	defer cipherCacheMu.Unlock()

	if block, ok = cipherCache[keyArr]; ok {
		return block, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "aes.NewCipher", err)
	}
	cipherCache[keyArr] = block
	return block, nil
}

// ECBDecrypt decrypts data using AES-128-ECB. Not secure for general
// purpose, but mandated by the Switch key-wrap scheme.
func ECBDecrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "ecb.decrypt", err)
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, corecb.New(corecb.KindCrypto, "ecb.decrypt", errNotBlockAligned)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// ECBEncrypt encrypts data using AES-128-ECB.
func ECBEncrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "ecb.encrypt", err)
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, corecb.New(corecb.KindCrypto, "ecb.encrypt", errNotBlockAligned)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// CBCDecrypt decrypts data using AES-128-CBC with no padding, IV supplied by
// the caller. Used for the cartridge header's encrypted area.
func CBCDecrypt(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "cbc.decrypt", err)
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, corecb.New(corecb.KindCrypto, "cbc.decrypt", errNotBlockAligned)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// CBCEncrypt encrypts data using AES-128-CBC with no padding.
func CBCEncrypt(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "cbc.encrypt", err)
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, corecb.New(corecb.KindCrypto, "cbc.encrypt", errNotBlockAligned)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// NewCTRStream creates an AES-CTR stream starting at a specific absolute
// offset. iv holds the base counter (bytes 0-7 are section-specific); bytes
// 8-15 are overwritten with the block number (offset/16) in big-endian, so
// callers can seek by constructing the stream at any offset. For an offset
// that is not a multiple of 16, the keystream bytes before it within its
// block are skipped.
func NewCTRStream(key, iv []byte, absoluteOffset int64) (cipher.Stream, error) {
	block, err := getCachedCipher(key)
	if err != nil {
		return nil, err
	}

	counter := make([]byte, 16)
	copy(counter, iv)
	binary.BigEndian.PutUint64(counter[8:], uint64(absoluteOffset>>4))

	stream := cipher.NewCTR(block, counter)
	if skip := absoluteOffset & 0xF; skip != 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}
	return stream, nil
}

// XTSSectorSize is the fixed sector size used by every XTS consumer in this
// module (archive headers and archive sections alike).
const XTSSectorSize = 0x200

// XTSDecrypt decrypts data using AES-128-XTS with the given sector index as
// tweak. key must be 32 bytes (key1||key2).
func XTSDecrypt(data, key []byte, sector uint64) ([]byte, error) {
	return xtsCrypt(data, key, sector, false)
}

// XTSEncrypt encrypts data using AES-128-XTS with the given sector index as
// tweak.
func XTSEncrypt(data, key []byte, sector uint64) ([]byte, error) {
	return xtsCrypt(data, key, sector, true)
}

func xtsCrypt(data, key []byte, sector uint64, encrypt bool) ([]byte, error) {
	if len(key) != 32 {
		return nil, corecb.New(corecb.KindCrypto, "xts", errKeyLen(32, len(key)))
	}
	if len(data)%16 != 0 {
		return nil, corecb.New(corecb.KindCrypto, "xts", errNotBlockAligned)
	}

	c1, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "xts", err)
	}
	c2, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "xts", err)
	}

	tweak := make([]byte, 16)
	binary.BigEndian.PutUint64(tweak[8:], sector)
	tweakEnc := make([]byte, 16)
	c2.Encrypt(tweakEnc, tweak)
	tweak = tweakEnc

	out := make([]byte, len(data))
	buf := make([]byte, 16)
	tmp := make([]byte, 16)

	for i := 0; i < len(data); i += 16 {
		chunk := data[i : i+16]
		xor16(buf, chunk, tweak)
		if encrypt {
			c1.Encrypt(tmp, buf)
		} else {
			c1.Decrypt(tmp, buf)
		}
		xor16(out[i:i+16], tmp, tweak)
		mul2(tweak)
	}
	return out, nil
}

func xor16(dst, a, b []byte) {
	for i := 0; i < 16; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// mul2 multiplies the 128-bit little-endian tweak by the element "2" of
// GF(2^128), the standard XTS tweak update (polynomial x^128+x^7+x^2+x+1).
func mul2(tweak []byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		b := tweak[i]
		nextCarry := b >> 7
		tweak[i] = (b << 1) | carry
		carry = nextCarry
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}
