package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// CCM implements AES-128-CCM for the cartridge initial-data path:
// a 16-byte MAC and a 12-byte nonce, matching the parameters gcdumptool's
// GameCardInitialData section uses to protect the card's title-key.
//
// The standard library does not expose a generic CCM mode (only GCM), and
// none of the retrieved example repositories import a CCM implementation,
// so this is hand-rolled directly against RFC 3610 on top of crypto/aes —
// the one place in this package that falls back to a from-scratch
// construction rather than a library, justified in DESIGN.md.
const (
	ccmNonceSize = 12
	ccmTagSize   = 16
)

// CCMDecrypt decrypts and verifies ciphertext produced with a 12-byte nonce
// and a 16-byte tag, with no additional authenticated data (the gamecard
// initial-data layout has none). Returns the error wrapped with
// corecb.KindCrypto on MAC mismatch.
func CCMDecrypt(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	if len(nonce) != ccmNonceSize {
		return nil, corecb.New(corecb.KindCrypto, "ccm.decrypt", errKeyLen(ccmNonceSize, len(nonce)))
	}
	if len(tag) != ccmTagSize {
		return nil, corecb.New(corecb.KindCrypto, "ccm.decrypt", errKeyLen(ccmTagSize, len(tag)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "ccm.decrypt", err)
	}

	plaintext := make([]byte, len(ciphertext))
	ccmCTRCrypt(block, nonce, ciphertext, plaintext)

	computedTag := ccmComputeTag(block, nonce, plaintext, nil)
	s0 := make([]byte, 16)
	block.Encrypt(s0, ccmCounterBlock(nonce, 0))
	for i := range computedTag {
		computedTag[i] ^= s0[i]
	}
	if !constantTimeEqual(computedTag, tag) {
		return nil, corecb.New(corecb.KindCrypto, "ccm.decrypt", errMACMismatch)
	}

	return plaintext, nil
}

// CCMEncrypt encrypts plaintext and returns (ciphertext, tag).
func CCMEncrypt(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	if len(nonce) != ccmNonceSize {
		return nil, nil, corecb.New(corecb.KindCrypto, "ccm.encrypt", errKeyLen(ccmNonceSize, len(nonce)))
	}

	block, cerr := aes.NewCipher(key)
	if cerr != nil {
		return nil, nil, corecb.New(corecb.KindCrypto, "ccm.encrypt", cerr)
	}

	computedTag := ccmComputeTag(block, nonce, plaintext, nil)

	ciphertext = make([]byte, len(plaintext))
	ccmCTRCrypt(block, nonce, plaintext, ciphertext)

	// The tag itself is masked with counter block 0, per RFC 3610.
	s0 := make([]byte, 16)
	ctr0 := ccmCounterBlock(nonce, 0)
	block.Encrypt(s0, ctr0)
	maskedTag := make([]byte, ccmTagSize)
	for i := range maskedTag {
		maskedTag[i] = computedTag[i] ^ s0[i]
	}

	return ciphertext, maskedTag, nil
}

func ccmCounterBlock(nonce []byte, counter uint16) []byte {
	b := make([]byte, 16)
	b[0] = 2 // L'=2 => L=3 counter field, matches a 12-byte nonce (1 + 12 + 3 = 16)
	copy(b[1:1+len(nonce)], nonce)
	binary.BigEndian.PutUint16(b[14:], counter)
	return b
}

// ccmCTRCrypt XORs src into dst using the CCM counter-mode keystream,
// starting at block counter 1 (block 0 is reserved for the MAC mask).
func ccmCTRCrypt(block interface {
	Encrypt(dst, src []byte)
	BlockSize() int
}, nonce, src, dst []byte) {
	counter := uint16(1)
	keystream := make([]byte, 16)
	for off := 0; off < len(src); off += 16 {
		ctrBlock := ccmCounterBlock(nonce, counter)
		block.Encrypt(keystream, ctrBlock)
		end := off + 16
		if end > len(src) {
			end = len(src)
		}
		for i := off; i < end; i++ {
			dst[i] = src[i] ^ keystream[i-off]
		}
		counter++
	}
}

// ccmComputeTag computes the raw (unmasked) CBC-MAC tag over aad||payload
// using the standard CCM B0 block with L=3, M=16.
func ccmComputeTag(block interface {
	Encrypt(dst, src []byte)
	BlockSize() int
}, nonce, payload, aad []byte) []byte {
	b0 := make([]byte, 16)
	var flags byte
	if len(aad) > 0 {
		flags |= 0x40
	}
	flags |= byte((ccmTagSize - 2) / 2 << 3)
	flags |= 2 // L'=2
	b0[0] = flags
	copy(b0[1:1+len(nonce)], nonce)
	binary.BigEndian.PutUint16(b0[14:], uint16(len(payload)))

	mac := make([]byte, 16)
	block.Encrypt(mac, b0)

	xorBlockInto := func(blk []byte) {
		for i := 0; i < 16 && i < len(blk); i++ {
			mac[i] ^= blk[i]
		}
		block.Encrypt(mac, mac)
	}

	for off := 0; off < len(payload); off += 16 {
		end := off + 16
		if end > len(payload) {
			end = len(payload)
		}
		block16 := make([]byte, 16)
		copy(block16, payload[off:end])
		xorBlockInto(block16)
	}

	return mac[:ccmTagSize]
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
