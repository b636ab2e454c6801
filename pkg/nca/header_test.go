package nca

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/keys"
)

type memReaderAt []byte

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, nil
	}
	n := copy(p, m[off:])
	return n, nil
}

// buildPlainHeader constructs a valid 0xC00-byte plaintext header with the
// given section 0 entry present, crypt type none, and an all-zero rights
// id (non-ticket-bound).
func buildPlainHeader(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize)
	copy(buf[0x200:0x204], []byte(MagicNCA3))
	buf[0x206] = 1 // key generation
	buf[0x207] = 0 // key area index

	// Section 0: media units [0x4, 0x8) -> bytes [0x800, 0x1000)
	binary.LittleEndian.PutUint32(buf[0x240:0x244], 4)
	binary.LittleEndian.PutUint32(buf[0x244:0x248], 8)

	fsOff := 0x400
	buf[fsOff+0x4] = CryptoTypeNone

	return buf
}

func encryptHeader(t *testing.T, plain []byte, headerKey []byte) []byte {
	t.Helper()
	out := make([]byte, len(plain))
	for i := 0; i < len(plain)/crypto.XTSSectorSize; i++ {
		start := i * crypto.XTSSectorSize
		end := start + crypto.XTSSectorSize
		enc, err := crypto.XTSEncrypt(plain[start:end], headerKey, uint64(i))
		require.NoError(t, err)
		copy(out[start:end], enc)
	}
	return out
}

func TestParseHeaderRoundTrip(t *testing.T) {
	headerKey := bytes.Repeat([]byte{0x42}, 32)
	plain := buildPlainHeader(t)
	encrypted := encryptHeader(t, plain, headerKey)

	h, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.NoError(t, err)
	require.Equal(t, MagicNCA3, string(h.Magic[:]))
	require.Equal(t, byte(1), h.KeyGeneration)

	start, end, ok := h.SectionByteRange(0)
	require.True(t, ok)
	require.Equal(t, int64(0x800), start)
	require.Equal(t, int64(0x1000), end)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	headerKey := bytes.Repeat([]byte{0x11}, 32)
	plain := make([]byte, HeaderSize)
	copy(plain[0x200:0x204], []byte("XXXX"))
	encrypted := encryptHeader(t, plain, headerKey)

	_, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.Error(t, err)
}

func TestDecryptKeyAreaWithoutRightsID(t *testing.T) {
	plain := buildPlainHeader(t)
	headerKey := bytes.Repeat([]byte{0x42}, 32)

	kaek := bytes.Repeat([]byte{0x07}, 16)
	var plainSlot [16]byte
	copy(plainSlot[:], []byte("0123456789ABCDEF"))
	encSlot, err := crypto.ECBEncrypt(plainSlot[:], kaek)
	require.NoError(t, err)
	copy(plain[0x300:0x310], encSlot)

	encrypted := encryptHeader(t, plain, headerKey)
	h, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.NoError(t, err)

	b := keys.NewVaultBuilder()
	keyFile := fmt.Sprintf("key_area_key_application_%02x = %s\n", h.Generation(), hex.EncodeToString(kaek))
	_, err = b.LoadKeyFile([]byte(keyFile))
	require.NoError(t, err)
	vault := b.Vault()

	require.NoError(t, h.DecryptKeyArea(vault, nil))
	require.Equal(t, plainSlot[:], h.DecryptedKeyArea[0])
}

func TestDecryptKeyAreaWithRightsIDUsesTicketTitleKey(t *testing.T) {
	plain := buildPlainHeader(t)
	copy(plain[0x230:0x240], bytes.Repeat([]byte{0x01}, 16))
	headerKey := bytes.Repeat([]byte{0x42}, 32)
	encrypted := encryptHeader(t, plain, headerKey)

	h, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.NoError(t, err)

	titleKey := bytes.Repeat([]byte{0x99}, 16)
	require.NoError(t, h.DecryptKeyArea(nil, titleKey))
	require.Equal(t, titleKey, h.DecryptedKeyArea[2])
}

func TestOpenSectionNonePassesThrough(t *testing.T) {
	plain := buildPlainHeader(t)
	headerKey := bytes.Repeat([]byte{0x42}, 32)
	encrypted := encryptHeader(t, plain, headerKey)

	h, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, 0x800)
	archive := make([]byte, 0x1000)
	copy(archive[0x800:], payload)

	sr, err := h.OpenSection(memReaderAt(archive), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0x800), sr.Size())

	out := make([]byte, 0x10)
	n, err := sr.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, 0x10, n)
	require.Equal(t, payload[:0x10], out)
}
