package hashfs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/crypto"
)

// buildHfs0 constructs a minimal single-entry HFS0 image with a payload
// whose first hashedRegionSize bytes hash to the recorded digest.
func buildHfs0(t *testing.T, name string, payload []byte, hashedRegionSize int) []byte {
	t.Helper()

	digest := crypto.SHA256(payload[:hashedRegionSize])

	nameBytes := append([]byte(name), 0x00)
	stringTable := nameBytes

	var entry [entrySize]byte
	binary.LittleEndian.PutUint64(entry[0x00:0x08], 0)
	binary.LittleEndian.PutUint64(entry[0x08:0x10], uint64(len(payload)))
	binary.LittleEndian.PutUint32(entry[0x10:0x14], 0)
	binary.LittleEndian.PutUint32(entry[0x14:0x18], uint32(hashedRegionSize))
	copy(entry[0x20:0x40], digest[:])

	var header [headerFixedSize]byte
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(stringTable)))

	var buf bytes.Buffer
	buf.Write(header[:])
	buf.Write(entry[:])
	buf.Write(stringTable)
	buf.Write(payload)
	return buf.Bytes()
}

func TestHashFsIntegrityHolds(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 0x100)
	img := buildHfs0(t, "file.bin", payload, 0x80)

	r, err := Open(bytes.NewReader(img), 0)
	require.NoError(t, err)
	require.Equal(t, 1, r.Count())

	e, ok := r.EntryByName("file.bin")
	require.True(t, ok)
	require.NoError(t, r.Verify(e))
}

func TestHashFsBitFlipIsDetected(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 0x100)
	img := buildHfs0(t, "file.bin", payload, 0x80)
	payloadStart := len(img) - len(payload)
	img[payloadStart] ^= 0xFF // flip the first byte of the payload, inside the hashed region

	r, err := Open(bytes.NewReader(img), 0)
	require.NoError(t, err)

	e, ok := r.EntryByName("file.bin")
	require.True(t, ok)
	require.Error(t, r.Verify(e))
}

func TestEntryByNameMissingReturnsFalse(t *testing.T) {
	img := buildHfs0(t, "file.bin", []byte{0x01}, 1)
	r, err := Open(bytes.NewReader(img), 0)
	require.NoError(t, err)

	_, ok := r.EntryByName("nope.bin")
	require.False(t, ok)
}

func TestVerifyAllMarksEntries(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 0x40)
	img := buildHfs0(t, "a.bin", payload, 0x40)
	r, err := Open(bytes.NewReader(img), 0)
	require.NoError(t, err)

	require.NoError(t, r.VerifyAll())
	e, _ := r.EntryAt(0)
	require.True(t, e.Verified)
}
