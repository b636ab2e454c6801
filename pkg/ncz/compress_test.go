package ncz

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/nca"
)

type memReaderAt []byte

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, nil
	}
	n := copy(p, m[off:])
	return n, nil
}

type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func buildSinglePlainSectionHeader() *nca.Header {
	h := &nca.Header{}
	h.SectionTables[0] = nca.SectionEntry{MediaStartOffset: 0x20, MediaEndOffset: 0x28}
	h.FsHeaders[0].CryptoType = nca.CryptoTypeNone
	return h
}

func buildSingleCtrSectionHeader(counter [8]byte, titleKey []byte) *nca.Header {
	h := &nca.Header{}
	h.SectionTables[0] = nca.SectionEntry{MediaStartOffset: 0x20, MediaEndOffset: 0x28}
	h.FsHeaders[0].CryptoType = nca.CryptoTypeCTR
	h.FsHeaders[0].CryptoCounter = counter
	h.DecryptedKeyArea[2] = titleKey
	return h
}

func TestBuildSectionTablePlainSection(t *testing.T) {
	h := buildSinglePlainSectionHeader()
	sections, err := BuildSectionTable(memReaderAt{}, h)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, uint64(0x20*nca.MediaUnitSize), sections[0].Offset)
	require.Equal(t, uint64(0x8*nca.MediaUnitSize), sections[0].Size)
	require.Equal(t, uint64(nca.CryptoTypeNone), sections[0].CryptoType)
}

func TestBuildSectionTableCtrSectionCarriesTitleKey(t *testing.T) {
	titleKey := bytes.Repeat([]byte{0x09}, 16)
	h := buildSingleCtrSectionHeader([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, titleKey)

	sections, err := BuildSectionTable(memReaderAt{}, h)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, uint64(nca.CryptoTypeCTR), sections[0].CryptoType)
	require.Equal(t, titleKey, sections[0].CryptoKey[:])
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, sections[0].CryptoCounter[:8])
}

func TestCompressArchiveProducesExpectedShape(t *testing.T) {
	headerSize := int64(0x100)
	dataSize := int64(3*0x40 + 0x10) // 3 full blocks + a short tail
	total := make([]byte, headerSize+dataSize)
	for i := range total {
		total[i] = byte(i)
	}

	sections := []SectionEntry{{Offset: uint64(headerSize), Size: uint64(dataSize), CryptoType: uint64(nca.CryptoTypeNone)}}

	var out memWriteSeeker
	written, err := CompressArchive(context.Background(), memReaderAt(total), &out, sections, headerSize, int64(len(total)), 6 /* 64-byte blocks */, 3)
	require.NoError(t, err)
	require.Equal(t, int64(len(out.buf)), written)

	require.Equal(t, total[:headerSize], out.buf[:headerSize])

	sectionHeaderOffset := headerSize
	require.Equal(t, MagicNCZSECTN, string(out.buf[sectionHeaderOffset:sectionHeaderOffset+8]))
}

func TestCompressArchiveRespectsCancellation(t *testing.T) {
	headerSize := int64(0x10)
	dataSize := int64(0x200)
	total := make([]byte, headerSize+dataSize)

	var out memWriteSeeker
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CompressArchive(ctx, memReaderAt(total), &out, nil, headerSize, int64(len(total)), 6, 3)
	require.Error(t, err)
}
