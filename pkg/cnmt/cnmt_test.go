package cnmt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildCnmt(t *testing.T, metaType MetaType, titleID uint64, extHdr []byte, contents []ContentRecord) []byte {
	t.Helper()

	var buf bytes.Buffer
	var header [fixedHeaderSize]byte
	binary.LittleEndian.PutUint64(header[0x00:0x08], titleID)
	binary.LittleEndian.PutUint32(header[0x08:0x0C], 0x00030000)
	header[0x0C] = byte(metaType)
	binary.LittleEndian.PutUint16(header[0x0E:0x10], uint16(len(extHdr)))
	binary.LittleEndian.PutUint16(header[0x10:0x12], uint16(len(contents)))
	binary.LittleEndian.PutUint16(header[0x12:0x14], 0)
	buf.Write(header[:])
	buf.Write(extHdr)

	for _, cr := range contents {
		var rec [contentRecordSize]byte
		copy(rec[0x00:0x20], cr.Hash[:])
		copy(rec[0x20:0x30], cr.NcaID[:])
		size := cr.Size
		for i := 0; i < 6; i++ {
			rec[0x30+i] = byte(size)
			size >>= 8
		}
		rec[0x36] = byte(cr.Type)
		rec[0x37] = cr.IDOffset
		buf.Write(rec[:])
	}

	return buf.Bytes()
}

func TestParseApplicationHeaderAndContents(t *testing.T) {
	var ext [4]byte
	binary.LittleEndian.PutUint32(ext[:], 0x000A0000)

	var cr ContentRecord
	cr.NcaID[0] = 0xAB
	cr.Hash[0] = 0xCD
	cr.Size = 0x123456
	cr.Type = ContentTypeProgram

	raw := buildCnmt(t, MetaTypeApplication, 0x01007EF00011E000, ext[:], []ContentRecord{cr})

	meta, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(0x01007EF00011E000), meta.TitleID)
	require.Equal(t, MetaTypeApplication, meta.Type)
	require.Equal(t, uint32(0x000A0000), meta.Extended.MinimumApplicationVersion)
	require.Len(t, meta.Contents, 1)
	require.Equal(t, uint64(0x123456), meta.Contents[0].Size)
	require.Equal(t, ContentTypeProgram, meta.Contents[0].Type)
	require.Equal(t, byte(0xAB), meta.Contents[0].NcaID[0])
}

func TestParsePatchExtendedHeaderCarriesBaseTitle(t *testing.T) {
	var ext [0x10]byte
	binary.LittleEndian.PutUint64(ext[0x00:0x08], 0x01007EF00011E000)
	binary.LittleEndian.PutUint64(ext[0x08:0x10], 0)

	raw := buildCnmt(t, MetaTypePatch, 0x01007EF00011E800, ext[:], nil)

	meta, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(0x01007EF00011E000), meta.Extended.PatchTitleID)
}

func TestParseRejectsTruncatedBuffer(t *testing.T) {
	_, err := Parse([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestGraphLinksPatchToApplication(t *testing.T) {
	g := NewGraph()
	app := &Meta{TitleID: 0x01007EF00011E000, Type: MetaTypeApplication}
	patch := &Meta{TitleID: 0x01007EF00011E800, Type: MetaTypePatch}

	g.Put(app, StorageBuiltinUser)
	patchEntry := g.Put(patch, StorageBuiltinUser)

	g.LinkParents()

	require.NotNil(t, patchEntry.Parent)
	require.Equal(t, app.TitleID, patchEntry.Parent.Meta.TitleID)
}

func TestGraphLeavesOrphanPatchUnlinked(t *testing.T) {
	g := NewGraph()
	patch := &Meta{TitleID: 0x01007EF00011E800, Type: MetaTypePatch}
	entry := g.Put(patch, StorageBuiltinUser)

	g.LinkParents()

	require.Nil(t, entry.Parent)
}
