// Package cnmt parses content-metadata records and assembles them into
// the in-memory content graph pkg/title links applications,
// patches and add-ons through. Field offsets are grounded on the
// retrieved ParseCNMT reference reader, generalized from a direct-file
// byte reader to decoding an in-memory buffer so it composes with a
// PFS0-hosted meta entry instead of requiring a file on disk.
package cnmt

import (
	"encoding/binary"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// ContentType distinguishes the purpose of a ContentRecord's payload.
type ContentType byte

const (
	ContentTypeMeta          ContentType = 0
	ContentTypeProgram       ContentType = 1
	ContentTypeData          ContentType = 2
	ContentTypeControl       ContentType = 3
	ContentTypeHtmlDocument  ContentType = 4
	ContentTypeLegalInformation ContentType = 5
	ContentTypeDeltaFragment ContentType = 6
)

// MetaType is the title kind a content-metadata record describes.
type MetaType byte

const (
	MetaTypeSystemProgram MetaType = 0x01
	MetaTypeSystemData    MetaType = 0x02
	MetaTypeSystemUpdate  MetaType = 0x03
	MetaTypeBootImagePkg  MetaType = 0x04
	MetaTypeBootImagePkgSafe MetaType = 0x05
	MetaTypeApplication   MetaType = 0x80
	MetaTypePatch         MetaType = 0x81
	MetaTypeAddOnContent  MetaType = 0x82
	MetaTypeDelta         MetaType = 0x83
)

// ContentRecord is one 0x38-byte content entry: the hash and id of a
// content archive belonging to this title, its size, and its purpose.
type ContentRecord struct {
	NcaID    [16]byte
	Hash     [32]byte
	Size     uint64 // 48-bit on disk
	Type     ContentType
	IDOffset byte
}

// ExtendedHeader carries the type-specific fields that follow the fixed
// header, present only for Patch and Application meta types.
type ExtendedHeader struct {
	PatchTitleID    uint64 // Patch: base application this patch applies to
	MinimumSystemVersion uint64
	MinimumApplicationVersion uint32 // Application only
}

// Meta is one parsed content-metadata record: the fixed header, its
// type-specific extended header (zero value if not applicable), and the
// per-content records that follow.
type Meta struct {
	TitleID             uint64
	Version             uint32
	Type                MetaType
	ExtendedHeaderSize  uint16
	ContentCount        uint16
	ContentMetaCount    uint16
	RequiredDownloadSystemVersion uint32
	Attributes          byte
	Extended            ExtendedHeader
	Contents            []ContentRecord
	SubTitles           []MetaRecord
}

// MetaRecord models a content-meta-table "sub-title" entry: a nested
// reference to another title/version/type a meta record points at
// (patches and delta fragments chain through these), kept distinct from
// ContentRecord since it references another meta record rather than an
// archive payload.
type MetaRecord struct {
	TitleID uint64
	Version uint32
	Type    MetaType
}

const (
	fixedHeaderSize     = 0x20
	contentRecordSize   = 0x38
	metaRecordTableSize = 0x10
)

// Parse decodes a full .cnmt file buffer: fixed header, type-specific
// extended header, content records, and any trailing content-meta
// (sub-title) table.
func Parse(buf []byte) (*Meta, error) {
	if len(buf) < fixedHeaderSize {
		return nil, corecb.New(corecb.KindParse, "cnmt.Parse", errTooShort)
	}

	m := &Meta{
		TitleID:            binary.LittleEndian.Uint64(buf[0x00:0x08]),
		Version:            binary.LittleEndian.Uint32(buf[0x08:0x0C]),
		Type:               MetaType(buf[0x0C]),
		ExtendedHeaderSize: binary.LittleEndian.Uint16(buf[0x0E:0x10]),
		ContentCount:       binary.LittleEndian.Uint16(buf[0x10:0x12]),
		ContentMetaCount:   binary.LittleEndian.Uint16(buf[0x12:0x14]),
		Attributes:         buf[0x14],
		RequiredDownloadSystemVersion: binary.LittleEndian.Uint32(buf[0x18:0x1C]),
	}

	extOffset := fixedHeaderSize
	if extOffset+int(m.ExtendedHeaderSize) > len(buf) {
		return nil, corecb.New(corecb.KindParse, "cnmt.Parse", errExtendedHeaderOutOfRange)
	}
	ext := buf[extOffset : extOffset+int(m.ExtendedHeaderSize)]

	switch m.Type {
	case MetaTypePatch, MetaTypeDelta:
		if len(ext) >= 0x10 {
			m.Extended.PatchTitleID = binary.LittleEndian.Uint64(ext[0x00:0x08])
			m.Extended.MinimumSystemVersion = binary.LittleEndian.Uint64(ext[0x08:0x10])
		}
	case MetaTypeApplication:
		if len(ext) >= 0x4 {
			m.Extended.MinimumApplicationVersion = binary.LittleEndian.Uint32(ext[0x00:0x04])
		}
	}

	contentsOffset := extOffset + int(m.ExtendedHeaderSize)
	for i := 0; i < int(m.ContentCount); i++ {
		off := contentsOffset + i*contentRecordSize
		if off+contentRecordSize > len(buf) {
			return nil, corecb.New(corecb.KindParse, "cnmt.Parse", errContentRecordOutOfRange)
		}
		rec := buf[off : off+contentRecordSize]
		var cr ContentRecord
		copy(cr.Hash[:], rec[0x00:0x20])
		copy(cr.NcaID[:], rec[0x20:0x30])
		cr.Size = readUint48LE(rec[0x30:0x36])
		cr.Type = ContentType(rec[0x36])
		cr.IDOffset = rec[0x37]
		m.Contents = append(m.Contents, cr)
	}

	subOffset := contentsOffset + int(m.ContentCount)*contentRecordSize
	for i := 0; i < int(m.ContentMetaCount); i++ {
		off := subOffset + i*metaRecordTableSize
		if off+metaRecordTableSize > len(buf) {
			break
		}
		rec := buf[off : off+metaRecordTableSize]
		m.SubTitles = append(m.SubTitles, MetaRecord{
			TitleID: binary.LittleEndian.Uint64(rec[0x00:0x08]),
			Version: binary.LittleEndian.Uint32(rec[0x08:0x0C]),
			Type:    MetaType(rec[0x0C]),
		})
	}

	return m, nil
}

func readUint48LE(b []byte) uint64 {
	var v uint64
	for i := 5; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v
}
