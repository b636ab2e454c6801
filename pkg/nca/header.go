// Package nca implements the content archive component: header decrypt,
// section-reader factory for the four crypt types, key-area decryption,
// program-archive header rewrite, and metadata-archive extraction. Takes
// a *keys.Vault explicitly rather than reaching for a package-global
// lookup, and supports the BKTR "virtual view" section type alongside
// the header-rewrite operations.
package nca

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

const (
	HeaderSize     = 0xC00
	FullHeaderSize = 0x4000 // header + padding, as stored uncompressed by nsz-style packers
	MediaUnitSize  = 0x200

	MagicNCA2 = "NCA2"
	MagicNCA3 = "NCA3"

	CryptoTypeNone = 1
	CryptoTypeXTS  = 2
	CryptoTypeCTR  = 3
	CryptoTypeBKTR = 4

	ContentTypeProgram = 0
	ContentTypeMeta     = 1
)

// SectionEntry is one of the header's 4 section tables, media units
// relative to archive start.
type SectionEntry struct {
	MediaStartOffset uint32
	MediaEndOffset   uint32
	Unknown1         uint32
	Unknown2         uint32
}

func (s SectionEntry) present() bool { return s.MediaStartOffset != 0 || s.MediaEndOffset != 0 }

// FsHeader is one of the header's 4 per-section FS headers (0x200 bytes
// each, at 0x400/0x600/0x800/0xA00).
type FsHeader struct {
	Version        uint16
	FsType         uint8
	HashType       uint8
	CryptoType     uint8
	CryptoCounter  [8]byte
	BktrRelocation *BktrHeader
	BktrSubsection *BktrHeader
}

// Header is the decrypted 0xC00-byte archive header.
type Header struct {
	FixedKeySig   [0x100]byte
	NpdmSignature [0x100]byte
	Magic         [4]byte
	DistType      byte
	ContentType   byte
	KeyGeneration byte
	KeyAreaIndex  byte
	ContentSize   uint64
	ProgID        uint64
	ContentIdx    uint32
	SdkAddonVer   uint32
	KeyGeneration2 byte
	RightsID      [0x10]byte
	SectionTables [4]SectionEntry
	KeyArea       [4][0x10]byte // 4 encrypted 16-byte key slots

	FsHeaders [4]FsHeader

	// DecryptedKeyArea holds the per-slot decrypted keys once
	// DecryptKeyArea has been run; nil until then.
	DecryptedKeyArea [4][]byte

	decrypted []byte // full decrypted 0xC00 bytes, kept for the rewrite path
}

// Generation is the key-area generation this archive selects: g =
// max(crypto_type, crypto_type2), adjusted down by 1 if non-zero.
func (h *Header) Generation() int {
	g := int(h.KeyGeneration)
	if int(h.KeyGeneration2) > g {
		g = int(h.KeyGeneration2)
	}
	if g > 0 {
		g--
	}
	return g
}

// ParseHeader decrypts bytes [0, 0xC00) of r with AES-XTS (sector size
// 0x200, sector index starting at 0) using headerKey, then parses the
// plaintext structures.
func ParseHeader(r io.ReaderAt, headerKey []byte) (*Header, error) {
	encrypted := make([]byte, HeaderSize)
	if _, err := r.ReadAt(encrypted, 0); err != nil {
		return nil, corecb.New(corecb.KindStorage, "nca.ParseHeader", err)
	}

	decrypted := make([]byte, HeaderSize)
	for i := 0; i < HeaderSize/crypto.XTSSectorSize; i++ {
		start := i * crypto.XTSSectorSize
		end := start + crypto.XTSSectorSize
		out, err := crypto.XTSDecrypt(encrypted[start:end], headerKey, uint64(i))
		if err != nil {
			return nil, corecb.New(corecb.KindCrypto, "nca.ParseHeader", fmt.Errorf("sector %d: %w", i, err))
		}
		copy(decrypted[start:end], out)
	}

	var h Header
	h.decrypted = decrypted
	copy(h.FixedKeySig[:], decrypted[0x000:0x100])
	copy(h.NpdmSignature[:], decrypted[0x100:0x200])
	copy(h.Magic[:], decrypted[0x200:0x204])

	if string(h.Magic[:]) != MagicNCA3 && string(h.Magic[:]) != MagicNCA2 {
		return nil, corecb.New(corecb.KindUnsupported, "nca.ParseHeader", fmt.Errorf("unsupported archive magic %q", h.Magic))
	}

	h.DistType = decrypted[0x204]
	h.ContentType = decrypted[0x205]
	h.KeyGeneration = decrypted[0x206]
	h.KeyAreaIndex = decrypted[0x207]
	h.ContentSize = binary.LittleEndian.Uint64(decrypted[0x208:0x210])
	h.ProgID = binary.LittleEndian.Uint64(decrypted[0x210:0x218])
	h.ContentIdx = binary.LittleEndian.Uint32(decrypted[0x218:0x21C])
	h.SdkAddonVer = binary.LittleEndian.Uint32(decrypted[0x21C:0x220])
	h.KeyGeneration2 = decrypted[0x220]
	copy(h.RightsID[:], decrypted[0x230:0x240])

	for i := 0; i < 4; i++ {
		off := 0x240 + i*16
		h.SectionTables[i] = SectionEntry{
			MediaStartOffset: binary.LittleEndian.Uint32(decrypted[off : off+4]),
			MediaEndOffset:   binary.LittleEndian.Uint32(decrypted[off+4 : off+8]),
			Unknown1:         binary.LittleEndian.Uint32(decrypted[off+8 : off+12]),
			Unknown2:         binary.LittleEndian.Uint32(decrypted[off+12 : off+16]),
		}
	}

	for i := 0; i < 4; i++ {
		copy(h.KeyArea[i][:], decrypted[0x300+i*16:0x300+i*16+16])
	}

	for i := 0; i < 4; i++ {
		off := 0x400 + i*0x200
		data := decrypted[off : off+0x200]
		var fh FsHeader
		fh.Version = binary.LittleEndian.Uint16(data[0x0:0x2])
		fh.FsType = data[0x3]
		fh.HashType = data[0x2]
		fh.CryptoType = data[0x4]
		copy(fh.CryptoCounter[:], data[0x140:0x148])
		if fh.CryptoType == CryptoTypeBKTR {
			fh.BktrRelocation = parseBktrHeader(data[0x100:0x120])
			fh.BktrSubsection = parseBktrHeader(data[0x120:0x140])
		}
		h.FsHeaders[i] = fh
	}

	return &h, nil
}

// SectionByteRange returns the absolute [start, end) byte range of section
// i, or ok=false if that section table entry is empty.
func (h *Header) SectionByteRange(i int) (start, end int64, ok bool) {
	e := h.SectionTables[i]
	if !e.present() {
		return 0, 0, false
	}
	return int64(e.MediaStartOffset) * MediaUnitSize, int64(e.MediaEndOffset) * MediaUnitSize, true
}
