// Package ncz implements the compressed-archive output container used
// when repackaging content for distribution: a compact NCZ stream
// (an NSZ-style container wrapping zstd-compressed blocks plus the
// per-section decryption metadata a reader needs to reconstruct the
// original decrypted bytes on the fly). Builds its section table from
// pkg/nca.Header, and compresses with an errgroup-bounded worker pool.
package ncz

import (
	"encoding/binary"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
)

const (
	MagicNSZ      = "NSZ%"
	MagicNCZSECTN = "NCZSECTN"
	MagicNCZBLOCK = "NCZBLOCK"

	DefaultBlockSizeExp     = 20 // 1 MiB blocks
	DefaultCompressionLevel = 18
)

// Header is the container-level NSZ header.
type Header struct {
	Magic        [4]byte
	Version      uint32
	BlockSizeExp uint32
	SectionCount uint32
	DataOffset   uint64
}

// NewHeader builds a single-section NSZ header with the given block size
// exponent.
func NewHeader(blockSizeExp uint32) *Header {
	h := &Header{BlockSizeExp: blockSizeExp, SectionCount: 1}
	copy(h.Magic[:], MagicNSZ)
	return h
}

// Write serializes h to w.
func (h *Header) Write(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return corecb.New(corecb.KindStorage, "ncz.Header.Write", err)
	}
	return nil
}

// SectionEntry records one content-archive section's crypt parameters so
// a streaming reader can decrypt compressed blocks without re-parsing the
// archive header.
type SectionEntry struct {
	Offset        uint64
	Size          uint64
	CryptoType    uint64
	Padding       uint64
	CryptoKey     [16]byte
	CryptoCounter [16]byte
}

type sectionTableHeader struct {
	Magic        [8]byte
	SectionCount uint64
}

// WriteSectionTable writes the NCZSECTN table describing every encrypted
// section of the archive being compressed.
func WriteSectionTable(w io.Writer, sections []SectionEntry) error {
	var h sectionTableHeader
	copy(h.Magic[:], MagicNCZSECTN)
	h.SectionCount = uint64(len(sections))

	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return corecb.New(corecb.KindStorage, "ncz.WriteSectionTable", err)
	}
	for _, s := range sections {
		if err := binary.Write(w, binary.LittleEndian, s); err != nil {
			return corecb.New(corecb.KindStorage, "ncz.WriteSectionTable", err)
		}
	}
	return nil
}

// BlockHeader describes the compressed-block layout that follows the
// section table.
type BlockHeader struct {
	Magic            [8]byte
	Version          uint8
	Type             uint8
	Unused           uint8
	BlockSizeExp     uint8
	BlockCount       uint32
	DecompressedSize uint64
}

// NewBlockHeader builds a version-2 type-1 block header for blockCount
// blocks of 2^blockSizeExp bytes covering decompressedSize total bytes.
func NewBlockHeader(blockSizeExp uint8, blockCount uint32, decompressedSize uint64) BlockHeader {
	h := BlockHeader{
		Version:          2,
		Type:             1,
		BlockSizeExp:     blockSizeExp,
		BlockCount:       blockCount,
		DecompressedSize: decompressedSize,
	}
	copy(h.Magic[:], MagicNCZBLOCK)
	return h
}
