package nca

import (
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

// SectionReader is the io.ReaderAt a caller reads one of the archive's up
// to 4 sections through; offsets are relative to the section's own start
// (0 == first byte of the section), already decrypted.
type SectionReader interface {
	io.ReaderAt
	Size() int64
}

// passthroughSection serves bytes unmodified — crypt type None.
type passthroughSection struct {
	r         io.ReaderAt
	base      int64
	size      int64
}

func (s *passthroughSection) Size() int64 { return s.size }

func (s *passthroughSection) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > s.size {
		p = p[:s.size-off]
	}
	return s.r.ReadAt(p, s.base+off)
}

// xtsSection decrypts on the fly with AES-XTS, sector size 0x200, sector
// index continuing from the section's own start (sector 0 at section
// offset 0).
type xtsSection struct {
	r    io.ReaderAt
	base int64
	size int64
	key  []byte
}

func (s *xtsSection) Size() int64 { return s.size }

func (s *xtsSection) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	// Align the read to sector boundaries, decrypt the whole window, then
	// slice out exactly what was asked for.
	sectorStart := (off / crypto.XTSSectorSize) * crypto.XTSSectorSize
	sectorEndOff := off + int64(len(p))
	if sectorEndOff > s.size {
		sectorEndOff = s.size
	}
	sectorEnd := ((sectorEndOff + crypto.XTSSectorSize - 1) / crypto.XTSSectorSize) * crypto.XTSSectorSize

	raw := make([]byte, sectorEnd-sectorStart)
	n, err := s.r.ReadAt(raw, s.base+sectorStart)
	if err != nil && n == 0 {
		return 0, corecb.New(corecb.KindStorage, "nca.xtsSection.ReadAt", err)
	}
	raw = raw[:n]

	decrypted := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i += crypto.XTSSectorSize {
		end := i + crypto.XTSSectorSize
		if end > len(raw) {
			end = len(raw)
		}
		sector := uint64((sectorStart + int64(i)) / crypto.XTSSectorSize)
		out, derr := crypto.XTSDecrypt(raw[i:end], s.key, sector)
		if derr != nil {
			return 0, corecb.New(corecb.KindCrypto, "nca.xtsSection.ReadAt", derr)
		}
		decrypted = append(decrypted, out...)
	}

	want := sectorEndOff - off
	start := off - sectorStart
	if start+want > int64(len(decrypted)) {
		want = int64(len(decrypted)) - start
	}
	copied := copy(p, decrypted[start:start+want])
	return copied, nil
}

// ctrSection decrypts with AES-CTR; the 16-byte counter is
// [section_ctr_be(8) || block_offset/0x10(8, big-endian)], continually
// rebuilt per read since the stream must start at the right block for an
// arbitrary offset.
type ctrSection struct {
	r       io.ReaderAt
	base    int64
	size    int64
	key     []byte
	counter []byte // 16-byte base counter (high 8 bytes fixed, low 8 rebuilt per-read)
}

func (s *ctrSection) Size() int64 { return s.size }

func (s *ctrSection) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > s.size {
		p = p[:s.size-off]
	}
	n, err := s.r.ReadAt(p, s.base+off)
	if err != nil && n == 0 {
		return 0, corecb.New(corecb.KindStorage, "nca.ctrSection.ReadAt", err)
	}
	p = p[:n]

	stream, serr := crypto.NewCTRStream(s.key, s.counter, off)
	if serr != nil {
		return 0, corecb.New(corecb.KindCrypto, "nca.ctrSection.ReadAt", serr)
	}
	stream.XORKeyStream(p, p)
	return n, nil
}

// bktrSection composes a ctrSection with a relocation table: reads are
// served against the "virtual" post-relocation view, picking the entry
// whose range contains the requested virtual offset and decrypting with
// that entry's own counter.
type bktrSection struct {
	r       io.ReaderAt
	base    int64
	size    int64
	key     []byte
	base16  []byte
	entries []BktrEntry
}

func (s *bktrSection) Size() int64 { return s.size }

func (s *bktrSection) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > s.size {
		p = p[:s.size-off]
	}

	entry := s.entryFor(off)
	ctr := s.base16
	if entry != nil {
		ctr = bktrCounter(s.base16, entry.Ctr)
	}

	n, err := s.r.ReadAt(p, s.base+off)
	if err != nil && n == 0 {
		return 0, corecb.New(corecb.KindStorage, "nca.bktrSection.ReadAt", err)
	}
	p = p[:n]

	stream, serr := crypto.NewCTRStream(s.key, ctr, off)
	if serr != nil {
		return 0, corecb.New(corecb.KindCrypto, "nca.bktrSection.ReadAt", serr)
	}
	stream.XORKeyStream(p, p)
	return n, nil
}

func (s *bktrSection) entryFor(virtualOffset int64) *BktrEntry {
	for i := range s.entries {
		e := &s.entries[i]
		if virtualOffset >= e.VirtualOffset && virtualOffset < e.VirtualOffset+e.Size {
			return e
		}
	}
	return nil
}

// OpenSection builds the section-i reader, selecting its crypt handling by
// FsHeaders[i].CryptoType. r is the archive's own storage (already covering
// the whole 0xC00+ archive); key area decryption must have already run.
func (h *Header) OpenSection(r io.ReaderAt, i int) (SectionReader, error) {
	if i < 0 || i >= 4 {
		return nil, corecb.New(corecb.KindParse, "nca.OpenSection", errUnknownCryptType)
	}
	start, end, ok := h.SectionByteRange(i)
	if !ok {
		return nil, corecb.New(corecb.KindParse, "nca.OpenSection", errSectionNotPresent(i))
	}
	size := end - start
	fh := h.FsHeaders[i]

	switch fh.CryptoType {
	case CryptoTypeNone:
		return &passthroughSection{r: r, base: start, size: size}, nil

	case CryptoTypeXTS:
		key := append(h.DecryptedKeyArea[0], h.DecryptedKeyArea[1]...)
		return &xtsSection{r: r, base: start, size: size, key: key}, nil

	case CryptoTypeCTR:
		key := h.DecryptedKeyArea[2]
		counter := make([]byte, 16)
		// CryptoCounter is stored big-endian already in the FS header.
		copy(counter[0:8], fh.CryptoCounter[:])
		return &ctrSection{r: r, base: start, size: size, key: key, counter: counter}, nil

	case CryptoTypeBKTR:
		key := h.DecryptedKeyArea[2]
		counter := make([]byte, 16)
		copy(counter[0:8], fh.CryptoCounter[:])
		var entries []BktrEntry
		if fh.BktrSubsection != nil {
			buckets, err := ParseBktrSubsectionBuckets(r, start, fh.BktrSubsection, key, counter)
			if err == nil {
				for _, b := range buckets {
					entries = append(entries, b.Entries...)
				}
			}
		}
		return &bktrSection{r: r, base: start, size: size, key: key, base16: counter, entries: entries}, nil

	default:
		return nil, corecb.New(corecb.KindUnsupported, "nca.OpenSection", errUnknownCryptType)
	}
}
