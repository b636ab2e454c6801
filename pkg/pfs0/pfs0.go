// Package pfs0 implements the partition FS container used inside content
// archive sections and as the content-package output container. Reads
// through any io.ReaderAt — including a section reader that already
// handles on-the-fly decryption — instead of only *os.File, and
// without the hashed-region fields hashfs carries (integrity here is
// supplied out-of-band by the archive's own section hash).
package pfs0

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
)

const (
	magic           = "PFS0"
	headerFixedSize = 0x10
	entrySize       = 0x18
)

// Entry is one partition entry: name plus absolute offset and size within
// the reader it was parsed from.
type Entry struct {
	Name   string
	Offset int64
	Size   int64
}

// Reader holds the parsed entries of one PFS0 container.
type Reader struct {
	source     io.ReaderAt
	baseOffset int64
	entries    []Entry
	dataOffset int64
}

// Open parses the PFS0 header at baseOffset within source.
func Open(source io.ReaderAt, baseOffset int64) (*Reader, error) {
	fixed := make([]byte, headerFixedSize)
	if _, err := source.ReadAt(fixed, baseOffset); err != nil {
		return nil, corecb.New(corecb.KindStorage, "pfs0.Open", err)
	}
	if string(fixed[0:4]) != magic {
		return nil, corecb.New(corecb.KindParse, "pfs0.Open", fmt.Errorf("bad magic %q, want %q", fixed[0:4], magic))
	}
	numFiles := binary.LittleEndian.Uint32(fixed[4:8])
	stringTableSize := binary.LittleEndian.Uint32(fixed[8:12])

	entriesRaw := make([]byte, int(numFiles)*entrySize)
	if numFiles > 0 {
		if _, err := source.ReadAt(entriesRaw, baseOffset+headerFixedSize); err != nil {
			return nil, corecb.New(corecb.KindStorage, "pfs0.Open", err)
		}
	}

	stringTableOffset := baseOffset + headerFixedSize + int64(len(entriesRaw))
	stringTable := make([]byte, stringTableSize)
	if stringTableSize > 0 {
		if _, err := source.ReadAt(stringTable, stringTableOffset); err != nil {
			return nil, corecb.New(corecb.KindStorage, "pfs0.Open", err)
		}
	}

	dataOffset := stringTableOffset + int64(stringTableSize)

	entries := make([]Entry, numFiles)
	for i := uint32(0); i < numFiles; i++ {
		off := int(i) * entrySize
		rec := entriesRaw[off : off+entrySize]

		dataOff := int64(binary.LittleEndian.Uint64(rec[0x00:0x08]))
		dataSize := int64(binary.LittleEndian.Uint64(rec[0x08:0x10]))
		nameOff := binary.LittleEndian.Uint32(rec[0x10:0x14])

		name, err := readCString(stringTable, nameOff)
		if err != nil {
			return nil, corecb.New(corecb.KindParse, "pfs0.Open", err)
		}

		entries[i] = Entry{Name: name, Offset: dataOffset + dataOff, Size: dataSize}
	}

	return &Reader{source: source, baseOffset: baseOffset, entries: entries, dataOffset: dataOffset}, nil
}

func readCString(table []byte, offset uint32) (string, error) {
	if offset >= uint32(len(table)) {
		return "", fmt.Errorf("name offset %d out of bounds (table size %d)", offset, len(table))
	}
	end := offset
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[offset:end]), nil
}

func (r *Reader) Count() int        { return len(r.entries) }
func (r *Reader) Entries() []Entry  { out := make([]Entry, len(r.entries)); copy(out, r.entries); return out }

func (r *Reader) EntryAt(i int) (Entry, error) {
	if i < 0 || i >= len(r.entries) {
		return Entry{}, corecb.New(corecb.KindParse, "pfs0.EntryAt", fmt.Errorf("index %d out of range (%d entries)", i, len(r.entries)))
	}
	return r.entries[i], nil
}

// EntryByName performs an exact match lookup, the same directory-listing
// shape hashfs uses.
func (r *Reader) EntryByName(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// EntryBySuffix finds the single entry whose name ends with suffix — used
// to locate the ".cnmt" entry in a metadata archive's PFS0 section.
func (r *Reader) EntryBySuffix(suffix string) (Entry, bool) {
	for _, e := range r.entries {
		if len(e.Name) >= len(suffix) && e.Name[len(e.Name)-len(suffix):] == suffix {
			return e, true
		}
	}
	return Entry{}, false
}

// OpenEntry returns an io.SectionReader over entry e's bytes, relative to the
// same underlying source the Reader was opened against.
func (r *Reader) OpenEntry(e Entry) *io.SectionReader {
	return io.NewSectionReader(r.source, e.Offset, e.Size)
}
