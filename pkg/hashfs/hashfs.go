// Package hashfs parses the Hash FS (HFS0) partition container used at the
// cartridge level: a PFS0-shaped header whose entries each carry a
// hashed-region digest linking the parent archive to the child
// partition's integrity. Reads through an io.ReaderAt rather than only
// *os.File so a section reader or any other seekable source works.
package hashfs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

const (
	magic           = "HFS0"
	headerFixedSize = 0x10
	entrySize       = 0x40
)

// Entry is one HFS0 directory entry: name, absolute offset and size, the
// hashed-region fields used to verify it, and whether that verification
// has been run and passed.
type Entry struct {
	Name              string
	Offset            int64 // absolute, relative to the containing storage
	Size              int64
	HashedRegionSize  int64
	HashedRegionSha256 [32]byte
	Verified          bool
}

// PartitionType enumerates gamecard.h's
// GameCardHashFileSystemPartitionType, the cartridge-level partitions that
// are each an HFS0 root.
type PartitionType int

const (
	PartitionRoot PartitionType = iota
	PartitionUpdate
	PartitionLogo
	PartitionNormal
	PartitionSecure
	PartitionBoot
)

// Reader parses an HFS0 header rooted at baseOffset in storage and holds
// its entries for index- or name-based lookup.
type Reader struct {
	storage    io.ReaderAt
	baseOffset int64
	entries    []Entry
	dataOffset int64
}

// Open reads and validates the HFS0 header at baseOffset within storage. It
// does not verify any entry's hashed region; call Verify or VerifyAll for
// that.
func Open(storage io.ReaderAt, baseOffset int64) (*Reader, error) {
	fixed := make([]byte, headerFixedSize)
	if _, err := storage.ReadAt(fixed, baseOffset); err != nil {
		return nil, corecb.New(corecb.KindStorage, "hashfs.Open", err)
	}
	if string(fixed[0:4]) != magic {
		return nil, corecb.New(corecb.KindParse, "hashfs.Open", fmt.Errorf("bad magic %q, want %q", fixed[0:4], magic))
	}
	numFiles := binary.LittleEndian.Uint32(fixed[4:8])
	stringTableSize := binary.LittleEndian.Uint32(fixed[8:12])

	entriesRaw := make([]byte, int(numFiles)*entrySize)
	if _, err := storage.ReadAt(entriesRaw, baseOffset+headerFixedSize); err != nil {
		return nil, corecb.New(corecb.KindStorage, "hashfs.Open", err)
	}

	stringTableOffset := baseOffset + headerFixedSize + int64(len(entriesRaw))
	stringTable := make([]byte, stringTableSize)
	if stringTableSize > 0 {
		if _, err := storage.ReadAt(stringTable, stringTableOffset); err != nil {
			return nil, corecb.New(corecb.KindStorage, "hashfs.Open", err)
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
		hashedRegionSize := int64(binary.LittleEndian.Uint32(rec[0x14:0x18]))
		var digest [32]byte
		copy(digest[:], rec[0x20:0x40])

		name, err := readCString(stringTable, nameOff)
		if err != nil {
			return nil, corecb.New(corecb.KindParse, "hashfs.Open", err)
		}

		entries[i] = Entry{
			Name:               name,
			Offset:             dataOffset + dataOff,
			Size:               dataSize,
			HashedRegionSize:   hashedRegionSize,
			HashedRegionSha256: digest,
		}
	}

	return &Reader{storage: storage, baseOffset: baseOffset, entries: entries, dataOffset: dataOffset}, nil
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

// Count returns the number of entries in this partition.
func (r *Reader) Count() int { return len(r.entries) }

// EntryAt returns the entry at index i without verifying its hashed
// region.
func (r *Reader) EntryAt(i int) (Entry, error) {
	if i < 0 || i >= len(r.entries) {
		return Entry{}, corecb.New(corecb.KindParse, "hashfs.EntryAt", fmt.Errorf("index %d out of range (%d entries)", i, len(r.entries)))
	}
	return r.entries[i], nil
}

// EntryByName performs an exact ASCII lookup.
func (r *Reader) EntryByName(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Verify checks entry e's hashed region (the first HashedRegionSize bytes
// of its payload) against HashedRegionSha256, returning an Integrity error
// on mismatch. The entry slice held by the Reader is not mutated; callers
// that want the Verified flag set should use VerifyAll.
func (r *Reader) Verify(e Entry) error {
	if e.HashedRegionSize == 0 {
		return nil
	}
	region := make([]byte, e.HashedRegionSize)
	if _, err := r.storage.ReadAt(region, e.Offset); err != nil {
		return corecb.New(corecb.KindStorage, "hashfs.Verify", err)
	}
	got := crypto.SHA256(region)
	if got != e.HashedRegionSha256 {
		return corecb.New(corecb.KindIntegrity, "hashfs.Verify", fmt.Errorf("hashed region mismatch for %q", e.Name))
	}
	return nil
}

// VerifyAll verifies every entry in place, setting Verified on each. It
// returns the first Integrity error encountered, if any, but still finishes
// marking every entry it could check.
func (r *Reader) VerifyAll() error {
	var firstErr error
	for i := range r.entries {
		err := r.Verify(r.entries[i])
		r.entries[i].Verified = err == nil
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Entries returns a copy of the parsed entry list.
func (r *Reader) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
