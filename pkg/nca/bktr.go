package nca

import (
	"encoding/binary"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

// BktrHeader is the relocation/subsection table descriptor embedded in an
// FS header's bytes 0x100-0x120 (relocation) or 0x120-0x140 (subsection).
type BktrHeader struct {
	Offset     uint64
	Size       uint64
	Magic      [4]byte
	Version    uint32
	EntryCount uint32
}

func parseBktrHeader(data []byte) *BktrHeader {
	if len(data) < 0x20 {
		return nil
	}
	h := &BktrHeader{
		Offset:     binary.LittleEndian.Uint64(data[0:8]),
		Size:       binary.LittleEndian.Uint64(data[8:16]),
		Version:    binary.LittleEndian.Uint32(data[20:24]),
		EntryCount: binary.LittleEndian.Uint32(data[24:28]),
	}
	copy(h.Magic[:], data[16:20])
	return h
}

// BktrEntry is one relocation range: bytes at VirtualOffset..+Size inside
// the section's post-relocation view were encrypted with counter Ctr.
type BktrEntry struct {
	VirtualOffset int64
	Size          int64
	Ctr           uint32
}

// BktrBucket groups entries the same way the on-disk bucket table does.
type BktrBucket struct {
	EntryCount uint32
	EndOffset  uint64
	Entries    []BktrEntry
}

// ParseBktrSubsectionBuckets reads and decrypts the subsection bucket table
// (itself CTR-encrypted with the section's base counter), then computes
// each entry's size from the gap to the next entry's VirtualOffset,
// producing the sorted set of ranges the BKTR crypt type rewrites block
// offsets against.
func ParseBktrSubsectionBuckets(r io.ReaderAt, sectionOffset int64, header *BktrHeader, key, baseCounter []byte) ([]BktrBucket, error) {
	if header == nil || header.Size == 0 {
		return nil, nil
	}
	if key == nil || len(baseCounter) < 16 {
		return nil, corecb.New(corecb.KindParse, "nca.ParseBktrSubsectionBuckets", errMissingBktrKey)
	}

	dataOffset := sectionOffset + int64(header.Offset)
	raw := make([]byte, header.Size)
	if _, err := r.ReadAt(raw, dataOffset); err != nil {
		return nil, corecb.New(corecb.KindStorage, "nca.ParseBktrSubsectionBuckets", err)
	}

	stream, err := crypto.NewCTRStream(key, baseCounter, dataOffset)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "nca.ParseBktrSubsectionBuckets", err)
	}
	stream.XORKeyStream(raw, raw)

	if len(raw) < 16 {
		return nil, nil
	}
	bucketCount := binary.LittleEndian.Uint32(raw[4:8])
	if bucketCount == 0 || bucketCount > 100 {
		return nil, nil
	}

	const tableHeaderSize = 16 + 0x3FF0
	if len(raw) < tableHeaderSize {
		return nil, nil
	}

	buckets := make([]BktrBucket, 0, bucketCount)
	pos := tableHeaderSize
	for i := uint32(0); i < bucketCount; i++ {
		if pos+16 > len(raw) {
			break
		}
		bucket := BktrBucket{
			EntryCount: binary.LittleEndian.Uint32(raw[pos+4 : pos+8]),
			EndOffset:  binary.LittleEndian.Uint64(raw[pos+8 : pos+16]),
		}
		if bucket.EntryCount > 0xFFFF {
			break
		}
		entriesStart := pos + 16
		for j := uint32(0); j < bucket.EntryCount; j++ {
			ep := entriesStart + int(j)*16
			if ep+16 > len(raw) {
				break
			}
			bucket.Entries = append(bucket.Entries, BktrEntry{
				VirtualOffset: int64(binary.LittleEndian.Uint64(raw[ep : ep+8])),
				Ctr:           binary.LittleEndian.Uint32(raw[ep+12 : ep+16]),
			})
		}
		for j := 0; j < len(bucket.Entries)-1; j++ {
			bucket.Entries[j].Size = bucket.Entries[j+1].VirtualOffset - bucket.Entries[j].VirtualOffset
		}
		if n := len(bucket.Entries); n > 0 {
			bucket.Entries[n-1].Size = int64(bucket.EndOffset) - bucket.Entries[n-1].VirtualOffset
		}
		buckets = append(buckets, bucket)
		pos = entriesStart + int(bucket.EntryCount)*16
	}

	return buckets, nil
}

// bktrCounter builds the 16-byte base counter for a given relocation
// entry's Ctr value: bytes 4-7 replaced with Ctr big-endian.
func bktrCounter(base []byte, ctr uint32) []byte {
	counter := make([]byte, 16)
	copy(counter, base)
	binary.BigEndian.PutUint32(counter[4:8], ctr)
	return counter
}
