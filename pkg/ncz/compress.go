package ncz

import (
	"context"
	"encoding/binary"
	"io"
	"runtime"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/nca"
)

// blockEncoderPools holds one sync.Pool of *zstd.Encoder per compression
// level, since block-level compression runs from a pool of goroutines and
// an encoder is not safe for concurrent reuse.
var (
	blockEncoderPools   = make(map[int]*sync.Pool)
	blockEncoderPoolsMu sync.RWMutex
)

func blockEncoderPool(level int) *sync.Pool {
	blockEncoderPoolsMu.RLock()
	pool, ok := blockEncoderPools[level]
	blockEncoderPoolsMu.RUnlock()
	if ok {
		return pool
	}

	blockEncoderPoolsMu.Lock()
	defer blockEncoderPoolsMu.Unlock()
	if pool, ok = blockEncoderPools[level]; ok {
		return pool
	}
	pool = &sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
				zstd.WithEncoderConcurrency(1),
			)
			return enc
		},
	}
	blockEncoderPools[level] = pool
	return pool
}

// compressBlock zstd-compresses one decrypted block, borrowing an encoder
// from the level's pool.
func compressBlock(chunk []byte, level int) []byte {
	pool := blockEncoderPool(level)
	enc := pool.Get().(*zstd.Encoder)
	defer pool.Put(enc)
	return enc.EncodeAll(chunk, make([]byte, 0, len(chunk)))
}

// BuildSectionTable derives the NCZ section-crypt table from a parsed
// archive header, resolving BKTR subsections into their individual
// relocation-entry ranges the same way the archive's own section reader
// does.
func BuildSectionTable(r io.ReaderAt, h *nca.Header) ([]SectionEntry, error) {
	var sections []SectionEntry

	for i := 0; i < 4; i++ {
		start, end, ok := h.SectionByteRange(i)
		if !ok {
			continue
		}
		fh := h.FsHeaders[i]
		baseCounter := make([]byte, 16)
		copy(baseCounter[0:8], fh.CryptoCounter[:])

		titleKey := h.DecryptedKeyArea[2]

		if fh.CryptoType == nca.CryptoTypeBKTR && fh.BktrSubsection != nil && fh.BktrSubsection.Size > 0 {
			buckets, err := nca.ParseBktrSubsectionBuckets(r, start, fh.BktrSubsection, titleKey, baseCounter)
			if err != nil {
				return nil, err
			}
			var lastEnd int64
			for _, bucket := range buckets {
				for _, e := range bucket.Entries {
					if e.Size == 0 {
						continue
					}
					sec := SectionEntry{
						Offset:     uint64(start + e.VirtualOffset),
						Size:       uint64(e.Size),
						CryptoType: nca.CryptoTypeCTR,
					}
					if titleKey != nil {
						copy(sec.CryptoKey[:], titleKey)
					}
					copy(sec.CryptoCounter[:], bktrCounterBytes(baseCounter, e.Ctr))
					sections = append(sections, sec)
					if v := start + e.VirtualOffset + e.Size; v > lastEnd {
						lastEnd = v
					}
				}
			}
			if lastEnd < end {
				tail := SectionEntry{
					Offset:     uint64(lastEnd),
					Size:       uint64(end - lastEnd),
					CryptoType: nca.CryptoTypeCTR,
				}
				if titleKey != nil {
					copy(tail.CryptoKey[:], titleKey)
				}
				copy(tail.CryptoCounter[:], baseCounter)
				sections = append(sections, tail)
			}
			continue
		}

		sec := SectionEntry{
			Offset:     uint64(start),
			Size:       uint64(end - start),
			CryptoType: uint64(fh.CryptoType),
		}
		if fh.CryptoType == nca.CryptoTypeCTR && titleKey != nil {
			copy(sec.CryptoKey[:], titleKey)
		}
		copy(sec.CryptoCounter[:], baseCounter)
		sections = append(sections, sec)
	}

	sort.Slice(sections, func(i, j int) bool { return sections[i].Offset < sections[j].Offset })
	return sections, nil
}

func bktrCounterBytes(base []byte, ctr uint32) []byte {
	out := make([]byte, 16)
	copy(out, base)
	binary.BigEndian.PutUint32(out[4:8], ctr)
	return out
}

// CompressArchive streams an already-rewritten archive's bytes (the
// uncompressible header at the front, then 1<<blockSizeExp-byte blocks of
// the remainder) into the NCZ container shape: header, section table,
// block header, a reserved compressed-size table, then the compressed
// blocks themselves. Returns the total bytes written. Workers read,
// decrypt, and zstd-compress blocks concurrently through an
// errgroup-bounded pool instead of a hand-rolled channel
// pipeline.
func CompressArchive(ctx context.Context, r io.ReaderAt, w io.WriteSeeker, sections []SectionEntry, headerSize, totalSize int64, blockSizeExp uint8, compressionLevel int) (int64, error) {
	startPos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}

	headerBuf := make([]byte, headerSize)
	if _, err := r.ReadAt(headerBuf, 0); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}
	if _, err := w.Write(headerBuf); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}

	if err := WriteSectionTable(w, sections); err != nil {
		return 0, err
	}

	blockSize := int64(1) << blockSizeExp
	dataSize := totalSize - headerSize
	blockCount := uint32((dataSize + blockSize - 1) / blockSize)

	bh := NewBlockHeader(blockSizeExp, blockCount, uint64(dataSize))
	if err := binary.Write(w, binary.LittleEndian, bh); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}

	sizeListOffset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}
	if _, err := w.Write(make([]byte, int64(blockCount)*4)); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}

	blocks, err := compressBlocks(ctx, r, headerSize, totalSize, blockSize, blockCount, sections, compressionLevel)
	if err != nil {
		return 0, err
	}

	compressedSizes := make([]uint32, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		if _, err := w.Write(blocks[i]); err != nil {
			return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
		}
		compressedSizes[i] = uint32(len(blocks[i]))
	}

	endPos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}
	if _, err := w.Seek(sizeListOffset, io.SeekStart); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}
	if err := binary.Write(w, binary.LittleEndian, compressedSizes); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}
	if _, err := w.Seek(endPos, io.SeekStart); err != nil {
		return 0, corecb.New(corecb.KindStorage, "ncz.CompressArchive", err)
	}

	return endPos - startPos, nil
}

func compressBlocks(ctx context.Context, r io.ReaderAt, headerSize, totalSize, blockSize int64, blockCount uint32, sections []SectionEntry, level int) ([][]byte, error) {
	results := make([][]byte, blockCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i := uint32(0); i < blockCount; i++ {
		i := i
		offset := headerSize + int64(i)*blockSize
		size := blockSize
		if offset+size > totalSize {
			size = totalSize - offset
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			chunk := make([]byte, size)
			n, err := r.ReadAt(chunk, offset)
			if err != nil && n == 0 {
				return corecb.New(corecb.KindStorage, "ncz.compressBlocks", err)
			}
			chunk = chunk[:n]

			decryptChunk(chunk, offset, sections)

			compressed := compressBlock(chunk, level)
			if len(compressed) < len(chunk) {
				results[i] = compressed
			} else {
				results[i] = chunk
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func decryptChunk(chunk []byte, chunkOffset int64, sections []SectionEntry) {
	chunkStart := uint64(chunkOffset)
	chunkEnd := chunkStart + uint64(len(chunk))

	for _, sec := range sections {
		secEnd := sec.Offset + sec.Size
		if chunkStart >= secEnd || chunkEnd <= sec.Offset {
			continue
		}

		start := chunkStart
		if sec.Offset > start {
			start = sec.Offset
		}
		end := chunkEnd
		if secEnd < end {
			end = secEnd
		}

		slice := chunk[start-chunkStart : end-chunkStart]

		if sec.CryptoType == nca.CryptoTypeCTR || sec.CryptoType == nca.CryptoTypeBKTR {
			stream, err := crypto.NewCTRStream(sec.CryptoKey[:], sec.CryptoCounter[:], int64(start))
			if err == nil {
				stream.XORKeyStream(slice, slice)
			}
		}
	}
}
