package pfs0

import (
	"encoding/binary"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// Writer builds a PFS0 container incrementally onto an io.WriteSeeker, the
// shape a content-package output directory needs (`<ncaId>.nca`,
// `<ncaId>.cnmt.nca`, `<rightsId>.tik`, `<rightsId>.cert`, optional XML
// companions). Using io.WriteSeeker rather than *os.File lets it compose
// with any output sink the corecb.Callbacks.OpenOutput boundary hands
// back.
type Writer struct {
	w           io.WriteSeeker
	stringTable []byte
	entries     []pendingEntry
	headerSize  int64
	dataOffset  int64
}

type pendingEntry struct {
	nameOffset uint32
	dataOffset uint64
	dataSize   uint64
}

// NewWriter reserves header space for the given ordered file names and
// seeks w past it, ready for sequential AddFile calls in the same order.
func NewWriter(w io.WriteSeeker, fileNames []string) (*Writer, error) {
	var stringTable []byte
	entries := make([]pendingEntry, len(fileNames))
	for i, name := range fileNames {
		entries[i].nameOffset = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(name)...)
		stringTable = append(stringTable, 0)
	}

	headerSize := int64(headerFixedSize + len(entries)*entrySize + len(stringTable))
	if _, err := w.Seek(headerSize, io.SeekStart); err != nil {
		return nil, corecb.New(corecb.KindStorage, "pfs0.NewWriter", err)
	}

	return &Writer{w: w, stringTable: stringTable, entries: entries, headerSize: headerSize}, nil
}

// AddFile copies size bytes from r as the content of the index-th file,
// recording its offset and size in the eventual header. Files must be
// added in ascending index order since writes are sequential.
func (w *Writer) AddFile(index int, r io.Reader, size int64) error {
	w.entries[index].dataOffset = uint64(w.dataOffset)
	n, err := io.CopyN(w.w, r, size)
	if err != nil && err != io.EOF {
		return corecb.New(corecb.KindStorage, "pfs0.AddFile", err)
	}
	w.entries[index].dataSize = uint64(n)
	w.dataOffset += n
	return nil
}

// Close seeks back to the start, writes the final header/entries/string
// table, and closes the underlying writer if it implements io.Closer.
func (w *Writer) Close() error {
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return corecb.New(corecb.KindStorage, "pfs0.Close", err)
	}

	var header [headerFixedSize]byte
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(w.entries)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(w.stringTable)))
	if _, err := w.w.Write(header[:]); err != nil {
		return corecb.New(corecb.KindStorage, "pfs0.Close", err)
	}

	for _, e := range w.entries {
		var rec [entrySize]byte
		binary.LittleEndian.PutUint64(rec[0x00:0x08], e.dataOffset)
		binary.LittleEndian.PutUint64(rec[0x08:0x10], e.dataSize)
		binary.LittleEndian.PutUint32(rec[0x10:0x14], e.nameOffset)
		if _, err := w.w.Write(rec[:]); err != nil {
			return corecb.New(corecb.KindStorage, "pfs0.Close", err)
		}
	}

	if _, err := w.w.Write(w.stringTable); err != nil {
		return corecb.New(corecb.KindStorage, "pfs0.Close", err)
	}

	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
