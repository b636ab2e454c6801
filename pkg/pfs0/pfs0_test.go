package pfs0

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// memWriteSeeker is a minimal in-memory io.WriteSeeker for testing Writer
// without touching the filesystem.
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func TestWriterReaderRoundTrip(t *testing.T) {
	names := []string{"aaaaaaaa.nca", "bbbbbbbb.cnmt.nca"}
	contents := []string{"hello content archive", "metadata archive bytes"}

	mem := &memWriteSeeker{}
	w, err := NewWriter(mem, names)
	require.NoError(t, err)

	for i, c := range contents {
		require.NoError(t, w.AddFile(i, strings.NewReader(c), int64(len(c))))
	}
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(mem.buf), 0)
	require.NoError(t, err)
	require.Equal(t, len(names), r.Count())

	for i, name := range names {
		e, ok := r.EntryByName(name)
		require.True(t, ok)
		got := make([]byte, e.Size)
		_, err := r.OpenEntry(e).Read(got)
		require.NoError(t, err)
		require.Equal(t, contents[i], string(got))
	}
}

func TestEntryBySuffixFindsCnmt(t *testing.T) {
	names := []string{"0000000000000000000000000000001.nca", "0000000000000000000000000000002.cnmt.nca"}
	mem := &memWriteSeeker{}
	w, err := NewWriter(mem, names)
	require.NoError(t, err)
	require.NoError(t, w.AddFile(0, strings.NewReader("a"), 1))
	require.NoError(t, w.AddFile(1, strings.NewReader("b"), 1))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(mem.buf), 0)
	require.NoError(t, err)

	e, ok := r.EntryBySuffix(".cnmt.nca")
	require.True(t, ok)
	require.Equal(t, names[1], e.Name)
}
