package memsrc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobSourceScanFindsWindow(t *testing.T) {
	needle := []byte("abcd1234")
	data := append(append([]byte("garbage-prefix-"), needle...), []byte("-suffix")...)

	src := BlobSource{Data: data}
	offset, matched := src.Scan(len(needle), func(window []byte) bool {
		return bytes.Equal(window, needle)
	})
	require.True(t, matched)
	require.Equal(t, bytes.Index(data, needle), offset)
}

func TestBlobSourceScanNoMatch(t *testing.T) {
	src := BlobSource{Data: []byte("nope nothing here")}
	_, matched := src.Scan(32, func(window []byte) bool { return true })
	require.False(t, matched)
}

func TestConcatFlattensSources(t *testing.T) {
	c := Concat{Sources: []Source{
		BlobSource{Data: []byte("hello-")},
		BlobSource{Data: []byte("world")},
	}}
	_, matched := c.Scan(len("hello-world"), func(window []byte) bool {
		return bytes.Equal(window, []byte("hello-world"))
	})
	require.True(t, matched)
}
