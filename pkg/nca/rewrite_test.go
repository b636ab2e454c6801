package nca

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/pfs0"
)

type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (w *memWriteSeeker) Write(p []byte) (int, error) {
	end := w.pos + int64(len(p))
	if end > int64(len(w.buf)) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	n := copy(w.buf[w.pos:end], p)
	w.pos = end
	return n, nil
}

func (w *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		w.pos = offset
	case 1:
		w.pos += offset
	case 2:
		w.pos = int64(len(w.buf)) + offset
	}
	return w.pos, nil
}

func buildMetaPfs0(t *testing.T) *pfs0.Reader {
	t.Helper()
	meta := make([]byte, 0x300)
	copy(meta[0x40:0x44], acidMagic)
	// Leave the public-key span (0x40+0x100 .. +0x200) zeroed; the test
	// only checks that RewriteProgramHeader finds and replaces it.

	w := &memWriteSeeker{}
	writer, err := pfs0.NewWriter(w, []string{"main.npdm"})
	require.NoError(t, err)
	require.NoError(t, writer.AddFile(0, bytes.NewReader(meta), int64(len(meta))))
	require.NoError(t, writer.Close())

	r, err := pfs0.Open(memReaderAt(w.buf), 0)
	require.NoError(t, err)
	return r
}

func TestRewriteProgramHeaderPatchesSignatureAndAcidKey(t *testing.T) {
	plain := buildPlainHeader(t)
	headerKey := bytes.Repeat([]byte{0x42}, 32)
	encrypted := encryptHeader(t, plain, headerKey)

	h, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.NoError(t, err)

	metaPfs0 := buildMetaPfs0(t)

	spans, err := RewriteProgramHeader(h, metaPfs0, 0x2000)
	require.NoError(t, err)
	require.Len(t, spans, 2)

	require.Equal(t, int64(0x100), spans[0].Offset)
	require.Len(t, spans[0].Bytes, crypto.RSA2048ModulusSize)

	pub := crypto.BundledKeyPair().PublicKeyBytes()
	require.Equal(t, pub[:], spans[1].Bytes)

	require.NoError(t, crypto.VerifyPSSSHA256(&crypto.BundledKeyPair().Priv.PublicKey, h.decrypted[0x200:0x400], spans[0].Bytes))
}

func TestRewriteProgramHeaderFailsWithoutAcidMagic(t *testing.T) {
	plain := buildPlainHeader(t)
	headerKey := bytes.Repeat([]byte{0x42}, 32)
	encrypted := encryptHeader(t, plain, headerKey)
	h, err := ParseHeader(memReaderAt(encrypted), headerKey)
	require.NoError(t, err)

	meta := make([]byte, 0x200)
	w := &memWriteSeeker{}
	writer, err := pfs0.NewWriter(w, []string{"main.npdm"})
	require.NoError(t, err)
	require.NoError(t, writer.AddFile(0, bytes.NewReader(meta), int64(len(meta))))
	require.NoError(t, writer.Close())
	metaPfs0, err := pfs0.Open(memReaderAt(w.buf), 0)
	require.NoError(t, err)

	_, err = RewriteProgramHeader(h, metaPfs0, 0)
	require.Error(t, err)
}

func TestRecomputeSectionHashProducesExpectedSpan(t *testing.T) {
	hash := crypto.SHA256([]byte("section bytes"))
	span := RecomputeSectionHash(1, hash)
	require.Equal(t, int64(0x2A0), span.Offset)
	require.Equal(t, hash[:], span.Bytes)
}
