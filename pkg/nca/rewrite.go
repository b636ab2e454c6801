package nca

import (
	"bytes"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/pfs0"
)

// acidMagic marks the start of the ACID block inside a program's meta
// (NPDM) file; the embedded public key used to verify the attached ACI0
// block sits at a fixed offset past it. Locating the key by scanning for
// this magic rather than assuming a hardcoded meta-file layout survives
// meta file revisions that have shifted surrounding fields, since the
// block has always opened with this magic.
var acidMagic = []byte("ACID")

const (
	acidPubKeyOffset = 0x100 // bytes past the start of the ACID magic
	acidPubKeySize   = crypto.RSA2048ModulusSize
)

// PatchSpan is one byte range a header rewrite wants replaced; a
// downstream streamer can emit the archive unmodified except at these
// spans instead of rebuilding it in memory.
type PatchSpan struct {
	Offset int64
	Bytes  []byte
}

// RewriteProgramHeader implements the program-archive header rewrite: it
// replaces the npdm-signature with a fresh RSA-PSS signature made by the
// bundled key, patches the embedded ACID public key inside the
// PFS0-hosted meta file to match, and records these two edits as patch
// spans against the archive's byte stream. The section-hash field is not
// among them; RecomputeSectionHash builds that span separately. It does
// not touch the fixed-key signature.
//
// metaPfs0 is the already-decrypted PFS0 section reader holding the
// program's meta file (conventionally named "main.npdm"); sectionOffset
// is that section's absolute start within the archive, since PatchSpan
// offsets are archive-relative.
func RewriteProgramHeader(h *Header, metaPfs0 *pfs0.Reader, sectionOffset int64) ([]PatchSpan, error) {
	if h.decrypted == nil {
		return nil, corecb.New(corecb.KindParse, "nca.RewriteProgramHeader", errMissingDecryptedHeader)
	}

	kp := crypto.BundledKeyPair()
	signed := append([]byte{}, h.decrypted[0x200:0x400]...)
	sig, err := crypto.PSSSignSHA256(kp.Priv, signed)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "nca.RewriteProgramHeader", err)
	}
	copy(h.NpdmSignature[:], sig[:])
	copy(h.decrypted[0x100:0x200], sig[:])

	spans := []PatchSpan{
		{Offset: 0x100, Bytes: append([]byte{}, sig[:]...)},
	}

	metaEntry, ok := metaPfs0.EntryByName("main.npdm")
	if !ok {
		// Some archives ship the meta file under a different name; fall
		// back to the sole PFS0 entry when there's exactly one.
		entries := metaPfs0.Entries()
		if len(entries) != 1 {
			return nil, corecb.New(corecb.KindParse, "nca.RewriteProgramHeader", errNoMetaFile)
		}
		metaEntry = entries[0]
	}

	metaReader := metaPfs0.OpenEntry(metaEntry)
	metaBuf := make([]byte, metaEntry.Size)
	if _, err := metaReader.ReadAt(metaBuf, 0); err != nil {
		return nil, corecb.New(corecb.KindStorage, "nca.RewriteProgramHeader", err)
	}

	acidOffset := bytes.Index(metaBuf, acidMagic)
	if acidOffset < 0 {
		return nil, corecb.New(corecb.KindParse, "nca.RewriteProgramHeader", errAcidMagicNotFound)
	}
	pubKeyOffset := acidOffset + acidPubKeyOffset
	if pubKeyOffset+acidPubKeySize > len(metaBuf) {
		return nil, corecb.New(corecb.KindParse, "nca.RewriteProgramHeader", errAcidSpanOutOfRange)
	}

	pub := kp.PublicKeyBytes()
	spans = append(spans, PatchSpan{
		Offset: sectionOffset + metaEntry.Offset + int64(pubKeyOffset),
		Bytes:  append([]byte{}, pub[:]...),
	})

	return spans, nil
}

// RecomputeSectionHash patches the header's stored section-hash commitment
// slot (one of the four 0x20-byte hashes at [0x280, 0x300), not the FS
// header itself) to match freshly-hashed section bytes, returning the
// additional patch span.
func RecomputeSectionHash(section int, hash [32]byte) PatchSpan {
	off := int64(0x280 + section*0x20)
	return PatchSpan{Offset: off, Bytes: hash[:]}
}

// ApplyHeaderPatch merges a patch span into the header's own decrypted
// buffer, for spans RewriteProgramHeader or RecomputeSectionHash produced
// whose range falls within the header itself. It reports whether the span
// fit; a span reaching into a content section is the caller's to apply
// against that section's own plaintext instead.
func (h *Header) ApplyHeaderPatch(span PatchSpan) bool {
	if h.decrypted == nil || span.Offset < 0 || span.Offset+int64(len(span.Bytes)) > int64(len(h.decrypted)) {
		return false
	}
	copy(h.decrypted[span.Offset:], span.Bytes)
	return true
}

// EncryptedHeader re-encrypts the header's current decrypted bytes with
// AES-XTS sector by sector, the inverse of ParseHeader's decrypt loop, so
// every patch merged in via ApplyHeaderPatch is reflected in the returned
// ciphertext.
func (h *Header) EncryptedHeader(headerKey []byte) ([]byte, error) {
	if h.decrypted == nil {
		return nil, corecb.New(corecb.KindParse, "nca.EncryptedHeader", errMissingDecryptedHeader)
	}
	encrypted := make([]byte, HeaderSize)
	for i := 0; i < HeaderSize/crypto.XTSSectorSize; i++ {
		start := i * crypto.XTSSectorSize
		end := start + crypto.XTSSectorSize
		out, err := crypto.XTSEncrypt(h.decrypted[start:end], headerKey, uint64(i))
		if err != nil {
			return nil, corecb.New(corecb.KindCrypto, "nca.EncryptedHeader", err)
		}
		copy(encrypted[start:end], out)
	}
	return encrypted, nil
}
