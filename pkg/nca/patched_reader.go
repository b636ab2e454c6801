package nca

import "io"

// PatchedReader overlays a set of PatchSpans on top of a base archive
// reader, letting a streamer emit the archive unmodified except at the
// byte ranges a header rewrite touched instead of rebuilding the archive
// in memory. Patch ranges must not overlap each other.
type PatchedReader struct {
	base    io.ReaderAt
	patches []PatchSpan
}

// NewPatchedReader builds a PatchedReader over base using patches.
func NewPatchedReader(base io.ReaderAt, patches []PatchSpan) *PatchedReader {
	return &PatchedReader{base: base, patches: patches}
}

func (p *PatchedReader) ReadAt(buf []byte, off int64) (int, error) {
	n, err := p.base.ReadAt(buf, off)
	if err != nil && n == 0 {
		return n, err
	}
	readEnd := off + int64(n)
	for _, patch := range p.patches {
		patchEnd := patch.Offset + int64(len(patch.Bytes))
		if patchEnd <= off || patch.Offset >= readEnd {
			continue
		}
		start := patch.Offset
		if start < off {
			start = off
		}
		end := patchEnd
		if end > readEnd {
			end = readEnd
		}
		copy(buf[start-off:end-off], patch.Bytes[start-patch.Offset:end-patch.Offset])
	}
	return n, err
}
