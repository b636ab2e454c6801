// Package cartridge implements raw gamecard storage access: area routing
// between the normal and secure storages, a background insertion
// watcher, and header/key-area/certificate retrieval, sitting below the
// NCA/PFS0 readers rather than reading files directly.
package cartridge

import (
	"io"
	"os"
)

// Device is the raw transport a Cartridge reads through: two independently
// addressable storages (normal and secure) plus a presence probe. Exactly
// one concrete implementation ships here (FileDevice, backed by a dumped
// raw image); a real gamecard-reader backend would implement the same
// interface without the rest of this package changing.
type Device interface {
	// Present reports whether a cartridge is currently seated. Called by
	// the background watcher on every poll tick.
	Present() bool

	// ReadNormal and ReadSecure read from the two independently-addressed
	// storages exposed by the hardware, each with its own internal offset
	// space starting at 0.
	ReadNormal(p []byte, off int64) (int, error)
	ReadSecure(p []byte, off int64) (int, error)
}

// FileDevice treats a single dumped raw cartridge image (an "XCI") as a
// Device by splitting it at secureAreaStart, the same split point the
// header's secure_area_start_address field records. It is present once
// constructed; SetPresent toggles presence to simulate removal and
// reinsertion.
type FileDevice struct {
	r               io.ReaderAt
	secureAreaStart int64 // byte offset, not media units
	present         bool
}

// NewFileDevice opens path as a raw cartridge image. secureAreaStart is in
// bytes (media units already multiplied by 0x200); callers typically learn
// it from a prior header parse and reopen with the correct split, or pass 0
// until the header has been read once in "normal-only" mode.
func NewFileDevice(path string, secureAreaStart int64) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileDevice{r: f, secureAreaStart: secureAreaStart, present: true}, nil
}

// NewFileDeviceFromReaderAt wraps an already-open ReaderAt (e.g. for
// in-memory test fixtures) instead of opening a path.
func NewFileDeviceFromReaderAt(r io.ReaderAt, secureAreaStart int64) *FileDevice {
	return &FileDevice{r: r, secureAreaStart: secureAreaStart, present: true}
}

func (d *FileDevice) Present() bool { return d.present }

// SetPresent lets a test simulate insertion/removal edges.
func (d *FileDevice) SetPresent(present bool) { d.present = present }

// SetSecureAreaStart updates the split point once it's known from a parsed
// header, without needing to reopen the backing file.
func (d *FileDevice) SetSecureAreaStart(off int64) { d.secureAreaStart = off }

func (d *FileDevice) ReadNormal(p []byte, off int64) (int, error) {
	return d.r.ReadAt(p, off)
}

func (d *FileDevice) ReadSecure(p []byte, off int64) (int, error) {
	return d.r.ReadAt(p, d.secureAreaStart+off)
}
