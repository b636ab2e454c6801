package crypto

import "crypto/sha256"

// SHA256 is a one-shot digest helper; kept as a thin wrapper so every
// component imports crypto/sha256 through a single point and the
// incremental variant below shares vocabulary with it.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Incremental wraps hash.Hash for streaming digests (hash-FS entries,
// archive section verification).
type SHA256Incremental struct {
	h interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
		Reset()
	}
}

func NewSHA256() *SHA256Incremental {
	return &SHA256Incremental{h: sha256.New()}
}

func (s *SHA256Incremental) Write(p []byte) (int, error) { return s.h.Write(p) }

func (s *SHA256Incremental) Sum() [32]byte {
	var out [32]byte
	copy(out[:], s.h.Sum(nil))
	return out
}
