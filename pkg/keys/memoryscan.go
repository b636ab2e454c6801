package keys

import (
	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/memsrc"
)

// expectedSourceKey names one of the fixed-length seeds
// looks for inside FS/settings sysmodule memory, identified by the SHA-256
// digest of its bytes rather than by a fixed offset (the offset moves
// between firmware versions; the digest doesn't).
type expectedSourceKey struct {
	name       string
	length     int
	digest     [32]byte
}

// sourceDigests is the table of expected digests the rolling scan compares
// against. It starts empty and is filled only through RegisterSourceDigest,
// so the scan recognizes no seed until digests are registered; a deployment
// that needs to recognize additional firmware-specific seeds can extend
// this table without touching the scan logic itself.
var sourceDigests []expectedSourceKey

// RegisterSourceDigest adds an expected (name, length, digest) triple to
// the table the memory scan matches against. Exposed so a caller (or a
// test) can seed the table without requiring real first-party digests to
// be hardcoded into the module.
func RegisterSourceDigest(name string, length int, digest [32]byte) {
	sourceDigests = append(sourceDigests, expectedSourceKey{name: name, length: length, digest: digest})
}

// ScanMemoryForSources scans a memory source: for each configured
// expected source key, perform a rolling SHA-256 over every k-byte window
// of the rodata source then the data source (k = the key's declared
// length), stopping at the first digest match. Matches are written into
// the builder's pending source-key map for the derivation phase to use.
func (b *VaultBuilder) ScanMemoryForSources(rodata, data memsrc.Source) int {
	if b.pendingSources == nil {
		b.pendingSources = make(map[string][]byte)
	}

	found := 0
	for _, sk := range sourceDigests {
		if _, ok := b.pendingSources[sk.name]; ok {
			continue
		}
		match := func(src memsrc.Source) []byte {
			var result []byte
			src.Scan(sk.length, func(window []byte) bool {
				d := crypto.SHA256(window)
				if d == sk.digest {
					result = append([]byte{}, window...)
					return true
				}
				return false
			})
			return result
		}

		if w := match(rodata); w != nil {
			b.pendingSources[sk.name] = w
			found++
			b.vault.SourcedFromMemory++
			continue
		}
		if w := match(data); w != nil {
			b.pendingSources[sk.name] = w
			found++
			b.vault.SourcedFromMemory++
		}
	}
	return found
}

// PendingSource returns a source key recovered by the memory scan (or
// loaded directly, e.g. in tests), by its canonical name.
func (b *VaultBuilder) PendingSource(name string) []byte {
	return b.pendingSources[name]
}

// SetPendingSource installs a source key directly, bypassing the memory
// scan — used by tests and by any caller that already has the seed bytes
// from elsewhere.
func (b *VaultBuilder) SetPendingSource(name string, value []byte) {
	if b.pendingSources == nil {
		b.pendingSources = make(map[string][]byte)
	}
	b.pendingSources[name] = value
}
