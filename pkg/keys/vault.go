// Package keys assembles and owns the Switch key vault: the single
// process-wide record of derived keys, sourced from a memory scan, a
// platform seal-key derivation chain, and an external key file, all
// assembled through a builder that runs the full three-source derivation
// chain.
package keys

import (
	"sync"

	"github.com/cartkit/nxcart/pkg/corecb"
)

const maxGeneration = 0x20

// KaekSource selects which of the three key-area-key-encryption-key
// lineages (application/ocean/system) a given archive's key area uses.
type KaekSource int

const (
	KaekApplication KaekSource = iota
	KaekOcean
	KaekSystem
	kaekSourceCount
)

// Vault is the single process-wide record of derived keys: header
// key material, the KAEK table indexed by generation and source, the
// titlekek table, the eTicket RSA KEK, the device private key, and
// bookkeeping for how many keys came from which source. It is append-only
// once built — readers never need to lock it.
type Vault struct {
	HeaderKEK []byte // 0x10
	HeaderKey []byte // 0x20 (two 0x10 halves)

	kaek      [maxGeneration + 1][kaekSourceCount][]byte
	titlekek  [maxGeneration + 1][]byte

	EticketRSAKek []byte
	XciHeaderKey  []byte
	Device        *DevicePrivateKey

	SourcedFromMemory int
	SourcedFromFile   int
}

// KeyAreaKey returns the decrypted KAEK for a given crypto generation and
// source, or nil if it was never derived.
func (v *Vault) KeyAreaKey(generation int, src KaekSource) []byte {
	if generation < 0 || generation > maxGeneration {
		return nil
	}
	return v.kaek[generation][src]
}

// TitleKek returns the titlekek for a given master-key generation, used to
// decrypt a ticket's personalized or common title-key block.
func (v *Vault) TitleKek(generation int) []byte {
	if generation < 0 || generation > maxGeneration {
		return nil
	}
	return v.titlekek[generation]
}

var (
	globalVault     *Vault
	globalVaultOnce sync.Once
	globalVaultErr  error
)

// VaultBuilder drives the ordered construction phases:
// memory scan, seal-key derivation, external key file, device key. Each
// phase is run by its own method (DeriveKeyAreaKeys, DeriveTitleKeks,
// LoadKeyFile, DeriveDeviceKey, ...) against the same builder.
type VaultBuilder struct {
	vault *Vault

	// pendingSources holds seed keys recovered by the memory scan (or
	// installed directly by a test) keyed by their canonical name, for
	// the derivation phase to consume.
	pendingSources map[string][]byte

	// sealMasterKeys holds the per-generation master keys the external key
	// file supplies (master_key_XX); the seal/unseal derivation chain in
	// derivation.go is keyed off of them. Scoped to the builder instance so
	// two builders in the same process never clobber each other's keys.
	sealMasterKeys [maxGeneration + 1][]byte
}

// NewVaultBuilder starts a fresh, empty vault under construction.
func NewVaultBuilder() *VaultBuilder {
	return &VaultBuilder{vault: &Vault{}}
}

// Vault returns the vault under construction. Callers should only treat its
// contents as final after all desired phases have run.
func (b *VaultBuilder) Vault() *Vault { return b.vault }

// Get lazily builds the global vault exactly once ("Lifecycle: the
// key vault is created lazily on first request"), running fn to populate
// it. Subsequent calls return the cached vault and ignore fn.
func Get(build func(b *VaultBuilder) error) (*Vault, error) {
	globalVaultOnce.Do(func() {
		b := NewVaultBuilder()
		globalVaultErr = build(b)
		if globalVaultErr == nil {
			globalVault = b.Vault()
		}
	})
	if globalVaultErr != nil {
		return nil, corecb.New(corecb.KindKeyVault, "keys.Get", globalVaultErr)
	}
	return globalVault, nil
}
