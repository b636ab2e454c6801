package keys

import (
	"fmt"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

// SetMasterKey installs the master key for a given crypto generation,
// normally populated from the external key file during LoadKeyFile.
func (b *VaultBuilder) SetMasterKey(generation int, key []byte) {
	if generation < 0 || generation > maxGeneration {
		return
	}
	b.sealMasterKeys[generation] = key
}

// seal models the platform's seal-key service: Seal(source, generation,
// option) = Decrypt(source, master_key[generation]), an ECB-decrypt-by-
// master-key step that turns a KEK source into a KEK. The "option"
// parameter is accepted for interface fidelity with the two-phase naming
// below but does not change retail derivation.
func seal(source, masterKey []byte, generation, option int) ([]byte, error) {
	_ = option
	if masterKey == nil {
		return nil, fmt.Errorf("master_key_%02x not available", generation)
	}
	return crypto.ECBDecrypt(source, masterKey)
}

// unseal is the inverse leg of the same chain: Unseal(kek, src) =
// Decrypt(src, kek). On real hardware Seal/Unseal are opaque hardware
// operations; since both ends are ECB-decrypt-by-key in the retail key
// schedule, modeling them as the same primitive keeps the derivation
// chain's two-step naming without inventing a fake hardware-service
// abstraction.
func unseal(kek, src []byte) ([]byte, error) {
	return crypto.ECBDecrypt(src, kek)
}

// DeriveHeaderKey performs the header-key derivation:
// header_kek = Seal(header_kek_source, generation=0, option=0);
// header_key[0:0x10] = Unseal(header_kek, header_key_source[0:0x10]); same
// for the second half.
func (b *VaultBuilder) DeriveHeaderKey() error {
	kekSource := b.PendingSource("header_kek_source")
	keySource := b.PendingSource("header_key_source")
	if kekSource == nil || keySource == nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveHeaderKey", fmt.Errorf("header key sources not available"))
	}

	headerKek, err := seal(kekSource, b.sealMasterKeys[0], 0, 0)
	if err != nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveHeaderKey", err)
	}

	headerKey := make([]byte, 0x20)
	half0, err := unseal(headerKek, keySource[0x00:0x10])
	if err != nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveHeaderKey", err)
	}
	half1, err := unseal(headerKek, keySource[0x10:0x20])
	if err != nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveHeaderKey", err)
	}
	copy(headerKey[0x00:], half0)
	copy(headerKey[0x10:], half1)

	b.vault.HeaderKEK = headerKek
	b.vault.HeaderKey = headerKey
	return nil
}

var kaekSourceNames = [kaekSourceCount]string{
	KaekApplication: "key_area_key_application_source",
	KaekOcean:       "key_area_key_ocean_source",
	KaekSystem:      "key_area_key_system_source",
}

// DeriveKeyAreaKeys performs the per-generation KAEK derivation: for
// each observed crypto generation g and each source s,
// kaek[g][s] = Seal(kaek_source[s], g, 0), stored as is with no further
// unseal step. It runs across every generation that has a master key
// available.
func (b *VaultBuilder) DeriveKeyAreaKeys() int {
	derived := 0
	for g := 0; g <= maxGeneration; g++ {
		masterKey := b.sealMasterKeys[g]
		if masterKey == nil {
			continue
		}
		for src := KaekApplication; src < kaekSourceCount; src++ {
			source := b.PendingSource(kaekSourceNames[src])
			if source == nil {
				continue
			}
			sealed, err := seal(source, masterKey, g, 0)
			if err != nil {
				continue
			}
			b.vault.kaek[g][src] = sealed
			derived++
		}
	}
	return derived
}

// DeriveTitleKeks derives titlekek[g] = Seal(titlekek_source, g, 0) for
// every generation with a master key, used to decrypt ticket title-key
// blocks.
func (b *VaultBuilder) DeriveTitleKeks() int {
	source := b.PendingSource("titlekek_source")
	derived := 0
	for g := 0; g <= maxGeneration; g++ {
		masterKey := b.sealMasterKeys[g]
		if masterKey == nil {
			continue
		}
		if source != nil {
			if tk, err := seal(source, masterKey, g, 0); err == nil {
				b.vault.titlekek[g] = tk
				derived++
				continue
			}
		}
		// Fall back to a titlekek_XX installed as a pending source
		// (LoadKeyFile writes titlekek_XX entries into the vault directly).
		if tk := b.PendingSource(fmt.Sprintf("titlekek_%02x", g)); tk != nil {
			b.vault.titlekek[g] = tk
			derived++
		}
	}
	return derived
}
