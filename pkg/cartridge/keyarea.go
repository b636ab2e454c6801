package cartridge

import (
	"encoding/binary"
	"fmt"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

const (
	initialDataSize = 0x200
	ccmNonceSize    = 0xC
	ccmMacSize      = 0x10
	titlekeySize    = 0x10
)

// KeySource is gamecard.h's GameCardKeySource: the seed for the initial
// data's AES-128-CCM encrypted title-key, bound to the card's package_id.
type KeySource struct {
	PackageID uint64
}

// InitialData is gamecard.h's GameCardInitialData, the only key-area
// section the watcher actually retrieves — the title-key and
// key-encryption sections are presumed all-zero on retail cards.
type InitialData struct {
	KeySource          KeySource
	EncryptedTitlekey  [titlekeySize]byte
	Mac                [ccmMacSize]byte
	Nonce              [ccmNonceSize]byte
}

// KeyArea is the decrypted view of gamecard.h's GameCardKeyArea: the
// initial-data section decrypted with the per-generation titlekek KAEK
// table selected by the header's KeyIndex, plus the recovered title-key.
type KeyArea struct {
	Initial  InitialData
	Titlekey [titlekeySize]byte
}

func parseInitialData(raw []byte) (InitialData, error) {
	if len(raw) < initialDataSize {
		return InitialData{}, fmt.Errorf("short initial data: %d bytes", len(raw))
	}
	var d InitialData
	d.KeySource.PackageID = binary.LittleEndian.Uint64(raw[0x00:0x08])
	copy(d.EncryptedTitlekey[:], raw[0x10:0x20])
	copy(d.Mac[:], raw[0x20:0x30])
	copy(d.Nonce[:], raw[0x30:0x3C])
	return d, nil
}

// DecryptKeyArea performs the CCM decrypt gamecard.h documents: the
// key_source is AES-128-ECB-encrypted under the common titlekek generator
// key (titlekekSource, a KAEK-table entry selected by the header's
// KeyIndex.Kek); the resulting key then opens encrypted_titlekey via
// AES-128-CCM with nonce and mac from the same section.
func DecryptKeyArea(raw []byte, titlekekGeneratorKey []byte) (*KeyArea, error) {
	initial, err := parseInitialData(raw)
	if err != nil {
		return nil, corecb.New(corecb.KindParse, "cartridge.DecryptKeyArea", err)
	}

	sourceBytes := make([]byte, 0x10)
	binary.LittleEndian.PutUint64(sourceBytes[0:8], initial.KeySource.PackageID)

	decryptedSource, err := crypto.ECBDecrypt(sourceBytes, titlekekGeneratorKey)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "cartridge.DecryptKeyArea", err)
	}

	plain, err := crypto.CCMDecrypt(decryptedSource, initial.Nonce[:], initial.EncryptedTitlekey[:], initial.Mac[:])
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "cartridge.DecryptKeyArea", fmt.Errorf("titlekey CCM decrypt failed: %w", err))
	}

	ka := &KeyArea{Initial: initial}
	copy(ka.Titlekey[:], plain)
	return ka, nil
}
