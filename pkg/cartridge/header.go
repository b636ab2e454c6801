package cartridge

import (
	"encoding/binary"
	"fmt"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

const (
	HeaderSize      = 0x200
	headerMagic     = "HEAD"
	mediaUnitSize   = 0x200
	certificateSize = 0x200
	// CertificateOffset is the fixed byte offset of the cartridge
	// certificate.
	CertificateOffset = 0x7000
)

// KeyIndex models gamecard.h's GameCardKeyIndex nibble pair: which KAEK
// table slot (production vs dev-unit) and which title-key decrypt index the
// key-area decryption path should select.
type KeyIndex struct {
	Kek             byte // GameCardKekIndex: 0 = Version0, 1 = VersionForDev
	TitlekeyDecIdx  byte
}

func parseKeyIndex(b byte) KeyIndex {
	return KeyIndex{Kek: b & 0xF, TitlekeyDecIdx: (b >> 4) & 0xF}
}

// EncryptedArea is the AES-CBC-encrypted tail of the header, decrypted with
// the XCI header key and the header's own IV.
type EncryptedArea struct {
	FwVersion          uint64
	AccCtrl1           uint32
	Wait1TimeRead      uint32
	Wait2TimeRead      uint32
	Wait1TimeWrite     uint32
	Wait2TimeWrite     uint32
	FwMode             uint32
	CupVersion         uint32
	CompatibilityType  byte
	CupHash            uint64
	CupID              uint64
}

// Header is the gamecard.h GameCardHeader, 0x200 bytes: a 0x100-byte
// RSA-PSS signature over the remainder, plaintext routing fields, and an
// AES-CBC encrypted tail.
type Header struct {
	Signature              [0x100]byte
	Magic                  [4]byte
	SecureAreaStartAddress uint32 // media units
	BackupAreaStartAddress uint32
	KeyIndex               KeyIndex
	RomSize                byte
	HeaderVersion          byte
	Flags                  byte
	PackageID              uint64
	ValidDataEndAddress    uint32 // media units
	IV                     [0x10]byte
	PartitionFsHeaderAddr  uint64
	PartitionFsHeaderSize  uint64
	PartitionFsHeaderHash  [32]byte
	InitialDataHash        [32]byte
	SelSec                 uint32
	SelT1Key               uint32
	SelKey                 uint32
	NormalAreaEndAddress   uint32 // media units

	Encrypted EncryptedArea

	raw [HeaderSize]byte
}

// SecureAreaStartBytes is the byte offset area routing splits reads
// at: everything below this is served from normal storage.
func (h *Header) SecureAreaStartBytes() int64 {
	return int64(h.SecureAreaStartAddress) * mediaUnitSize
}

// HasLogoPartition reports whether the cartridge's firmware generation is
// new enough to carry a "logo" hash-FS partition (gamecard.h:
// GameCardFwVersion_ForProdSince400NUP and later only).
func (h *Header) HasLogoPartition() bool {
	const forProdSince400NUP = 1 << 1
	return h.Encrypted.FwMode&forProdSince400NUP != 0
}

// ParseHeader decodes the 0x200-byte raw header, decrypts the encrypted
// tail with the XCI header key, and verifies the RSA-PSS signature over the
// plaintext region that follows it. A signature failure is reported but
// does not prevent the header from being returned — callers that need a
// hard trust boundary should check the returned error.
func ParseHeader(raw []byte, xciHeaderKey []byte, pub *crypto.KeyPair) (*Header, error) {
	if len(raw) < HeaderSize {
		return nil, corecb.New(corecb.KindParse, "cartridge.ParseHeader", fmt.Errorf("short header: %d bytes", len(raw)))
	}

	var h Header
	copy(h.raw[:], raw[:HeaderSize])
	copy(h.Signature[:], raw[0x000:0x100])
	copy(h.Magic[:], raw[0x100:0x104])
	if string(h.Magic[:]) != headerMagic {
		return nil, corecb.New(corecb.KindParse, "cartridge.ParseHeader", fmt.Errorf("bad magic %q, want %q", h.Magic, headerMagic))
	}

	h.SecureAreaStartAddress = binary.LittleEndian.Uint32(raw[0x104:0x108])
	h.BackupAreaStartAddress = binary.LittleEndian.Uint32(raw[0x108:0x10C])
	h.KeyIndex = parseKeyIndex(raw[0x10C])
	h.RomSize = raw[0x10D]
	h.HeaderVersion = raw[0x10E]
	h.Flags = raw[0x10F]
	h.PackageID = binary.LittleEndian.Uint64(raw[0x110:0x118])
	h.ValidDataEndAddress = binary.LittleEndian.Uint32(raw[0x118:0x11C])
	copy(h.IV[:], raw[0x120:0x130])
	h.PartitionFsHeaderAddr = binary.LittleEndian.Uint64(raw[0x130:0x138])
	h.PartitionFsHeaderSize = binary.LittleEndian.Uint64(raw[0x138:0x140])
	copy(h.PartitionFsHeaderHash[:], raw[0x140:0x160])
	copy(h.InitialDataHash[:], raw[0x160:0x180])
	h.SelSec = binary.LittleEndian.Uint32(raw[0x180:0x184])
	h.SelT1Key = binary.LittleEndian.Uint32(raw[0x184:0x188])
	h.SelKey = binary.LittleEndian.Uint32(raw[0x188:0x18C])
	h.NormalAreaEndAddress = binary.LittleEndian.Uint32(raw[0x18C:0x190])

	if xciHeaderKey != nil {
		plain, err := crypto.CBCDecrypt(raw[0x190:0x200], xciHeaderKey, h.IV[:])
		if err != nil {
			return nil, corecb.New(corecb.KindCrypto, "cartridge.ParseHeader", err)
		}
		h.Encrypted.FwVersion = binary.LittleEndian.Uint64(plain[0x00:0x08])
		h.Encrypted.AccCtrl1 = binary.LittleEndian.Uint32(plain[0x08:0x0C])
		h.Encrypted.Wait1TimeRead = binary.LittleEndian.Uint32(plain[0x0C:0x10])
		h.Encrypted.Wait2TimeRead = binary.LittleEndian.Uint32(plain[0x10:0x14])
		h.Encrypted.Wait1TimeWrite = binary.LittleEndian.Uint32(plain[0x14:0x18])
		h.Encrypted.Wait2TimeWrite = binary.LittleEndian.Uint32(plain[0x18:0x1C])
		h.Encrypted.FwMode = binary.LittleEndian.Uint32(plain[0x1C:0x20])
		h.Encrypted.CupVersion = binary.LittleEndian.Uint32(plain[0x20:0x24])
		h.Encrypted.CompatibilityType = plain[0x24]
		h.Encrypted.CupHash = binary.LittleEndian.Uint64(plain[0x28:0x30])
		h.Encrypted.CupID = binary.LittleEndian.Uint64(plain[0x30:0x38])
	}

	if pub != nil {
		if err := crypto.VerifyPSSSHA256(&pub.Priv.PublicKey, raw[0x100:HeaderSize], h.Signature[:]); err != nil {
			return &h, corecb.New(corecb.KindIntegrity, "cartridge.ParseHeader", fmt.Errorf("header signature verification failed: %w", err))
		}
	}

	return &h, nil
}
