// Package ticket resolves a content archive's rights-id into a decrypted
// title-key: enumerating installed tickets, streaming fixed 0x400-byte
// records out of the system save that holds them, and running either the
// common or personalized unwrap path. Built on the decrypted-key-area
// consumer in pkg/nca and the OAEP/ModExp primitives
// already built in pkg/crypto; record layout follows the ticket format
// documented across the retrieved title/keys reference material (0x400
// fixed record size, titlekey_block at 0x180, signature type at 0x00,
// rights_id at 0x2A0).
package ticket

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/keys"
)

// Kind distinguishes a common title-key ticket (shared across every
// console) from a personalized one (RSA-wrapped to a single console's
// device key).
type Kind int

const (
	KindCommon Kind = iota
	KindPersonalized
)

const (
	recordSize        = 0x400
	signatureTypeOff  = 0x000
	titlekeyBlockOff  = 0x180
	rightsIDOff       = 0x2A0
	commonTitlekeySize = 0x10
	signatureTypeRSA2048SHA256 = 0x00010004
)

// Record is one parsed ticket entry.
type Record struct {
	RightsID     [0x10]byte
	Kind         Kind
	TitlekeyBlock []byte // 0x10 bytes (common) or 0x100 bytes (personalized)
}

// ScanRecords streams r in fixed 0x400-byte records, returning every
// record whose signature type is RSA2048_SHA256; records with any other
// signature type are skipped rather than erroring, since a ticket store
// can hold legacy or unrelated entries the core doesn't need to reject
// the whole scan over.
func ScanRecords(r io.Reader) ([]Record, error) {
	var out []Record
	buf := make([]byte, recordSize)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, corecb.New(corecb.KindStorage, "ticket.ScanRecords", err)
		}

		sigType := binary.BigEndian.Uint32(buf[signatureTypeOff : signatureTypeOff+4])
		if sigType != signatureTypeRSA2048SHA256 {
			continue
		}

		rec := Record{}
		copy(rec.RightsID[:], buf[rightsIDOff:rightsIDOff+0x10])

		if isZero(rec.RightsID[0x8:]) {
			// Personalized tickets carry a non-zero console-specific tail;
			// an all-zero tail after the title-id half marks a common
			// ticket, whose titlekey_block low 16 bytes are the key.
			rec.Kind = KindCommon
			rec.TitlekeyBlock = append([]byte{}, buf[titlekeyBlockOff:titlekeyBlockOff+commonTitlekeySize]...)
		} else {
			rec.Kind = KindPersonalized
			rec.TitlekeyBlock = append([]byte{}, buf[titlekeyBlockOff:titlekeyBlockOff+crypto.RSA2048ModulusSize]...)
		}

		out = append(out, rec)
	}
	return out, nil
}

// FindByRightsID scans records for the one matching rightsID.
func FindByRightsID(r io.Reader, rightsID [0x10]byte) (*Record, error) {
	records, err := ScanRecords(r)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if bytes.Equal(records[i].RightsID[:], rightsID[:]) {
			return &records[i], nil
		}
	}
	return nil, corecb.New(corecb.KindTicket, "ticket.FindByRightsID", errNoMatchingTicket)
}

// Resolve implements the kind-specific unwrap and the final titlekek
// decrypt. generation selects which titlekek the vault exposes; device
// is required (and only required) for personalized tickets.
func Resolve(rec *Record, vault *keys.Vault, generation int, device *crypto.DevicePrivateKey) ([]byte, error) {
	var t []byte

	switch rec.Kind {
	case KindCommon:
		t = rec.TitlekeyBlock

	case KindPersonalized:
		if device == nil {
			return nil, corecb.New(corecb.KindTicket, "ticket.Resolve", errDeviceKeyRequired)
		}
		emptyLabelHash := crypto.SHA256(nil)
		db, err := device.OaepDecrypt(rec.TitlekeyBlock, emptyLabelHash[:])
		if err != nil {
			return nil, corecb.New(corecb.KindTicket, "ticket.Resolve", errOaepFailure)
		}
		if len(db) < 0x10 {
			return nil, corecb.New(corecb.KindTicket, "ticket.Resolve", errOaepFailure)
		}
		t = db[len(db)-0x10:]

	default:
		return nil, corecb.New(corecb.KindTicket, "ticket.Resolve", errUnknownKind)
	}

	titlekek := vault.TitleKek(generation)
	if titlekek == nil {
		return nil, corecb.New(corecb.KindKeyVault, "ticket.Resolve", errMissingTitlekek)
	}

	dec, err := crypto.ECBDecrypt(t, titlekek)
	if err != nil {
		return nil, corecb.New(corecb.KindCrypto, "ticket.Resolve", err)
	}
	return dec, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
