package nca

import (
	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/keys"
)

// DecryptKeyArea decrypts the archive's key area: if RightsID is
// all-zero, every one of the 4 key slots is AES-ECB-decrypted with
// kaek[generation][KeyAreaIndex]; otherwise the archive is rights-id bound
// and slot 2 is replaced with the resolved title-key (ticketTitleKey),
// with slots 0, 1, 3 left undefined.
func (h *Header) DecryptKeyArea(vault *keys.Vault, ticketTitleKey []byte) error {
	g := h.Generation()

	if h.hasRightsID() {
		if ticketTitleKey == nil {
			return corecb.New(corecb.KindTicket, "nca.DecryptKeyArea", errNoRightsIDTitleKey)
		}
		h.DecryptedKeyArea[2] = append([]byte{}, ticketTitleKey...)
		return nil
	}

	kaek := vault.KeyAreaKey(g, keys.KaekSource(h.KeyAreaIndex))
	if kaek == nil {
		return corecb.New(corecb.KindKeyVault, "nca.DecryptKeyArea", errMissingKaek(g, h.KeyAreaIndex))
	}

	for i := 0; i < 4; i++ {
		dec, err := crypto.ECBDecrypt(h.KeyArea[i][:], kaek)
		if err != nil {
			return corecb.New(corecb.KindCrypto, "nca.DecryptKeyArea", err)
		}
		h.DecryptedKeyArea[i] = dec
	}
	return nil
}

func (h *Header) hasRightsID() bool {
	for _, b := range h.RightsID {
		if b != 0 {
			return true
		}
	}
	return false
}
