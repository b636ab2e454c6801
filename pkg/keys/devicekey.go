package keys

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

// DevicePrivateKey is an alias of the crypto package's raw-exponent RSA key,
// re-exported here because this is where it's assembled from the
// calibration blob.
type DevicePrivateKey = crypto.DevicePrivateKey

const (
	calibrationCtrSize     = 0x10
	calibrationPayloadSize = 0x230
	calibrationMarkerSize  = 0x4
	calibrationBlockSize   = calibrationCtrSize + calibrationPayloadSize + calibrationMarkerSize

	// rsa2048Sha1SignatureMarker is the trailing marker value indicating the
	// calibration payload holds an RSA-2048-SHA1 signing key, the only
	// recognized device-key type.
	rsa2048Sha1SignatureMarker = 0x00010005

	// standardPublicExponent is the fixed public exponent (65537) every
	// retail eTicket device key uses; the calibration blob does not carry
	// E explicitly, only D and N.
	standardPublicExponent = 65537
)

// DeriveDeviceKey slices {ctr, rsa_priv_payload,
// marker} out of the calibration blob, AES-CTR-decrypt the payload with
// eticket_rsa_kek and ctr, verify the trailing marker, extract D and N (E is
// the fixed standard exponent), and self-test the recovered keypair.
func (b *VaultBuilder) DeriveDeviceKey(calibration []byte) error {
	if b.vault.EticketRSAKek == nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveDeviceKey", fmt.Errorf("eticket_rsa_kek not loaded"))
	}
	if len(calibration) < calibrationBlockSize {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveDeviceKey", fmt.Errorf("calibration blob too short"))
	}

	ctr := calibration[:calibrationCtrSize]
	payload := append([]byte{}, calibration[calibrationCtrSize:calibrationCtrSize+calibrationPayloadSize]...)
	marker := calibration[calibrationCtrSize+calibrationPayloadSize : calibrationBlockSize]

	stream, err := crypto.NewCTRStream(b.vault.EticketRSAKek, ctr, 0)
	if err != nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveDeviceKey", err)
	}
	stream.XORKeyStream(payload, payload)

	if binary.BigEndian.Uint32(marker) != rsa2048Sha1SignatureMarker {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveDeviceKey", fmt.Errorf("calibration payload is not RSA-2048-SHA1"))
	}

	d := new(big.Int).SetBytes(payload[0x000:0x100])
	n := new(big.Int).SetBytes(payload[0x100:0x200])

	dev := &DevicePrivateKey{D: d, N: n, E: big.NewInt(standardPublicExponent)}
	if err := dev.SelfTest(); err != nil {
		return corecb.New(corecb.KindKeyVault, "keys.DeriveDeviceKey", fmt.Errorf("device key self-test failed: %w", err))
	}

	b.vault.Device = dev
	return nil
}
