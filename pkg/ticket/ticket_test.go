package ticket

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/keys"
)

func buildRecord(t *testing.T, rightsID [0x10]byte, titlekeyBlock []byte) []byte {
	t.Helper()
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint32(buf[signatureTypeOff:signatureTypeOff+4], signatureTypeRSA2048SHA256)
	copy(buf[titlekeyBlockOff:], titlekeyBlock)
	copy(buf[rightsIDOff:rightsIDOff+0x10], rightsID[:])
	return buf
}

func TestScanRecordsClassifiesCommonByZeroTail(t *testing.T) {
	var rightsID [0x10]byte
	rightsID[0] = 0xAB
	titlekey := bytes.Repeat([]byte{0x11}, 0x10)
	raw := buildRecord(t, rightsID, titlekey)

	records, err := ScanRecords(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, KindCommon, records[0].Kind)
	require.Equal(t, titlekey, records[0].TitlekeyBlock)
}

func TestScanRecordsSkipsNonRsaSignature(t *testing.T) {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint32(buf[signatureTypeOff:signatureTypeOff+4], 0xDEADBEEF)

	records, err := ScanRecords(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFindByRightsIDReturnsErrorWhenMissing(t *testing.T) {
	var rightsID [0x10]byte
	raw := buildRecord(t, rightsID, bytes.Repeat([]byte{0x01}, 0x10))

	var wanted [0x10]byte
	wanted[0] = 0xFF
	_, err := FindByRightsID(bytes.NewReader(raw), wanted)
	require.Error(t, err)
}

func TestResolveCommonTicketDecryptsWithTitlekek(t *testing.T) {
	titlekek := bytes.Repeat([]byte{0x05}, 16)
	var plain [16]byte
	copy(plain[:], []byte("ABCDEFGH01234567"))
	enc, err := crypto.ECBEncrypt(plain[:], titlekek)
	require.NoError(t, err)

	rec := &Record{Kind: KindCommon, TitlekeyBlock: enc}

	b := keys.NewVaultBuilder()
	keyFile := []byte(fmt.Sprintf("titlekek_03 = %s\n", hex.EncodeToString(titlekek)))
	_, err = b.LoadKeyFile(keyFile)
	require.NoError(t, err)

	dec, err := Resolve(rec, b.Vault(), 0x03, nil)
	require.NoError(t, err)
	require.Equal(t, plain[:], dec)
}

func TestResolvePersonalizedWithoutDeviceKeyFails(t *testing.T) {
	rec := &Record{Kind: KindPersonalized, TitlekeyBlock: make([]byte, crypto.RSA2048ModulusSize)}
	b := keys.NewVaultBuilder()
	_, err := Resolve(rec, b.Vault(), 0, nil)
	require.Error(t, err)
}
