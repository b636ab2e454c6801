package keys

import (
	"crypto/rand"
	stdrsa "crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/crypto"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestDeriveHeaderKeyChain(t *testing.T) {
	b := NewVaultBuilder()

	masterKey := randBytes(t, 0x10)
	b.SetMasterKey(0, masterKey)

	kekSource := randBytes(t, 0x10)
	keySource := randBytes(t, 0x20)
	b.SetPendingSource("header_kek_source", kekSource)
	b.SetPendingSource("header_key_source", keySource)

	require.NoError(t, b.DeriveHeaderKey())

	headerKek, err := crypto.ECBDecrypt(kekSource, masterKey)
	require.NoError(t, err)
	require.Equal(t, headerKek, b.vault.HeaderKEK)

	half0, err := crypto.ECBDecrypt(keySource[0x00:0x10], headerKek)
	require.NoError(t, err)
	half1, err := crypto.ECBDecrypt(keySource[0x10:0x20], headerKek)
	require.NoError(t, err)
	require.Equal(t, half0, b.vault.HeaderKey[0x00:0x10])
	require.Equal(t, half1, b.vault.HeaderKey[0x10:0x20])
}

func TestDeriveHeaderKeyMissingSourcesFails(t *testing.T) {
	b := NewVaultBuilder()
	b.SetMasterKey(0, randBytes(t, 0x10))
	require.Error(t, b.DeriveHeaderKey())
}

func TestDeriveKeyAreaKeysAcrossGenerations(t *testing.T) {
	b := NewVaultBuilder()

	b.SetMasterKey(0, randBytes(t, 0x10))
	b.SetMasterKey(1, randBytes(t, 0x10))
	b.SetPendingSource("key_area_key_application_source", randBytes(t, 0x10))
	b.SetPendingSource("key_area_key_ocean_source", randBytes(t, 0x10))
	b.SetPendingSource("key_area_key_system_source", randBytes(t, 0x10))

	n := b.DeriveKeyAreaKeys()
	require.Equal(t, 6, n)
	require.NotNil(t, b.vault.KeyAreaKey(0, KaekApplication))
	require.NotNil(t, b.vault.KeyAreaKey(1, KaekSystem))
	require.Nil(t, b.vault.KeyAreaKey(2, KaekApplication))
}

func TestDeriveTitleKeksFallsBackToDirectKeyFileEntry(t *testing.T) {
	b := NewVaultBuilder()
	b.SetMasterKey(5, randBytes(t, 0x10))
	direct := randBytes(t, 0x10)
	b.SetPendingSource("titlekek_05", direct)

	n := b.DeriveTitleKeks()
	require.Equal(t, 1, n)
	require.Equal(t, direct, b.vault.TitleKek(5))
}

func TestLoadKeyFileParsesAllRecognizedForms(t *testing.T) {
	b := NewVaultBuilder()
	data := []byte(`
# a comment line
eticket_rsa_kek = 000102030405060708090a0b0c0d0e0f
titlekek_00, 101112131415161718191a1b1c1d1e1f
key_area_key_application_01=202122232425262728292a2b2c2d2e2f
master_key_02 = 303132333435363738393a3b3c3d3e3f
header_kek_source=404142434445464748494a4b4c4d4e4f

not_a_key_line_without_separator
`)

	n, err := b.LoadKeyFile(data)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.Len(t, b.vault.EticketRSAKek, 0x10)
	require.NotNil(t, b.vault.titlekek[0x00])
	require.NotNil(t, b.vault.kaek[0x01][KaekApplication])
	require.Equal(t, 5, b.vault.SourcedFromFile)
	require.NotNil(t, b.PendingSource("header_kek_source"))
}

func TestLoadKeyFileEmptyIsFatal(t *testing.T) {
	b := NewVaultBuilder()
	_, err := b.LoadKeyFile([]byte("# nothing here\n\n"))
	require.Error(t, err)
}

func TestDeriveDeviceKeyRoundTrip(t *testing.T) {
	priv, err := stdrsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	b := NewVaultBuilder()
	eticketKek := randBytes(t, 0x10)
	b.vault.EticketRSAKek = eticketKek

	ctr := randBytes(t, 0x10)
	payload := make([]byte, calibrationPayloadSize)
	dBytes := priv.D.FillBytes(make([]byte, 0x100))
	nBytes := priv.N.FillBytes(make([]byte, 0x100))
	copy(payload[0x000:0x100], dBytes)
	copy(payload[0x100:0x200], nBytes)

	stream, err := crypto.NewCTRStream(eticketKek, ctr, 0)
	require.NoError(t, err)
	encrypted := make([]byte, len(payload))
	stream.XORKeyStream(encrypted, payload)

	blob := append(append([]byte{}, ctr...), encrypted...)
	blob = append(blob, 0x00, 0x01, 0x00, 0x05)

	require.NoError(t, b.DeriveDeviceKey(blob))
	require.NotNil(t, b.vault.Device)
	require.Equal(t, priv.N, b.vault.Device.N)
}

func TestDeriveDeviceKeyRejectsShortBlob(t *testing.T) {
	b := NewVaultBuilder()
	b.vault.EticketRSAKek = randBytes(t, 0x10)
	require.Error(t, b.DeriveDeviceKey(randBytes(t, 0x10)))
}

func TestDeriveDeviceKeyRequiresEticketKek(t *testing.T) {
	b := NewVaultBuilder()
	require.Error(t, b.DeriveDeviceKey(randBytes(t, calibrationBlockSize)))
}
