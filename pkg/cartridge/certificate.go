package cartridge

import (
	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/crypto"
)

// Certificate is the raw 0x200-byte blob read from CertificateOffset. It
// is opaque CA/XS certificate material; this package's interest in
// it is limited to retrieval and digest verification.
type Certificate [certificateSize]byte

// knownCertificateDigests maps a certificate label to its SHA-256 digest.
// It starts empty: no digest (not even those of the CA00000003, XS00000020
// and XS00000021 certificates) is built in, and entries are added only
// through RegisterKnownCertificateDigest. Verifying a dumped certificate
// against this table (VerifyCertificateHash) lets a caller confirm it
// picked up a known-good cert before bundling it alongside a ticket in a
// content package.
var knownCertificateDigests = map[string][32]byte{}

// RegisterKnownCertificateDigest adds a (label, digest) pair to the
// verification table. Exposed rather than hardcoded so deployments can
// supply the exact retail/dev digests they trust without requiring real
// certificate material to be baked into this module's source.
func RegisterKnownCertificateDigest(label string, digest [32]byte) {
	knownCertificateDigests[label] = digest
}

// VerifyCertificateHash reports the label of the known certificate cert
// matches, or an Integrity error if it matches none of the registered
// digests.
func VerifyCertificateHash(cert Certificate) (string, error) {
	digest := crypto.SHA256(cert[:])
	for label, want := range knownCertificateDigests {
		if digest == want {
			return label, nil
		}
	}
	return "", corecb.New(corecb.KindIntegrity, "cartridge.VerifyCertificateHash", errUnknownCertificate)
}
