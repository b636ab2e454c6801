package nca

import "fmt"

var (
	errMissingBktrKey     = fmt.Errorf("bktr subsection key/counter not available")
	errUnknownCryptType   = fmt.Errorf("unknown FS header crypt type")
	errNoRightsIDTitleKey = fmt.Errorf("rights_id set but no title-key supplied")
)

func errMissingKaek(generation int, src byte) error {
	return fmt.Errorf("key_area_key[generation=%d, src=%d] not available", generation, src)
}

func errSectionNotPresent(index int) error {
	return fmt.Errorf("section %d not present in this archive", index)
}

var (
	errMissingDecryptedHeader = fmt.Errorf("header was not parsed from a decryptable source, no plaintext to rewrite")
	errNoMetaFile             = fmt.Errorf("could not locate the program's meta file in its PFS0 section")
	errAcidMagicNotFound      = fmt.Errorf("ACID magic not found in meta file")
	errAcidSpanOutOfRange     = fmt.Errorf("ACID public key span extends past end of meta file")
	errNoCnmtEntry            = fmt.Errorf("no .cnmt entry found in metadata archive's PFS0 section")
)
