package keys

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// keyLineSplit accepts either "name = hex" or "name, hex": "one
// name = hex per line... tolerate surrounding whitespace and either = or ,
// separators; names are case-insensitive."
var keyLineSplit = regexp.MustCompile(`[=,]`)

var titlekekRe = regexp.MustCompile(`^titlekek_([0-9a-f]{2})$`)
var kaekRe = regexp.MustCompile(`^key_area_key_(application|ocean|system)_([0-9a-f]{2})$`)
var masterKeyRe = regexp.MustCompile(`^master_key_([0-9a-f]{2})$`)

// LoadKeyFile parses the external key file and installs every
// recognized entry into the builder: eticket_rsa_kek, xci_header_key,
// titlekek_XX,
// key_area_key_<src>_XX (direct, bypassing the seal/unseal chain for
// deployments that only have the final derived keys), master_key_XX (feeds
// DeriveKeyAreaKeys/DeriveTitleKeks/DeriveHeaderKey), and the raw seed
// sources the memory scan would otherwise have to find
// (header_kek_source, header_key_source, key_area_key_*_source,
// titlekek_source), so a key file alone is sufficient without ever running
// the memory scan. An empty or unparseable file is fatal.
func (b *VaultBuilder) LoadKeyFile(data []byte) (int, error) {
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := keyLineSplit.Split(line, 2)
		if len(parts) != 2 {
			continue
		}

		name := strings.ToLower(strings.TrimSpace(parts[0]))
		valHex := strings.TrimSpace(parts[1])

		val, err := hex.DecodeString(valHex)
		if err != nil {
			continue
		}

		if b.installKeyFileEntry(name, val) {
			count++
			b.vault.SourcedFromFile++
		}
	}
	if err := scanner.Err(); err != nil {
		return count, corecb.New(corecb.KindKeyVault, "keys.LoadKeyFile", err)
	}
	if count == 0 {
		return 0, corecb.New(corecb.KindKeyVault, "keys.LoadKeyFile", fmt.Errorf("no recognized keys in key file"))
	}
	return count, nil
}

func (b *VaultBuilder) installKeyFileEntry(name string, val []byte) bool {
	switch {
	case name == "eticket_rsa_kek":
		b.vault.EticketRSAKek = val
		return true

	case name == "xci_header_key":
		b.vault.XciHeaderKey = val
		return true

	case name == "header_kek_source" || name == "header_key_source" ||
		name == "key_area_key_application_source" ||
		name == "key_area_key_ocean_source" ||
		name == "key_area_key_system_source" ||
		name == "titlekek_source":
		b.SetPendingSource(name, val)
		return true

	case masterKeyRe.MatchString(name):
		m := masterKeyRe.FindStringSubmatch(name)
		gen := mustHexByte(m[1])
		b.SetMasterKey(gen, val)
		return true

	case titlekekRe.MatchString(name):
		m := titlekekRe.FindStringSubmatch(name)
		gen := mustHexByte(m[1])
		b.vault.titlekek[gen] = val
		return true

	case kaekRe.MatchString(name):
		m := kaekRe.FindStringSubmatch(name)
		gen := mustHexByte(m[2])
		var src KaekSource
		switch m[1] {
		case "application":
			src = KaekApplication
		case "ocean":
			src = KaekOcean
		case "system":
			src = KaekSystem
		}
		b.vault.kaek[gen][src] = val
		return true
	}
	return false
}

func mustHexByte(s string) int {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return int(v)
}
