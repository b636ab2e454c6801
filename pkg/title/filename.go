package title

import (
	"fmt"
	"strings"

	"github.com/cartkit/nxcart/pkg/cnmt"
)

// Convention selects the output filename shape for GenerateFilename.
type Convention int

const (
	ConventionFull Convention = iota
	ConventionIdAndVersion
)

// CharPolicy controls how GenerateFilename rewrites characters that
// would be troublesome as filesystem names.
type CharPolicy int

const (
	CharPolicyNone CharPolicy = iota
	CharPolicyIllegalFsOnly
	CharPolicyAsciiOnly
)

var illegalFsChars = `<>:"/\|?*`

func metaTypeLabel(t cnmt.MetaType) string {
	switch t {
	case cnmt.MetaTypeApplication:
		return "Application"
	case cnmt.MetaTypePatch:
		return "Patch"
	case cnmt.MetaTypeAddOnContent:
		return "AddOnContent"
	case cnmt.MetaTypeDelta:
		return "Delta"
	default:
		return fmt.Sprintf("Type%02X", byte(t))
	}
}

func applyCharPolicy(s string, policy CharPolicy) string {
	switch policy {
	case CharPolicyIllegalFsOnly:
		return strings.Map(func(r rune) rune {
			if strings.ContainsRune(illegalFsChars, r) {
				return '_'
			}
			return r
		}, s)
	case CharPolicyAsciiOnly:
		return strings.Map(func(r rune) rune {
			if r > 127 || strings.ContainsRune(illegalFsChars, r) {
				return '_'
			}
			return r
		}, s)
	default:
		return s
	}
}

// GenerateFilename builds a display filename for a title. name is the
// localized title name (ignored for IdAndVersion).
func GenerateFilename(info *TitleInfo, name string, convention Convention, policy CharPolicy) string {
	typeLabel := metaTypeLabel(info.Type)

	var out string
	switch convention {
	case ConventionIdAndVersion:
		out = fmt.Sprintf("%016X_v%d_%s", info.TitleID, info.Version, typeLabel)
	default:
		out = fmt.Sprintf("[%s] [%016X][v%d][%s]", name, info.TitleID, info.Version, typeLabel)
	}
	return applyCharPolicy(out, policy)
}

// GenerateGamecardFilename joins the per-content filenames of every title
// present on a gamecard with " + ".
func GenerateGamecardFilename(infos []*TitleInfo, names map[uint64]string, convention Convention, policy CharPolicy) string {
	parts := make([]string, 0, len(infos))
	for _, info := range infos {
		parts = append(parts, GenerateFilename(info, names[info.TitleID], convention, policy))
	}
	return strings.Join(parts, " + ")
}
