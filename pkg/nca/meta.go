package nca

import (
	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/pfs0"
)

// LocateMetaEntry finds the single ".cnmt" entry in a metadata archive's
// PFS0 section; parsing its bytes is pkg/cnmt's job.
func LocateMetaEntry(metaPfs0 *pfs0.Reader) (pfs0.Entry, error) {
	e, ok := metaPfs0.EntryBySuffix(".cnmt")
	if !ok {
		return pfs0.Entry{}, corecb.New(corecb.KindParse, "nca.LocateMetaEntry", errNoCnmtEntry)
	}
	return e, nil
}
