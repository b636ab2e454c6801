package cartridge

import (
	"fmt"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/hashfs"
)

// cartridgeReaderAt adapts Cartridge.Read to io.ReaderAt so hashfs can sit
// directly on top of the area-routed storage.
type cartridgeReaderAt struct{ c *Cartridge }

func (r cartridgeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.c.Read(p, off)
}

// PartitionContext opens the root HFS0 and, for anything other than
// PartitionRoot, descends into the matching child entry (update, logo,
// normal, secure, boot) named the way gcdumptool's hash-FS partitions are,
// returning an hashfs.Reader rooted at that child. Callers that need the
// root partition directly pass PartitionRoot.
func (c *Cartridge) PartitionContext(kind hashfs.PartitionType) (*hashfs.Reader, error) {
	h := c.Header()
	if h == nil {
		return nil, corecb.New(corecb.KindStorage, "cartridge.PartitionContext", fmt.Errorf("no header loaded"))
	}

	root, err := hashfs.Open(cartridgeReaderAt{c}, int64(h.PartitionFsHeaderAddr))
	if err != nil {
		return nil, err
	}
	if kind == hashfs.PartitionRoot {
		return root, nil
	}

	name, err := partitionName(kind, h)
	if err != nil {
		return nil, err
	}
	entry, ok := root.EntryByName(name)
	if !ok {
		return nil, corecb.New(corecb.KindParse, "cartridge.PartitionContext", fmt.Errorf("partition %q not present on this cartridge", name))
	}
	return hashfs.Open(cartridgeReaderAt{c}, entry.Offset)
}

func partitionName(kind hashfs.PartitionType, h *Header) (string, error) {
	switch kind {
	case hashfs.PartitionUpdate:
		return "update", nil
	case hashfs.PartitionLogo:
		if !h.HasLogoPartition() {
			return "", corecb.New(corecb.KindUnsupported, "cartridge.PartitionContext", fmt.Errorf("logo partition not present on this firmware generation"))
		}
		return "logo", nil
	case hashfs.PartitionNormal:
		return "normal", nil
	case hashfs.PartitionSecure:
		return "secure", nil
	case hashfs.PartitionBoot:
		return "boot", nil
	default:
		return "", corecb.New(corecb.KindUnsupported, "cartridge.PartitionContext", fmt.Errorf("unknown partition type %d", kind))
	}
}

// EntryByName is a one-shot lookup: resolve a single entry's absolute
// offset and size from the requested partition without building and
// discarding a full PartitionContext in caller code.
func (c *Cartridge) EntryByName(kind hashfs.PartitionType, name string) (offset, size int64, err error) {
	ctx, err := c.PartitionContext(kind)
	if err != nil {
		return 0, 0, err
	}
	e, ok := ctx.EntryByName(name)
	if !ok {
		return 0, 0, corecb.New(corecb.KindParse, "cartridge.EntryByName", fmt.Errorf("entry %q not found", name))
	}
	return e.Offset, e.Size, nil
}
