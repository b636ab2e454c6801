package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cartkit/nxcart/pkg/crypto"
	"github.com/cartkit/nxcart/pkg/keys"
	"github.com/cartkit/nxcart/pkg/nca"
	"github.com/cartkit/nxcart/pkg/ncz"
	"github.com/cartkit/nxcart/pkg/pfs0"
)

var packNszCmd = &cobra.Command{
	Use:   "pack-nsz <file.nca>",
	Short: "Repackage a decryptable content archive into a compressed NCZ container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmdLoadConfig(); err != nil {
			return err
		}
		return runPackNsz(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(packNszCmd)
}

func runPackNsz(ctx context.Context, path string) error {
	vault, err := loadVault()
	if err != nil {
		return fmt.Errorf("loading key vault: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	h, err := nca.ParseHeader(f, vault.HeaderKey)
	if err != nil {
		return fmt.Errorf("%s is not a content archive: %w", path, err)
	}
	if err := h.DecryptKeyArea(vault, nil); err != nil {
		return fmt.Errorf("decrypting key area (rights-id titles need a ticket, not yet supported by pack-nsz): %w", err)
	}

	sections, err := ncz.BuildSectionTable(f, h)
	if err != nil {
		return err
	}

	var src io.ReaderAt = f
	if h.ContentType == nca.ContentTypeProgram {
		src, err = rewriteProgramArchive(f, h, vault)
		if err != nil {
			return fmt.Errorf("rewriting program header: %w", err)
		}
	}

	outPath := strings.TrimSuffix(path, ".nca") + ".ncz"
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	nh := ncz.NewHeader(ncz.DefaultBlockSizeExp)
	if err := nh.Write(out); err != nil {
		return err
	}

	written, err := ncz.CompressArchive(ctx, src, out, sections, nca.FullHeaderSize, info.Size(), ncz.DefaultBlockSizeExp, compressionLevel)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s (%d bytes)\n", outPath, written)
	return nil
}

// rewriteProgramArchive locates the PFS0 section hosting the program's
// main.npdm, re-signs the npdm header and patches its embedded ACID
// public key to match, recomputes that section's stored hash, and returns
// a reader presenting the archive with all three edits applied in place
// of f's raw bytes.
func rewriteProgramArchive(f *os.File, h *nca.Header, vault *keys.Vault) (io.ReaderAt, error) {
	var (
		metaSection nca.SectionReader
		metaPfs0    *pfs0.Reader
		sectionIdx  int
		sectionOff  int64
		found       bool
	)

	for i := 0; i < 4; i++ {
		start, _, ok := h.SectionByteRange(i)
		if !ok {
			continue
		}
		sr, err := h.OpenSection(f, i)
		if err != nil {
			continue
		}
		r, err := pfs0.Open(sr, 0)
		if err != nil {
			continue
		}
		if _, ok := r.EntryByName("main.npdm"); ok {
			metaSection, metaPfs0, sectionIdx, sectionOff = sr, r, i, start
			found = true
			break
		}
		if !found {
			metaSection, metaPfs0, sectionIdx, sectionOff = sr, r, i, start
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("no PFS0 section found to host the program's meta file")
	}

	spans, err := nca.RewriteProgramHeader(h, metaPfs0, sectionOff)
	if err != nil {
		return nil, err
	}

	var acidSpan *nca.PatchSpan
	for i := range spans {
		if h.ApplyHeaderPatch(spans[i]) {
			continue
		}
		acidSpan = &spans[i]
	}
	if acidSpan == nil {
		return nil, fmt.Errorf("expected an ACID public-key patch span outside the header")
	}

	fh := h.FsHeaders[sectionIdx]
	if fh.CryptoType != nca.CryptoTypeCTR {
		return nil, fmt.Errorf("program section %d uses an unsupported crypto type %d for header rewrite", sectionIdx, fh.CryptoType)
	}
	counter := make([]byte, 16)
	copy(counter[0:8], fh.CryptoCounter[:])
	secRelOffset := acidSpan.Offset - sectionOff

	plain := make([]byte, metaSection.Size())
	if _, err := metaSection.ReadAt(plain, 0); err != nil {
		return nil, fmt.Errorf("reading section %d for hash recompute: %w", sectionIdx, err)
	}
	copy(plain[secRelOffset:secRelOffset+int64(len(acidSpan.Bytes))], acidSpan.Bytes)
	hashSpan := nca.RecomputeSectionHash(sectionIdx, crypto.SHA256(plain))
	h.ApplyHeaderPatch(hashSpan)
	// The section hash lies inside the signed [0x200, 0x400) range, so sign again.
	if _, err := nca.RewriteProgramHeader(h, metaPfs0, sectionOff); err != nil {
		return nil, err
	}

	newHeader, err := h.EncryptedHeader(vault.HeaderKey)
	if err != nil {
		return nil, err
	}

	stream, err := crypto.NewCTRStream(h.DecryptedKeyArea[2], counter, secRelOffset)
	if err != nil {
		return nil, err
	}
	cipherPatch := append([]byte{}, acidSpan.Bytes...)
	stream.XORKeyStream(cipherPatch, cipherPatch)

	return nca.NewPatchedReader(f, []nca.PatchSpan{
		{Offset: 0, Bytes: newHeader},
		{Offset: acidSpan.Offset, Bytes: cipherPatch},
	}), nil
}
