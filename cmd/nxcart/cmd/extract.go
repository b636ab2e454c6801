package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cartkit/nxcart/internal/extract"
	"github.com/cartkit/nxcart/pkg/keys"
	"github.com/cartkit/nxcart/pkg/nca"
	"github.com/cartkit/nxcart/pkg/pfs0"
)

var extractOutDir string

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract the decrypted sections of a content archive, or every content archive in a content package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmdLoadConfig(); err != nil {
			return err
		}
		return runExtract(cmd.Context(), args[0])
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutDir, "out", "o", ".", "Output directory")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(ctx context.Context, path string) error {
	vault, err := loadVault()
	if err != nil {
		return fmt.Errorf("loading key vault: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if r, err := pfs0.Open(f, 0); err == nil {
		return extractPackage(ctx, r, vault)
	}

	h, err := nca.ParseHeader(f, vault.HeaderKey)
	if err != nil {
		return fmt.Errorf("%s is neither a content package nor a content archive: %w", path, err)
	}
	if err := h.DecryptKeyArea(vault, nil); err != nil {
		return fmt.Errorf("decrypting key area (rights-id titles need a ticket, not yet supported by extract): %w", err)
	}

	name := filepath.Base(path)
	target := extract.Target{Name: name, Header: h, Reader: f}
	return extract.Run(ctx, []extract.Target{target}, 1, sectionFileSink)
}

// extractPackage decrypts and emits every content archive entry of a
// package concurrently: each archive's header is decrypted before its
// section readers are built, sections are emitted in order, and
// concurrency is bounded across archives the way pkg/ncz.compressBlocks
// bounds concurrency across compression blocks.
func extractPackage(ctx context.Context, r *pfs0.Reader, vault *keys.Vault) error {
	if err := os.MkdirAll(extractOutDir, 0o755); err != nil {
		return err
	}

	var targets []extract.Target
	for _, e := range r.Entries() {
		if !strings.HasSuffix(e.Name, ".nca") {
			dstPath := filepath.Join(extractOutDir, e.Name)
			dst, err := os.Create(dstPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, r.OpenEntry(e)); err != nil {
				dst.Close()
				return fmt.Errorf("extracting %s: %w", e.Name, err)
			}
			dst.Close()
			fmt.Printf("extracted %s\n", e.Name)
			continue
		}

		sr := r.OpenEntry(e)
		h, err := nca.ParseHeader(sr, vault.HeaderKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", e.Name, err)
			continue
		}
		if err := h.DecryptKeyArea(vault, nil); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s (rights-id titles need a ticket): %v\n", e.Name, err)
			continue
		}
		targets = append(targets, extract.Target{Name: strings.TrimSuffix(e.Name, ".nca"), Header: h, Reader: sr})
	}

	return extract.Run(ctx, targets, runtime.NumCPU(), sectionFileSink)
}

func sectionFileSink(ctx context.Context, target extract.Target, sectionIndex int, section nca.SectionReader, size int64) error {
	dir := filepath.Join(extractOutDir, target.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(dir, fmt.Sprintf("section%d.bin", sectionIndex)))
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.NewSectionReader(section, 0, size)); err != nil {
		return err
	}
	fmt.Printf("extracted %s/section%d.bin (%d bytes)\n", target.Name, sectionIndex, size)
	return nil
}
