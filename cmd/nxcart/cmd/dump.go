package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartkit/nxcart/pkg/cartridge"
	"github.com/cartkit/nxcart/pkg/nca"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the header fields of a gamecard image (.xci) or a content archive (.nca)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmdLoadConfig(); err != nil {
			return err
		}
		return runDump(args[0])
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func runDump(path string) error {
	vault, err := loadVault()
	if err != nil {
		return fmt.Errorf("loading key vault: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw := make([]byte, cartridge.HeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	if h, err := cartridge.ParseHeader(raw, vault.XciHeaderKey, nil); err == nil {
		dumpCartridgeHeader(h)
		return nil
	}

	h, err := nca.ParseHeader(f, vault.HeaderKey)
	if err != nil {
		return fmt.Errorf("%s is neither a recognizable gamecard image nor a content archive: %w", path, err)
	}
	dumpNcaHeader(h)
	return nil
}

func dumpCartridgeHeader(h *cartridge.Header) {
	fmt.Println("Gamecard header")
	fmt.Printf("  PackageID:            %016X\n", h.PackageID)
	fmt.Printf("  RomSize:              0x%02X\n", h.RomSize)
	fmt.Printf("  HeaderVersion:        %d\n", h.HeaderVersion)
	fmt.Printf("  SecureAreaStart:      0x%X (media units)\n", h.SecureAreaStartAddress)
	fmt.Printf("  ValidDataEnd:         0x%X (media units)\n", h.ValidDataEndAddress)
	fmt.Printf("  HasLogoPartition:     %t\n", h.HasLogoPartition())
	fmt.Printf("  BundledFwVersion:     %d\n", h.Encrypted.CupVersion)
}

func dumpNcaHeader(h *nca.Header) {
	fmt.Println("Content archive header")
	fmt.Printf("  Magic:           %s\n", h.Magic)
	fmt.Printf("  ContentType:     %d\n", h.ContentType)
	fmt.Printf("  KeyGeneration:   %d (effective: %d)\n", h.KeyGeneration, h.Generation())
	fmt.Printf("  ContentSize:     %d\n", h.ContentSize)
	fmt.Printf("  ProgramID:       %016X\n", h.ProgID)
	fmt.Printf("  RightsID:        %X\n", h.RightsID)
	for i, fh := range h.FsHeaders {
		if start, end, ok := h.SectionByteRange(i); ok {
			fmt.Printf("  Section[%d]:      [0x%X, 0x%X) crypto=%d\n", i, start, end, fh.CryptoType)
		}
	}
}
