package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cartkit/nxcart/pkg/cnmt"
	"github.com/cartkit/nxcart/pkg/pfs0"
	"github.com/cartkit/nxcart/pkg/title"
)

var titlesCmd = &cobra.Command{
	Use:   "titles <file.nsp>",
	Short: "List the titles described by a content package's metadata entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmdLoadConfig(); err != nil {
			return err
		}
		return runTitles(args[0])
	},
}

func init() {
	rootCmd.AddCommand(titlesCmd)
}

func runTitles(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := pfs0.Open(f, 0)
	if err != nil {
		return fmt.Errorf("%s is not a content package: %w", path, err)
	}

	graph := cnmt.NewGraph()
	for _, e := range r.Entries() {
		if !strings.HasSuffix(e.Name, ".cnmt") {
			continue
		}
		buf, err := io.ReadAll(r.OpenEntry(e))
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Name, err)
		}
		meta, err := cnmt.Parse(buf)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", e.Name, err)
		}
		graph.Put(meta, cnmt.StorageBuiltinUser)
	}
	graph.LinkParents()

	reg := title.NewRegistry()
	reg.Rebuild(graph.Entries(), nil)

	for _, orphan := range reg.OrphanTitles() {
		fmt.Fprintf(os.Stderr, "warning: %016X has no resolvable base title in this package\n", orphan.TitleID)
	}

	for _, e := range graph.Entries() {
		info, ok := reg.TitleInfoFor(cnmt.StorageBuiltinUser, e.Meta.TitleID)
		if !ok {
			continue
		}
		name := title.GenerateFilename(info, "", title.ConventionIdAndVersion, title.CharPolicyNone)
		fmt.Println(name)
		for _, rec := range e.Meta.Contents {
			fmt.Printf("  %X  type=%d  size=%d\n", rec.NcaID, rec.Type, rec.Size)
		}
	}
	return nil
}
