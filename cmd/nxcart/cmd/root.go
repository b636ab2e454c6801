// Package cmd implements the nxcart command-line tool: a Cobra-based CLI
// over the key-vault, cartridge, and content-archive packages, with one
// file per verb (dump, extract, titles, pack-nsz).
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"

	"github.com/cartkit/nxcart/pkg/keys"
)

var (
	keysPath         string
	debug            bool
	compressionLevel int
	logLevel         slog.LevelVar
)

var rootCmd = &cobra.Command{
	Use:   "nxcart",
	Short: "Inspect, extract, and repackage Nintendo Switch cartridge and content-archive images",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute runs the root command. Called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().StringVarP(&keysPath, "keys", "k", "", "Path to prod.keys (defaults to $HOME/.switch/prod.keys)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVarP(&compressionLevel, "level", "l", 18, "Compression level for NCZ output (1-22, higher = slower but smaller)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// rootCmdLoadConfig resolves persistent flags through viper, centralizing
// validation ahead of each subcommand's own RunE.
func rootCmdLoadConfig() error {
	if viper.GetBool("debug") {
		logLevel.Set(slog.LevelDebug)
	}
	keysPath = viper.GetString("keys")
	compressionLevel = viper.GetInt("level")
	if compressionLevel < 1 || compressionLevel > 22 {
		compressionLevel = 18
	}
	return nil
}

// defaultKeysPath is the fallback location for the key file when --keys
// is not given.
func defaultKeysPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.switch/prod.keys"
}

// loadVault builds the process key vault from the resolved --keys path,
// running the full derivation chain: header key, key-area keys, and title
// keks.
func loadVault() (*keys.Vault, error) {
	return keys.Get(func(b *keys.VaultBuilder) error {
		path := keysPath
		if path == "" {
			path = defaultKeysPath()
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading key file %s: %w", path, err)
		}
		if _, err := b.LoadKeyFile(data); err != nil {
			return err
		}
		if err := b.DeriveHeaderKey(); err != nil {
			slog.Debug("header key derivation unavailable, falling back to direct key file entries", "err", err)
		}
		b.DeriveKeyAreaKeys()
		b.DeriveTitleKeks()
		return nil
	})
}
