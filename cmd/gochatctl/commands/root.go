// Package commands implements the gochatctl subcommands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gochatd/internal/store"
)

var (
	// creds is the credential store handle, opened in PersistentPreRunE and
	// closed in PersistentPostRunE.
	creds *store.Credentials

	// storePath is the filesystem path to the credential store file.
	storePath string
)

// rootCmd is the top-level cobra command for gochatctl.
var rootCmd = &cobra.Command{
	Use:   "gochatctl",
	Short: "Offline administration for the gochatd credential store",
	Long:  "gochatctl reads and writes the gochatd credential store file directly; it does not speak the wire protocol.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		c, err := store.Open(storePath)
		if err != nil {
			return fmt.Errorf("open store %q: %w", storePath, err)
		}
		creds = c
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if creds == nil {
			return nil
		}
		if err := creds.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "gochatd.db",
		"path to the credential store file")

	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
