package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/xdcstore/internal/catalog"
)

func init() {
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import all *.xdc bundles from a directory into the store",
	Long: `Import parses every *.xdc bundle in the given directory and publishes
the valid ones into the data dir. Run it while the server is stopped; the
server picks up the result on the next start.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	cat, err := catalog.Load(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	results, err := cat.ImportDir(args[0])
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintf(os.Stdout, "No xdcs to add in %s\n", args[0])
		return nil
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stdout, "Skipped %s: %v\n", r.Path, r.Err)
			continue
		}
		fmt.Fprintf(os.Stdout, "Added %s %s to apps\n", r.App.Name, r.App.Version)
	}

	if failed > 0 {
		return fmt.Errorf("%d bundle(s) failed to import", failed)
	}
	return nil
}
