package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborstack/arbor-fdr/internal/store"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "arborctl",
	Short: "Hierarchical adaptive-resolution FDR analysis from the command line",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the run store database")
}

// storePath resolves the run store location: flag, then ARBOR_STORE_PATH,
// then the daemon default.
func storePath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("ARBOR_STORE_PATH"); env != "" {
		return env
	}
	return "data/arbor.db"
}

// openStore opens the run store for browsing. Browsing never creates a
// database, so a missing file is reported instead of silently made.
func openStore(logger *slog.Logger) (*store.Store, error) {
	path := storePath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("run store not found at %s (set --db or ARBOR_STORE_PATH)", path)
	}
	return store.Open(path, logger)
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
