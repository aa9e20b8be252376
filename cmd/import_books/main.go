package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"library-circulation/internal/config"
	"library-circulation/internal/logging"
	"library-circulation/library"
)

// importEntry is one element of the import file. Copies sets both counters
// when the explicit counters are absent.
type importEntry struct {
	library.Book
	Copies int `json:"copies"`
}

type importResult struct {
	Added, Skipped, Failed int
}

func main() {
	var dbPath string

	cmd := &cobra.Command{
		Use:           "import_books FILE.json",
		Short:         "Load a JSON array of books into the catalog, skipping ISBNs already present",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg struct {
				DB  library.Config
				Log logging.LoggerConfig `envPrefix:"LOG_"`
			}
			if err := config.Load(&cfg, "LIBRARY"); err != nil {
				return err
			}
			if err := logging.Configure(cmd.Context(), cfg.Log, "import_books"); err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DB.Path = dbPath
			}

			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()

			manager, err := library.NewLibraryManager(cfg.DB)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer manager.Close()

			res, err := importBooks(logging.WithOperationID(cmd.Context()), manager.Catalog, f, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nImport complete!\nAdded: %d  Skipped: %d  Errors: %d\n", res.Added, res.Skipped, res.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (default $LIBRARY_DB_PATH or library.db)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func importBooks(ctx context.Context, catalog *library.Catalog, r io.Reader, out io.Writer) (importResult, error) {
	var entries []importEntry
	if err := jsoniter.NewDecoder(r).Decode(&entries); err != nil {
		return importResult{}, fmt.Errorf("decode books: %w", err)
	}

	var res importResult
	for _, e := range entries {
		book := e.Book
		if book.TotalCopies == 0 && book.AvailableCopies == 0 && e.Copies > 0 {
			book.TotalCopies, book.AvailableCopies = e.Copies, e.Copies
		}

		fmt.Fprintf(out, "Importing: %s by %s... ", truncateString(book.Title, 50), truncateString(book.Author, 30))

		err := catalog.AddBook(ctx, book)
		switch {
		case err == nil:
			fmt.Fprintln(out, "SUCCESS")
			res.Added++
		case errors.Is(err, library.ErrConflict):
			fmt.Fprintln(out, "SKIPPED (already in catalog)")
			res.Skipped++
		case errors.Is(err, library.ErrValidation):
			fmt.Fprintf(out, "ERROR - %v\n", err)
			res.Failed++
		default:
			return res, err
		}
	}
	return res, nil
}

// truncateString shortens s to maxLen characters, never splitting a rune.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
