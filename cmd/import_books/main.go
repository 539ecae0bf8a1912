package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
)

// bookRow is one line of the seed file: title,author,isbn,year,copies. Only
// title and author are required.
type bookRow struct {
	line   int
	title  string
	author string
	opts   []library.BookOption
}

func main() {
	var dbPath, driver string
	var reset bool

	cmd := &cobra.Command{
		Use:           "import_books FILE.csv",
		Short:         "Load books into the catalog from a CSV file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset {
				resetDatabase(cmd.OutOrStdout(), dbPath)
			}
			return run(cmd.Context(), cmd.OutOrStdout(), dbPath, driver, args[0])
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "library.db", "SQLite file path or PostgreSQL DSN")
	cmd.Flags().StringVar(&driver, "driver", library.DriverSQLite3, "database driver")
	cmd.Flags().BoolVar(&reset, "reset", false, "remove existing SQLite database files first")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resetDatabase(out io.Writer, dbPath string) {
	fmt.Fprintln(out, "Cleaning up existing database files...")
	for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(out, "Warning: Could not remove %s: %v\n", file, err)
		}
	}
}

func run(ctx context.Context, out io.Writer, dbPath, driver, csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return err
	}

	manager, err := library.NewLibraryManager(dbPath, library.WithDriver(driver))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	successCount, errorCount := 0, 0
	for _, r := range rows {
		fmt.Fprintf(out, "Importing: %s by %s... ", r.title, r.author)
		id, err := manager.AddBook(ctx, r.title, r.author, r.opts...)
		if err != nil {
			fmt.Fprintf(out, "ERROR (line %d) - %v\n", r.line, err)
			errorCount++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", id)
		successCount++
	}

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d books\n", successCount)
	fmt.Fprintf(out, "Errors: %d\n", errorCount)
	return nil
}

// readRows parses the seed file. A first line starting with "title" is
// treated as a header.
func readRows(r io.Reader) ([]bookRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []bookRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "title") {
			continue
		}
		row, err := parseRow(line, rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func parseRow(line int, rec []string) (bookRow, error) {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	row := bookRow{line: line, title: field(0), author: field(1)}
	if isbn := field(2); isbn != "" {
		row.opts = append(row.opts, library.WithISBN(isbn))
	}
	if y := field(3); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return bookRow{}, fmt.Errorf("line %d: invalid year %q", line, y)
		}
		row.opts = append(row.opts, library.WithPublicationYear(year))
	}
	if c := field(4); c != "" {
		copies, err := strconv.Atoi(c)
		if err != nil {
			return bookRow{}, fmt.Errorf("line %d: invalid copies %q", line, c)
		}
		row.opts = append(row.opts, library.WithCopies(copies))
	}
	return row, nil
}
