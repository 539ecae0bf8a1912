package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

func TestReadRows(t *testing.T) {
	rows, err := readRows(strings.NewReader("title,author,isbn,year,copies\n" +
		"Dune,Frank Herbert,978-0441013593,1965,3\n" +
		"Emma,Jane Austen\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Dune", rows[0].title)
	assert.Len(t, rows[0].opts, 3)
	assert.Equal(t, 3, rows[1].line)
	assert.Empty(t, rows[1].opts)

	_, err = readRows(strings.NewReader("Dune,Herbert,,nineteen\n"))
	assert.ErrorContains(t, err, "invalid year")
}

func TestRunImportsBooks(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"title,author,isbn,year,copies\n"+
			"Dune,Frank Herbert,978-0441013593,1965,3\n"+
			",Nobody\n"+
			"Emma,Jane Austen\n"), 0o644))
	dbPath := filepath.Join(dir, "lib.db")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, dbPath, library.DriverSQLite3, csvPath))
	assert.Contains(t, out.String(), "Successfully imported: 2 books")
	assert.Contains(t, out.String(), "Errors: 1")

	mgr, err := library.NewLibraryManager(dbPath)
	require.NoError(t, err)
	defer mgr.Close()
	books, err := mgr.ListBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.EqualValues(t, 3, books[0].AvailableCopies)
	assert.EqualValues(t, 1, books[1].AvailableCopies)
}
