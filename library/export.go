package library

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
)

// Format selects how result sets are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, csv or json)", s)
	}
}

var (
	bookHeader   = []string{"ID", "Title", "Author", "ISBN", "Year", "Available copies"}
	memberHeader = []string{"ID", "First name", "Last name", "Email", "Phone"}
	loanHeader   = []string{"Loan ID", "Book", "Member", "Loan date", "Due date", "Return date"}
	recordHeader = []string{"Loan ID", "Title", "Author", "Loan date", "Due date", "Returned"}
)

// NotReturned marks an outstanding loan in rendered history.
const NotReturned = "not returned"

// WriteBooks renders books with a header row.
func WriteBooks(w io.Writer, f Format, books []*Book) error {
	if f == FormatJSON {
		return writeJSON(w, books)
	}
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{
			itoa(b.ID), b.Title, b.Author, str(b.ISBN), year(b.PublicationYear), itoa(b.AvailableCopies),
		})
	}
	return writeRows(w, f, bookHeader, rows)
}

// WriteMembers renders members with a header row.
func WriteMembers(w io.Writer, f Format, members []*Member) error {
	if f == FormatJSON {
		return writeJSON(w, members)
	}
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{itoa(m.ID), m.FirstName, m.LastName, str(m.Email), str(m.Phone)})
	}
	return writeRows(w, f, memberHeader, rows)
}

// WriteLoans renders the loan export with a header row.
func WriteLoans(w io.Writer, f Format, loans []*LoanExportRow) error {
	if f == FormatJSON {
		return writeJSON(w, loans)
	}
	rows := make([][]string, 0, len(loans))
	for _, l := range loans {
		rows = append(rows, []string{
			itoa(l.LoanID), l.Title, l.MemberName, l.LoanDate.String(), l.DueDate.String(), date(l.ReturnDate, ""),
		})
	}
	return writeRows(w, f, loanHeader, rows)
}

// WriteLoanHistory renders a member's loan history. Outstanding loans show
// NotReturned in the last column.
func WriteLoanHistory(w io.Writer, f Format, records []*LoanRecord) error {
	if f == FormatJSON {
		return writeJSON(w, records)
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			itoa(r.LoanID), r.Title, r.Author, r.LoanDate.String(), r.DueDate.String(), date(r.ReturnDate, NotReturned),
		})
	}
	return writeRows(w, f, recordHeader, rows)
}

func writeRows(w io.Writer, f Format, header []string, rows [][]string) error {
	switch f {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	case FormatTable:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		writeLine(tw, header)
		for _, r := range rows {
			writeLine(tw, r)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

func writeLine(w io.Writer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

func writeJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func year(y *int64) string {
	if y == nil {
		return ""
	}
	return itoa(*y)
}

func date(d *Date, missing string) string {
	if d == nil {
		return missing
	}
	return d.String()
}
