package library

import (
	"database/sql/driver"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day component, stored as YYYY-MM-DD.
// Lexical order of Date values matches chronological order.
type Date string

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date { return Date(t.Format(dateLayout)) }

// Time parses the date back into midnight UTC.
func (d Date) Time() (time.Time, error) { return time.Parse(dateLayout, string(d)) }

// AddDays returns the date n calendar days after d.
func (d Date) AddDays(n int) Date {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

func (d Date) String() string { return string(d) }

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) { return string(d), nil }

// Scan implements sql.Scanner. PostgreSQL drivers hand back DATE columns as
// time.Time, SQLite drivers as text.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*d = Date(v)
	case []byte:
		*d = Date(v)
	case time.Time:
		*d = DateOf(v.UTC())
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
	if len(*d) > len(dateLayout) {
		*d = (*d)[:len(dateLayout)]
	}
	return nil
}

// Book is a catalog entry and its current availability.
type Book struct {
	ID              int64   `db:"id" json:"id"`
	Title           string  `db:"title" json:"title"`
	Author          string  `db:"author" json:"author"`
	ISBN            *string `db:"isbn" json:"isbn"`
	PublicationYear *int64  `db:"publication_year" json:"publication_year"`
	AvailableCopies int64   `db:"available_copies" json:"available_copies"`
}

// Member is a registered library member.
type Member struct {
	ID        int64   `db:"id" json:"id"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Email     *string `db:"email" json:"email"`
	Phone     *string `db:"phone" json:"phone"`
}

// Loan links one book to one member. A nil ReturnDate means the loan is
// outstanding; once set it never changes.
type Loan struct {
	ID         int64 `db:"id" json:"id"`
	BookID     int64 `db:"book_id" json:"book_id"`
	MemberID   int64 `db:"member_id" json:"member_id"`
	LoanDate   Date  `db:"loan_date" json:"loan_date"`
	DueDate    Date  `db:"due_date" json:"due_date"`
	ReturnDate *Date `db:"return_date" json:"return_date"`
}

// LoanState is the lifecycle position of a loan.
type LoanState string

const (
	LoanOpen     LoanState = "OPEN"
	LoanReturned LoanState = "RETURNED"
)

// State reports OPEN until the loan has a return date.
func (l *Loan) State() LoanState {
	if l.ReturnDate == nil {
		return LoanOpen
	}
	return LoanReturned
}

// LoanRecord is one row of a member's loan history.
type LoanRecord struct {
	LoanID     int64  `db:"loan_id" json:"loan_id"`
	Title      string `db:"title" json:"title"`
	Author     string `db:"author" json:"author"`
	LoanDate   Date   `db:"loan_date" json:"loan_date"`
	DueDate    Date   `db:"due_date" json:"due_date"`
	ReturnDate *Date  `db:"return_date" json:"return_date"`
}

// Returned reports whether the loan has been closed.
func (r *LoanRecord) Returned() bool { return r.ReturnDate != nil }

// LoanExportRow is a loan joined with its book title and member name.
type LoanExportRow struct {
	LoanID     int64  `db:"loan_id" json:"loan_id"`
	Title      string `db:"title" json:"title"`
	MemberName string `db:"member_name" json:"member_name"`
	LoanDate   Date   `db:"loan_date" json:"loan_date"`
	DueDate    Date   `db:"due_date" json:"due_date"`
	ReturnDate *Date  `db:"return_date" json:"return_date"`
}
