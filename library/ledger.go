package library

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// LoanLedger owns loan records. It is the only writer of available_copies,
// and it changes the counter in the same transaction as the loan row.
type LoanLedger struct {
	db      *Database
	catalog *CatalogStore
	members *MemberStore
}

// NewLoanLedger returns a ledger that mutates inventory through catalog.
func NewLoanLedger(db *Database, catalog *CatalogStore, members *MemberStore) *LoanLedger {
	return &LoanLedger{db: db, catalog: catalog, members: members}
}

// Borrow lends one copy of bookID to memberID and returns the new loan id.
//
// In one transaction it takes a copy from the catalog, checks that the member
// exists, and records a loan dated today and due after the lending period.
// It fails with ErrNoCopiesAvailable when the book has no copies left or does
// not exist, and with ErrNotFound when the member does not exist. On any
// failure the copy is put back by rollback.
func (l *LoanLedger) Borrow(ctx context.Context, bookID, memberID int64) (int64, error) {
	db := l.db
	loanDate := db.today()
	dueDate := loanDate.AddDays(db.loanPeriod)

	var loanID int64
	err := db.withTx(ctx, "borrow", func(tx *sqlx.Tx) error {
		ok, err := l.catalog.DecrementAvailability(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrNoCopiesAvailable, "book %d", bookID)
		}

		var exists bool
		if err := tx.QueryRowxContext(ctx, tx.Rebind(`SELECT EXISTS(SELECT 1 FROM members WHERE id=?)`), memberID).
			Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return errors.Wrapf(ErrNotFound, "member %d", memberID)
		}

		loanID, err = insertID(ctx, tx, tx.Rebind(
			`INSERT INTO loans(book_id,member_id,loan_date,due_date) VALUES(?,?,?,?)`),
			bookID, memberID, loanDate, dueDate)
		return err
	})

	switch {
	case errors.Is(err, ErrNoCopiesAvailable):
		db.metrics.borrowRejectedFor(reasonNoCopies)
		db.logger.Warn(logMsgBorrowDenied, logAttrBookID, bookID, logAttrMemberID, memberID, logAttrError, err)
		return 0, err
	case errors.Is(err, ErrNotFound):
		db.metrics.borrowRejectedFor(reasonMemberMissing)
		db.logger.Warn(logMsgBorrowDenied, logAttrBookID, bookID, logAttrMemberID, memberID, logAttrError, err)
		return 0, err
	case err != nil:
		db.logger.Error(logMsgBorrowDenied, logAttrBookID, bookID, logAttrMemberID, memberID, logAttrError, err)
		return 0, err
	}

	db.metrics.loanIssued()
	db.logger.Info(logMsgLoanIssued, logAttrLoanID, loanID, logAttrBookID, bookID, logAttrMemberID, memberID)
	return loanID, nil
}

// ReturnBook closes the most recent outstanding loan for the exact
// (bookID, memberID) pair and puts the copy back in the catalog.
//
// When the pair has no outstanding loan nothing changes and ErrNoOpenLoan is
// returned; a redundant return never inflates available_copies.
func (l *LoanLedger) ReturnBook(ctx context.Context, bookID, memberID int64) error {
	db := l.db
	today := db.today()

	var loanID int64
	err := db.withTx(ctx, "return book", func(tx *sqlx.Tx) error {
		// The outer return_date check makes a concurrent duplicate return
		// match nothing once the first one has committed.
		err := tx.QueryRowxContext(ctx, tx.Rebind(`UPDATE loans SET return_date=?
			WHERE return_date IS NULL AND id = (
				SELECT id FROM loans
				WHERE book_id=? AND member_id=? AND return_date IS NULL
				ORDER BY loan_date DESC, id DESC
				LIMIT 1
			) RETURNING id`), today, bookID, memberID).Scan(&loanID)
		if err == sql.ErrNoRows {
			return errors.Wrapf(ErrNoOpenLoan, "book %d, member %d", bookID, memberID)
		}
		if err != nil {
			return err
		}
		return l.catalog.IncrementAvailability(ctx, tx, bookID)
	})
	if errors.Is(err, ErrNoOpenLoan) {
		db.metrics.returned(outcomeNoOpenLoan)
		db.logger.Warn(logMsgNoOpenLoan, logAttrBookID, bookID, logAttrMemberID, memberID)
		return err
	}
	if err != nil {
		return err
	}

	db.metrics.returned(outcomeClosed)
	db.logger.Info(logMsgLoanReturned, logAttrLoanID, loanID, logAttrBookID, bookID, logAttrMemberID, memberID)
	return nil
}

// RemoveMember deletes a member together with their loans. Copies still out
// on open loans are put back on the shelf in the same transaction, so
// available_copies keeps matching the remaining open loans.
func (l *LoanLedger) RemoveMember(ctx context.Context, memberID int64) error {
	err := l.db.withTx(ctx, "remove member", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE books
			SET available_copies = available_copies + (
				SELECT COUNT(*) FROM loans
				WHERE loans.book_id = books.id AND loans.member_id=? AND loans.return_date IS NULL
			)
			WHERE id IN (SELECT book_id FROM loans WHERE member_id=? AND return_date IS NULL)`),
			memberID, memberID); err != nil {
			return err
		}
		return l.members.DeleteMember(ctx, tx, memberID)
	})
	if err != nil {
		return err
	}
	l.db.logger.Info(logMsgMemberDeleted, logAttrMemberID, memberID)
	return nil
}

// GetLoan fetches a single loan.
func (l *LoanLedger) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	var loan Loan
	ds := l.db.builder.From("loans").
		Select("id", "book_id", "member_id", "loan_date", "due_date", "return_date").
		Where(goqu.C("id").Eq(id))
	if err := l.db.getOne(ctx, "get loan", ds, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// countOpenLoans returns how many loans on bookID are outstanding.
func (l *LoanLedger) countOpenLoans(ctx context.Context, bookID int64) (int64, error) {
	var n int64
	ds := l.db.builder.From("loans").
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("book_id").Eq(bookID), goqu.C("return_date").IsNull())
	if err := l.db.getOne(ctx, "count open loans", ds, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetLoanHistory returns all loans of memberID joined with book title and
// author, most recent loan date first. Loans issued on the same day are
// ordered by id, newest first.
func (l *LoanLedger) GetLoanHistory(ctx context.Context, memberID int64) ([]*LoanRecord, error) {
	ds := l.db.builder.From(goqu.T("loans").As("l")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("l.book_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("b.title"),
			goqu.I("b.author"),
			goqu.I("l.loan_date"),
			goqu.I("l.due_date"),
			goqu.I("l.return_date"),
		).
		Where(goqu.I("l.member_id").Eq(memberID)).
		Order(goqu.I("l.loan_date").Desc(), goqu.I("l.id").Desc())

	records := []*LoanRecord{}
	if err := l.db.selectAll(ctx, "loan history", ds, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListLoans returns every loan joined with book title and member full name,
// in loan id order.
func (l *LoanLedger) ListLoans(ctx context.Context) ([]*LoanExportRow, error) {
	ds := l.db.builder.From(goqu.T("loans").As("l")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("l.book_id").Eq(goqu.I("b.id")))).
		Join(goqu.T(tableMembers).As("m"), goqu.On(goqu.I("l.member_id").Eq(goqu.I("m.id")))).
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("b.title"),
			goqu.L(`? || ' ' || ?`, goqu.I("m.first_name"), goqu.I("m.last_name")).As("member_name"),
			goqu.I("l.loan_date"),
			goqu.I("l.due_date"),
			goqu.I("l.return_date"),
		).
		Order(goqu.I("l.id").Asc())

	rows := []*LoanExportRow{}
	if err := l.db.selectAll(ctx, "list loans", ds, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
