package library

import (
	"context"
	"io"
)

// LibraryManager is a thin façade over the stores and the ledger, giving the
// CLI a single stable surface.
type LibraryManager struct {
	db      *Database
	catalog *CatalogStore
	members *MemberStore
	ledger  *LoanLedger
}

// NewLibraryManager opens (or creates) the database at target and wires the
// stores to it.
func NewLibraryManager(target string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewLibraryManagerFromDatabase(db), nil
}

// NewLibraryManagerFromDatabase wires the stores to an already open database.
func NewLibraryManagerFromDatabase(db *Database) *LibraryManager {
	catalog := NewCatalogStore(db)
	members := NewMemberStore(db)
	return &LibraryManager{
		db:      db,
		catalog: catalog,
		members: members,
		ledger:  NewLoanLedger(db, catalog, members),
	}
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, title, author string, opts ...BookOption) (int64, error) {
	return lm.catalog.AddBook(ctx, title, author, opts...)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.catalog.GetBook(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context) ([]*Book, error) {
	return lm.catalog.GetAllBooks(ctx)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	return lm.catalog.SearchBooks(ctx, q)
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	return lm.catalog.DeleteBook(ctx, id)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, firstName, lastName string, opts ...MemberOption) (int64, error) {
	return lm.members.AddMember(ctx, firstName, lastName, opts...)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.members.GetMember(ctx, id)
}

func (lm *LibraryManager) ListMembers(ctx context.Context) ([]*Member, error) {
	return lm.members.GetAllMembers(ctx)
}

func (lm *LibraryManager) SearchMembers(ctx context.Context, q string) ([]*Member, error) {
	return lm.members.SearchMembers(ctx, q)
}

// DeleteMember removes a member and their loans, restocking copies they still
// had out.
func (lm *LibraryManager) DeleteMember(ctx context.Context, id int64) error {
	return lm.ledger.RemoveMember(ctx, id)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) Borrow(ctx context.Context, bookID, memberID int64) (int64, error) {
	return lm.ledger.Borrow(ctx, bookID, memberID)
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, bookID, memberID int64) error {
	return lm.ledger.ReturnBook(ctx, bookID, memberID)
}

// LoanHistory lists a member's loans, most recent first.
func (lm *LibraryManager) LoanHistory(ctx context.Context, memberID int64) ([]*LoanRecord, error) {
	return lm.ledger.GetLoanHistory(ctx, memberID)
}

func (lm *LibraryManager) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	return lm.ledger.GetLoan(ctx, id)
}

// ------------------ Export ------------------

// ExportBooks writes every book to w in the given format.
func (lm *LibraryManager) ExportBooks(ctx context.Context, w io.Writer, f Format) error {
	books, err := lm.catalog.GetAllBooks(ctx)
	if err != nil {
		return err
	}
	return WriteBooks(w, f, books)
}

// ExportMembers writes every member to w in the given format.
func (lm *LibraryManager) ExportMembers(ctx context.Context, w io.Writer, f Format) error {
	members, err := lm.members.GetAllMembers(ctx)
	if err != nil {
		return err
	}
	return WriteMembers(w, f, members)
}

// ExportLoans writes every loan, joined with book title and member name.
func (lm *LibraryManager) ExportLoans(ctx context.Context, w io.Writer, f Format) error {
	loans, err := lm.ledger.ListLoans(ctx)
	if err != nil {
		return err
	}
	return WriteLoans(w, f, loans)
}
