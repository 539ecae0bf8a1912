package library

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

const (
	tableBooks = "books"
	colTitle   = "title"
	colAuthor  = "author"
	colISBN    = "isbn"
)

var bookColumns = []any{"id", "title", "author", "isbn", "publication_year", "available_copies"}

// CatalogStore owns book records and their available-copy counters.
type CatalogStore struct {
	db *Database
}

// NewCatalogStore returns a catalog backed by db.
func NewCatalogStore(db *Database) *CatalogStore { return &CatalogStore{db: db} }

type bookOptions struct {
	isbn   string
	year   *int64
	copies int64
}

// BookOption sets an optional field on AddBook.
type BookOption func(*bookOptions)

// WithISBN records an ISBN. It is stored as given, without checksum validation.
func WithISBN(isbn string) BookOption {
	return func(o *bookOptions) { o.isbn = strings.TrimSpace(isbn) }
}

// WithPublicationYear records the publication year.
func WithPublicationYear(year int) BookOption {
	return func(o *bookOptions) {
		y := int64(year)
		o.year = &y
	}
}

// WithCopies sets the number of provisioned copies. Defaults to 1.
func WithCopies(n int) BookOption {
	return func(o *bookOptions) { o.copies = int64(n) }
}

// AddBook validates and inserts a book with available_copies set to the
// provisioned copy count.
func (c *CatalogStore) AddBook(ctx context.Context, title, author string, opts ...BookOption) (int64, error) {
	o := bookOptions{copies: 1}
	for _, opt := range opts {
		opt(&o)
	}
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	if title == "" {
		return 0, validationErr("title is required")
	}
	if author == "" {
		return 0, validationErr("author is required")
	}
	if o.copies < 0 {
		return 0, validationErr("copies must not be negative, got %d", o.copies)
	}

	db := c.db
	id, err := insertID(ctx, db.db, db.db.Rebind(
		`INSERT INTO books(title,author,isbn,publication_year,available_copies) VALUES(?,?,?,?,?)`),
		title, author, nullable(o.isbn), o.year, o.copies)
	if err != nil {
		return 0, storageErr("add book", err)
	}
	db.logger.Info(logMsgBookAdded, logAttrBookID, id)
	return id, nil
}

// GetBook fetches a single book.
func (c *CatalogStore) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	ds := c.db.builder.From(tableBooks).Select(bookColumns...).Where(goqu.C("id").Eq(id))
	if err := c.db.getOne(ctx, "get book", ds, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetAllBooks returns every book in insertion order.
func (c *CatalogStore) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return c.SearchBooks(ctx, "")
}

// SearchBooks returns books whose title, author or ISBN contains q, ignoring
// case. An empty q matches every book.
func (c *CatalogStore) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	ds := c.db.builder.From(tableBooks).Select(bookColumns...).Order(goqu.C("id").Asc())
	if q != "" {
		ds = ds.Where(c.db.dialect.containsAny(q, colTitle, colAuthor, colISBN))
	}
	books := []*Book{}
	if err := c.db.selectAll(ctx, "search books", ds, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// DecrementAvailability takes one copy of bookID inside tx. It reports false,
// without changing anything, when the book is absent or has no copies left.
// The check and the decrement are one conditional UPDATE, so concurrent
// callers cannot both take the last copy.
func (c *CatalogStore) DecrementAvailability(ctx context.Context, tx *sqlx.Tx, bookID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE books SET available_copies = available_copies - 1 WHERE id=? AND available_copies > 0`), bookID)
	if err != nil {
		return false, storageErr("decrement availability", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("decrement availability", err)
	}
	return n == 1, nil
}

// IncrementAvailability puts one copy of bookID back inside tx. It trusts its
// caller to only do so for a loan it has just closed.
func (c *CatalogStore) IncrementAvailability(ctx context.Context, tx *sqlx.Tx, bookID int64) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE books SET available_copies = available_copies + 1 WHERE id=?`), bookID)
	return storageErr("increment availability", err)
}

// DeleteBook removes a book and, by cascade, every loan referencing it.
func (c *CatalogStore) DeleteBook(ctx context.Context, id int64) error {
	if err := deleteByID(ctx, c.db.db, c.db.builder, "delete book", tableBooks, id); err != nil {
		return err
	}
	c.db.logger.Info(logMsgBookDeleted, logAttrBookID, id)
	return nil
}

// containsAny builds "col1 contains q OR col2 contains q ..." with both sides
// folded by the same SQL function. A position function is used instead of
// LIKE so that '%' and '_' in q match literally.
func (d *dialect) containsAny(q string, cols ...string) exp.Expression {
	needle := goqu.Func(d.lower, q)
	ors := make([]exp.Expression, 0, len(cols))
	for _, col := range cols {
		ors = append(ors, goqu.Func(d.position, goqu.Func(d.lower, goqu.C(col)), needle).Gt(0))
	}
	return goqu.Or(ors...)
}

func deleteByID(ctx context.Context, ex sqlx.ExecerContext, b goqu.DialectWrapper, op, table string, id int64) error {
	query, args, err := b.Delete(table).Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return storageErr(op, err)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
