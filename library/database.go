package library

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

func init() {
	// sqlx does not know these driver names; both take '?' placeholders.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
	sqlx.BindDriver(sqlite3Unicode, sqlx.QUESTION)
}

// DefaultLoanPeriod is the fixed lending period from loan date to due date.
const DefaultLoanPeriod = 14 // days

const (
	logMsgMigrated      = "schema migrated"
	logMsgTxRollback    = "transaction rolled back"
	logMsgBookAdded     = "book added"
	logMsgBookDeleted   = "book deleted"
	logMsgMemberAdded   = "member added"
	logMsgMemberDeleted = "member deleted"
	logMsgLoanIssued    = "loan issued"
	logMsgBorrowDenied  = "borrow rejected"
	logMsgLoanReturned  = "loan returned"
	logMsgNoOpenLoan    = "return without open loan"
	logAttrError        = "error"
	logAttrOp           = "op"
	logAttrBookID       = "book_id"
	logAttrMemberID     = "member_id"
	logAttrLoanID       = "loan_id"
	logAttrDurationMS   = "duration_ms"
	logAttrVersion      = "schema_version"
	logAttrDriver       = "driver"
)

// Database owns one connection pool for the lifetime of the process. Every
// store, the ledger and the manager share it by reference.
type Database struct {
	db      *sqlx.DB
	dialect *dialect
	builder goqu.DialectWrapper

	driver     string
	logger     *slog.Logger
	metrics    *Metrics
	clock      func() time.Time
	loanPeriod int
}

// Option configures a Database.
type Option func(*Database) error

// WithDriver selects the database/sql driver. Defaults to DriverSQLite3.
func WithDriver(driver string) Option {
	return func(d *Database) error {
		if driver == "" {
			return fmt.Errorf("driver must not be empty")
		}
		d.driver = driver
		return nil
	}
}

// WithLogger sets the structured logger. Debug level carries per-statement
// timings, Info level lending events, Warn level rejected operations.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Database) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// WithMetrics attaches Prometheus counters for lending outcomes.
func WithMetrics(m *Metrics) Option {
	return func(d *Database) error {
		d.metrics = m
		return nil
	}
}

// WithClock overrides time.Now for loan and return dates.
func WithClock(clock func() time.Time) Option {
	return func(d *Database) error {
		if clock == nil {
			return fmt.Errorf("clock must not be nil")
		}
		d.clock = clock
		return nil
	}
}

// WithLoanPeriod overrides the lending period in days.
func WithLoanPeriod(days int) Option {
	return func(d *Database) error {
		if days <= 0 {
			return fmt.Errorf("loan period must be positive, got %d", days)
		}
		d.loanPeriod = days
		return nil
	}
}

// NewDatabase opens (or creates) the database at target, applies schema
// migrations and returns a handle that must be closed at shutdown. For SQLite
// drivers target is a file path; for PostgreSQL drivers it is a DSN.
func NewDatabase(target string, opts ...Option) (*Database, error) {
	d := &Database{
		driver:     DriverSQLite3,
		logger:     slog.New(slog.DiscardHandler),
		clock:      time.Now,
		loanPeriod: DefaultLoanPeriod,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	dia, err := dialectFor(d.driver)
	if err != nil {
		return nil, err
	}
	dsn, err := dia.dsn(target)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(dia.sqlDriver, dsn)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	if dia.inMemory(target) {
		db.SetMaxOpenConns(1)
	}
	d.db = db
	d.dialect = dia
	d.builder = goqu.Dialect(dia.goqu)

	if err := d.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// today is the calendar date of the injected clock.
func (d *Database) today() Date { return DateOf(d.clock()) }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func (d *Database) applyMigrations(ctx context.Context) error {
	for _, p := range d.dialect.pragmas {
		if _, err := d.db.ExecContext(ctx, p); err != nil {
			return storageErr("apply pragma", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return storageErr("create meta table", err)
	}

	var current int
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(`SELECT CAST(value AS INTEGER) FROM meta WHERE key=?`), "schema_version").Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return storageErr("read schema version", err)
	}
	if current >= schemaVersion {
		return nil
	}

	err = d.withTx(ctx, "apply migration", func(tx *sqlx.Tx) error {
		for _, stmt := range d.dialect.schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO meta(key,value) VALUES(?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value;`), "schema_version", fmt.Sprint(schemaVersion))
		return err
	})
	if err != nil {
		return err
	}
	d.logger.Info(logMsgMigrated, logAttrVersion, schemaVersion, logAttrDriver, d.driver)
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// withTx runs fn inside a transaction. The transaction commits only when fn
// returns nil; every other exit path, panics included, rolls it back.
func (d *Database) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (retErr error) {
	start := time.Now()
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			d.logger.Warn(logMsgTxRollback, logAttrOp, op, logAttrError, rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	committed = true
	d.logger.Debug(op, logAttrDurationMS, time.Since(start).Milliseconds())
	return nil
}

// insertID runs an INSERT … RETURNING id statement. Both SQLite (3.35+) and
// PostgreSQL support RETURNING, so one statement shape serves every driver.
func insertID(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// selectAll runs a goqu select and scans every row into dest.
func (d *Database) selectAll(ctx context.Context, op string, ds *goqu.SelectDataset, dest any) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return storageErr(op, err)
	}
	start := time.Now()
	if err := sqlx.SelectContext(ctx, d.db, dest, query, args...); err != nil {
		return storageErr(op, err)
	}
	d.logger.Debug(op, logAttrDurationMS, time.Since(start).Milliseconds())
	return nil
}

// getOne runs a goqu select expected to return one row; no row maps to
// ErrNotFound.
func (d *Database) getOne(ctx context.Context, op string, ds *goqu.SelectDataset, dest any) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return storageErr(op, err)
	}
	if err := sqlx.GetContext(ctx, d.db, dest, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return storageErr(op, err)
	}
	return nil
}

// nullable maps blank optional text to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
