package library

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // goqu dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                 // registers "pgx"
	_ "github.com/lib/pq"                              // registers "postgres"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite   = "sqlite"   // modernc.org/sqlite (pure Go)
	DriverPgx      = "pgx"      // github.com/jackc/pgx/v5/stdlib
	DriverPostgres = "postgres" // github.com/lib/pq
)

const busyTimeoutMS = 5000

// SQLite's built-in LOWER folds ASCII only. Both SQLite drivers get a
// Unicode-aware replacement registered under this name.
const unicodeLower = "unicode_lower"

// sqlite3Unicode is mattn's driver with unicodeLower installed on every
// connection.
const sqlite3Unicode = "sqlite3_unicode"

func init() {
	sql.Register(sqlite3Unicode, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(unicodeLower, lowerValue, true)
		},
	})
	sqlite.MustRegisterDeterministicScalarFunction(unicodeLower, 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return lowerValue(args[0]), nil
		})
}

// lowerValue lower-cases text and passes NULL and numbers through.
func lowerValue(v any) any {
	switch s := v.(type) {
	case string:
		return strings.ToLower(s)
	case []byte:
		if s == nil {
			return nil
		}
		return strings.ToLower(string(s))
	default:
		return v
	}
}

// dialect captures everything that differs between storage engines: how to
// build the DSN, the goqu dialect name, and the schema DDL.
type dialect struct {
	driver string
	// sqlDriver is the name handed to sql.Open; it differs from driver when
	// connections need extra functions registered.
	sqlDriver string
	goqu      string
	// lower folds case on both sides of a search: unicodeLower in SQLite,
	// LOWER in PostgreSQL.
	lower string
	// position is the substring search function: instr(haystack, needle) in
	// SQLite, strpos(haystack, needle) in PostgreSQL.
	position string
	// pragmas run once on the pool after open (sqlite only).
	pragmas []string
	schema  []string
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
		sqlDriver := driver
		if driver == DriverSQLite3 {
			sqlDriver = sqlite3Unicode
		}
		return &dialect{
			driver:    driver,
			sqlDriver: sqlDriver,
			goqu:      "sqlite3",
			lower:     unicodeLower,
			position:  "instr",
			pragmas:   []string{"PRAGMA journal_mode=WAL;"},
			schema:    sqliteSchema,
		}, nil
	case DriverPgx, DriverPostgres:
		return &dialect{
			driver:    driver,
			sqlDriver: driver,
			goqu:      "postgres",
			lower:     "LOWER",
			position:  "strpos",
			schema:    postgresSchema,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func (d *dialect) isSQLite() bool { return d.goqu == "sqlite3" }

// inMemory reports whether target names a private in-memory SQLite database.
// Every connection to such a target sees its own empty database, so the pool
// must be held to a single connection.
func (d *dialect) inMemory(target string) bool {
	return d.isSQLite() && strings.TrimPrefix(target, "file:") == ":memory:"
}

// dsn turns a file path (sqlite) or connection string (postgres) into a DSN
// with the connection parameters the ledger depends on: foreign keys for
// cascading deletes, a busy timeout, and IMMEDIATE write transactions so that
// concurrent writers queue up rather than fail on lock upgrade.
func (d *dialect) dsn(target string) (string, error) {
	if !d.isSQLite() {
		return target, nil
	}

	// Ensure directory exists so first-run succeeds.
	path := strings.TrimPrefix(target, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
	}

	q := url.Values{}
	q.Set("_txlock", "immediate")
	switch d.driver {
	case DriverSQLite3:
		q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMS))
		q.Set("_foreign_keys", "1")
	case DriverSQLite:
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
		q.Add("_pragma", "foreign_keys(1)")
	}
	return "file:" + path + "?" + q.Encode(), nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT,
		publication_year INTEGER,
		available_copies INTEGER NOT NULL DEFAULT 1 CHECK (available_copies >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT,
		phone TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		member_id INTEGER NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		loan_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		return_date TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id, loan_date);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_open ON loans(book_id, member_id) WHERE return_date IS NULL;`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT,
		publication_year INTEGER,
		available_copies INTEGER NOT NULL DEFAULT 1 CHECK (available_copies >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		id BIGSERIAL PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT,
		phone TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS loans (
		id BIGSERIAL PRIMARY KEY,
		book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		member_id BIGINT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		loan_date DATE NOT NULL,
		due_date DATE NOT NULL,
		return_date DATE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id, loan_date);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_open ON loans(book_id, member_id) WHERE return_date IS NULL;`,
}
