package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/library"
)

const defaultDBFile = "library.db"

// config holds the root flags. Each falls back to a LIBRARY_* environment
// variable when the flag is not given.
type config struct {
	db              string
	driver          string
	logLevel        string
	output          string
	metricsTextfile string
}

// app carries what the subcommands share: the open manager, the output
// format and the metrics registry.
type app struct {
	cfg      config
	mgr      *library.LibraryManager
	format   library.Format
	out      io.Writer
	registry *prometheus.Registry
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func defaultOutput() string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return string(library.FormatTable)
	}
	return string(library.FormatCSV)
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Catalog, member registry and loan ledger for a lending library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.OutOrStdout())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.db, "db", envOr("LIBRARY_DB", defaultDBFile), "SQLite file path or PostgreSQL DSN (LIBRARY_DB)")
	f.StringVar(&a.cfg.driver, "driver", envOr("LIBRARY_DRIVER", library.DriverSQLite3), "database driver: sqlite3, sqlite, pgx or postgres (LIBRARY_DRIVER)")
	f.StringVar(&a.cfg.logLevel, "log-level", envOr("LIBRARY_LOG_LEVEL", "warn"), "log level: debug, info, warn, error (LIBRARY_LOG_LEVEL)")
	f.StringVarP(&a.cfg.output, "output", "o", envOr("LIBRARY_OUTPUT", defaultOutput()), "output format: table, csv or json (LIBRARY_OUTPUT)")
	f.StringVar(&a.cfg.metricsTextfile, "metrics-textfile", envOr("LIBRARY_METRICS_TEXTFILE", ""), "write Prometheus metrics to this file on exit (LIBRARY_METRICS_TEXTFILE)")

	root.AddCommand(
		newBookCmd(a),
		newMemberCmd(a),
		newBorrowCmd(a),
		newReturnCmd(a),
		newHistoryCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) open(out io.Writer) error {
	lvl, err := parseLevel(a.cfg.logLevel)
	if err != nil {
		return err
	}
	if a.format, err = library.ParseFormat(a.cfg.output); err != nil {
		return err
	}
	a.out = out

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With("invocation_id", uuid.NewString())

	a.registry = prometheus.NewRegistry()
	metrics, err := library.NewMetrics(a.registry)
	if err != nil {
		return err
	}

	a.mgr, err = library.NewLibraryManager(a.cfg.db,
		library.WithDriver(a.cfg.driver),
		library.WithLogger(logger),
		library.WithMetrics(metrics),
	)
	return err
}

// close writes the metrics textfile, if requested, and closes the database.
func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	var err error
	if a.cfg.metricsTextfile != "" {
		err = prometheus.WriteToTextfile(a.cfg.metricsTextfile, a.registry)
	}
	if cerr := a.mgr.Close(); err == nil {
		err = cerr
	}
	return err
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, s)
	}
	return id, nil
}

// ------------------ Books ------------------

func newBookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}

	var isbn string
	var year, copies int
	add := &cobra.Command{
		Use:   "add TITLE AUTHOR",
		Short: "Add a book to the catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []library.BookOption{library.WithISBN(isbn), library.WithCopies(copies)}
			if cmd.Flags().Changed("year") {
				opts = append(opts, library.WithPublicationYear(year))
			}
			id, err := a.mgr.AddBook(cmd.Context(), args[0], args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added book ID %d\n", id)
			return nil
		},
	}
	add.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	add.Flags().IntVar(&year, "year", 0, "publication year")
	add.Flags().IntVar(&copies, "copies", 1, "number of copies provisioned")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.mgr.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			return library.WriteBooks(a.out, a.format, books)
		},
	}

	search := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Search books by title, author or ISBN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			books, err := a.mgr.SearchBooks(cmd.Context(), q)
			if err != nil {
				return err
			}
			return library.WriteBooks(a.out, a.format, books)
		},
	}

	show := &cobra.Command{
		Use:   "show BOOK_ID",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			book, err := a.mgr.GetBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			return library.WriteBooks(a.out, a.format, []*library.Book{book})
		},
	}

	del := &cobra.Command{
		Use:   "delete BOOK_ID",
		Short: "Delete a book and all of its loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted book ID %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, search, show, del)
	return cmd
}

// ------------------ Members ------------------

func newMemberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage the member registry"}

	var email, phone string
	add := &cobra.Command{
		Use:   "add FIRST_NAME LAST_NAME",
		Short: "Register a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.mgr.AddMember(cmd.Context(), args[0], args[1],
				library.WithEmail(email), library.WithPhone(phone))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added member ID %d\n", id)
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&phone, "phone", "", "phone number")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			members, err := a.mgr.ListMembers(cmd.Context())
			if err != nil {
				return err
			}
			return library.WriteMembers(a.out, a.format, members)
		},
	}

	search := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Search members by name, email or phone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			members, err := a.mgr.SearchMembers(cmd.Context(), q)
			if err != nil {
				return err
			}
			return library.WriteMembers(a.out, a.format, members)
		},
	}

	show := &cobra.Command{
		Use:   "show MEMBER_ID",
		Short: "Show one member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "member")
			if err != nil {
				return err
			}
			m, err := a.mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			return library.WriteMembers(a.out, a.format, []*library.Member{m})
		},
	}

	del := &cobra.Command{
		Use:   "delete MEMBER_ID",
		Short: "Delete a member and all of their loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "member")
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteMember(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted member ID %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, search, show, del)
	return cmd
}

// ------------------ Circulation ------------------

func parsePair(args []string) (bookID, memberID int64, err error) {
	if bookID, err = parseID(args[0], "book"); err != nil {
		return 0, 0, err
	}
	if memberID, err = parseID(args[1], "member"); err != nil {
		return 0, 0, err
	}
	return bookID, memberID, nil
}

func newBorrowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow BOOK_ID MEMBER_ID",
		Short: "Lend a copy of a book to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, memberID, err := parsePair(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			loanID, err := a.mgr.Borrow(ctx, bookID, memberID)
			if err != nil {
				return err
			}
			loan, err := a.mgr.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Loan %d recorded, due %s\n", loanID, loan.DueDate)
			return nil
		},
	}
}

func newReturnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return BOOK_ID MEMBER_ID",
		Short: "Close a member's open loan for a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, memberID, err := parsePair(args)
			if err != nil {
				return err
			}
			if err := a.mgr.ReturnBook(cmd.Context(), bookID, memberID); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Book returned")
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history MEMBER_ID",
		Short: "Show a member's loans, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "member")
			if err != nil {
				return err
			}
			records, err := a.mgr.LoanHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			return library.WriteLoanHistory(a.out, a.format, records)
		},
	}
}

// ------------------ Export ------------------

func newExportCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:       "export books|members|loans",
		Short:     "Dump a table with a header row",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"books", "members", "loans"},
		RunE: func(cmd *cobra.Command, args []string) error {
			format := a.format
			if format == library.FormatTable && !cmd.Flags().Changed("output") {
				format = library.FormatCSV
			}
			if file == "" {
				return export(cmd.Context(), a.mgr, args[0], a.out, format)
			}
			f, err := os.Create(file)
			if err != nil {
				return err
			}
			if err := export(cmd.Context(), a.mgr, args[0], f, format); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "write to this file instead of stdout")
	return cmd
}

func export(ctx context.Context, mgr *library.LibraryManager, what string, w io.Writer, f library.Format) error {
	switch what {
	case "books":
		return mgr.ExportBooks(ctx, w, f)
	case "members":
		return mgr.ExportMembers(ctx, w, f)
	case "loans":
		return mgr.ExportLoans(ctx, w, f)
	default:
		return fmt.Errorf("unknown table %q", what)
	}
}
