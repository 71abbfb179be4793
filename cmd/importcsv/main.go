// Command importcsv imports one CSV or XLSX file into the inventory database
// and prints a summary. With -dry-run the import runs against an in-memory
// store so the file can be checked without touching the database. A dry run
// still reads categories and rooms from DATABASE_URL when it is reachable;
// otherwise those names stay unresolved.
//
//	importcsv -file items.csv [-delimiter ;] [-no-headers] [-dry-run] [-errors-out report.xlsx]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/homeinventory/internal/config"
	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/logging"
	"github.com/JonMunkholm/homeinventory/internal/store/memory"
	"github.com/JonMunkholm/homeinventory/internal/store/postgres"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailed   = 1
	exitUsage    = 2
	exitUnmapped = 3
)

func main() {
	_ = godotenv.Overload()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr))
}

type options struct {
	file      string
	delimiter string
	noHeaders bool
	dryRun    bool
	errorsOut string
	verbose   bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("importcsv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.file, "file", "", "CSV or XLSX file to import (required)")
	fs.StringVar(&opts.delimiter, "delimiter", "", "field delimiter: , ; tab | (default: detect)")
	fs.BoolVar(&opts.noHeaders, "no-headers", false, "first row is data, not headers")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "import into memory only; category and room names resolve only if DATABASE_URL is reachable")
	fs.StringVar(&opts.errorsOut, "errors-out", "", "write an XLSX error report to this path")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.file == "" {
		fs.Usage()
		return opts, errors.New("-file is required")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, env config.LookupFunc, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.New(stderr, level, "text")

	delim, err := tabular.ParseDelimiter(opts.delimiter)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	limits, err := config.LoadImport(env)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	data, err := readFile(opts.file, limits.MaxFileSize)
	if err != nil {
		fmt.Fprintln(stderr, importer.FormatUserError(err))
		logger.Debug("read failed", "error", err)
		return exitFailed
	}

	sess := importer.NewSession(uuid.New(), importer.SessionOptions{
		YieldEvery: limits.YieldEvery,
		Logger:     logger,
	})
	src := importer.Source{
		Name:    filepath.Base(opts.file),
		Data:    data,
		Options: tabular.Options{Delimiter: delim, NoHeaders: opts.noHeaders},
	}
	if err := sess.ParseFile(ctx, src); err != nil {
		fmt.Fprintln(stderr, importer.FormatUserError(err))
		return exitFailed
	}

	table := sess.Table()
	result, _ := sess.Mapping()
	fmt.Fprintf(stdout, "%s: %d rows, %d columns, %s, %s\n\n",
		src.Name, table.RowCount, table.ColumnCount,
		tabular.DelimiterName(table.Delimiter), table.Encoding)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tHEADER\tFIELD\tCONFIDENCE")
	for _, m := range result.Mappings {
		field := "-"
		if m.Mapped() {
			field = m.Field.Label()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", tabular.ColumnLetters(m.Index), m.Header, field, m.Confidence)
	}
	_ = tw.Flush()
	for _, w := range result.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}

	if !result.IsValid() {
		fmt.Fprintf(stderr, "\n%s\n", importer.FormatUserError(importer.ErrMappingInvalid))
		return exitUnmapped
	}

	validated, rowErrs, err := sess.ValidateRows()
	if err != nil {
		fmt.Fprintln(stderr, importer.FormatUserError(err))
		return exitFailed
	}
	fmt.Fprintf(stdout, "\nvalidated %d of %d rows, %d problems\n", len(validated), table.RowCount, len(rowErrs))

	persistence, closeStore, err := openPersistence(ctx, opts.dryRun, env, stdout, logger)
	if err != nil {
		fmt.Fprintln(stderr, importer.FormatUserError(err))
		logger.Error("open store failed", "error", err)
		return exitFailed
	}
	defer closeStore()

	summary, err := sess.ExecuteImport(ctx, persistence)
	if err != nil {
		fmt.Fprintln(stderr, importer.FormatUserError(err))
		logger.Debug("import failed", "error", err)
		return exitFailed
	}

	printSummary(stdout, summary, opts.dryRun)

	if opts.errorsOut != "" && summary.ErrorCount > 0 {
		if err := writeReport(opts.errorsOut, summary); err != nil {
			fmt.Fprintf(stderr, "write error report: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(stdout, "error report written to %s\n", opts.errorsOut)
	}
	return exitOK
}

func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tabular.ReadSource(f, limit)
}

// openPersistence returns an in-memory transaction for dry runs, otherwise a
// database transaction configured from env.
func openPersistence(ctx context.Context, dryRun bool, env config.LookupFunc, stdout io.Writer, logger *slog.Logger) (importer.Persistence, func(), error) {
	if dryRun {
		mem := memory.New()
		if err := seedFromDatabase(ctx, mem, env); err != nil {
			fmt.Fprintln(stdout, "note: database not reachable, category and room names are left unresolved")
			logger.Debug("dry run without references", "error", err)
		}
		tx, err := mem.BeginImport(ctx)
		return tx, func() {}, err
	}

	cfg, err := config.LoadFrom(env)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, cfg.Database.URL); err != nil {
			return nil, nil, err
		}
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: cfg.Database.URL, MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}

	tx, err := postgres.New(pool).BeginImport(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Debug("import transaction started")
	return tx, pool.Close, nil
}

// seedFromDatabase loads the database's categories and rooms into mem.
func seedFromDatabase(ctx context.Context, mem *memory.Store, env config.LookupFunc) error {
	cfg, err := config.LoadFrom(env)
	if err != nil {
		return err
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: cfg.Database.URL, MaxConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()
	return copyReferences(ctx, mem, postgres.New(pool))
}

type referenceSource interface {
	Categories(ctx context.Context) ([]importer.Reference, error)
	Rooms(ctx context.Context) ([]importer.Reference, error)
}

// copyReferences adds every category and room name from src to mem. Only
// names matter for resolution, so mem assigns its own IDs.
func copyReferences(ctx context.Context, mem *memory.Store, src referenceSource) error {
	categories, err := src.Categories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	rooms, err := src.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	for _, c := range categories {
		mem.AddCategory(c.Name)
	}
	for _, r := range rooms {
		mem.AddRoom(r.Name)
	}
	return nil
}

func printSummary(w io.Writer, s importer.ImportSummary, dryRun bool) {
	verb := "imported"
	if dryRun {
		verb = "would import"
	}
	fmt.Fprintf(w, "%s %d items from %d rows (%d skipped, %d errors) in %s\n",
		verb, s.ImportedCount, s.TotalRows, s.SkippedCount, s.ErrorCount, s.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range s.Errors {
		field := e.Field
		if field == "" {
			field = "-"
		}
		fmt.Fprintf(tw, "  row %d\t%s\t%s\n", e.Row, field, e.Message)
	}
	_ = tw.Flush()
}

func writeReport(path string, summary importer.ImportSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := importer.WriteErrorReport(f, summary); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
