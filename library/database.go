package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"library-circulation/internal/logging"
)

const memoryPath = ":memory:"

// Config locates the store and tunes its lock handling.
type Config struct {
	Path          string `env:"DB_PATH" default:"library.db"`
	BusyTimeoutMS int    `env:"BUSY_TIMEOUT_MS" default:"5000"`
	RetryAttempts int    `env:"RETRY_ATTEMPTS" default:"5"`
}

// Option customizes a Database.
type Option func(*Database) error

// WithClock replaces the wall clock used for borrow, due and return dates.
func WithClock(now func() time.Time) Option {
	return func(d *Database) error {
		if now == nil {
			return validationf("clock must not be nil")
		}
		d.now = now
		return nil
	}
}

// WithLogger replaces the logger of the database and of every service
// built on it.
func WithLogger(log logging.Logger) Option {
	return func(d *Database) error {
		if log == nil {
			return validationf("logger must not be nil")
		}
		d.log = log
		return nil
	}
}

// Database owns the SQLite handle shared by the catalog, ledger and access
// services.
type Database struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	log     logging.Logger
	now     func() time.Time
	retry   retryPolicy

	addBookStmt   *sqlx.Stmt
	addPatronStmt *sqlx.Stmt
}

// NewDatabase opens (or creates) the SQLite database at cfg.Path, applies
// schema migrations, and prepares common statements.
func NewDatabase(cfg Config, opts ...Option) (*Database, error) {
	if cfg.Path == "" {
		cfg.Path = "library.db"
	}

	if cfg.Path != memoryPath {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}

	// Writers take the lock at BEGIN so two borrowers never both read a
	// positive counter inside their own snapshot.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate", cfg.Path, cfg.BusyTimeoutMS)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", classify(err))
	}
	if cfg.Path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	database := &Database{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		log:     logging.GetLogger("library"),
		now:     time.Now,
		retry:   newRetryPolicy(cfg.RetryAttempts),
	}
	for _, opt := range opts {
		if err := opt(database); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", classify(err))
	}

	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare: %w", classify(err))
	}

	database.log.Debug("database ready", "path", cfg.Path)
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addPatronStmt != nil {
		d.addPatronStmt.Close()
	}
	return d.db.Close()
}

// today is the current calendar date in the local zone.
func (d *Database) today() string {
	return formatDate(d.now())
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

const (
	tableUsers   = "Users"
	tableBooks   = "Books"
	tableRecords = "BorrowingRecords"

	colISBN   = "isbn"
	colTitle  = "title"
	colAuthor = "author"
)

func applyMigrations(db *sqlx.DB) error {
	// WAL lets readers proceed while a borrow holds the write lock.
	// In-memory databases silently stay in "memory" mode.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS Users (
            id TEXT PRIMARY KEY,
            username TEXT UNIQUE NOT NULL,
            password_hash TEXT NOT NULL,
            name TEXT,
            college TEXT,
            className TEXT,
            role TEXT NOT NULL CHECK(role IN ('ADMIN','STUDENT')),
            recovery_token_hash TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS Books (
            isbn TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT,
            publisher TEXT,
            category TEXT,
            totalCopies INTEGER NOT NULL DEFAULT 0,
            availableCopies INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS BorrowingRecords (
            recordId INTEGER PRIMARY KEY AUTOINCREMENT,
            userId TEXT NOT NULL,
            bookIsbn TEXT NOT NULL,
            borrowDate TEXT NOT NULL,
            dueDate TEXT NOT NULL,
            returnDate TEXT,
            FOREIGN KEY(userId) REFERENCES Users(id),
            FOREIGN KEY(bookIsbn) REFERENCES Books(isbn)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_records_user ON BorrowingRecords(userId);`,
		`CREATE INDEX IF NOT EXISTS idx_records_book ON BorrowingRecords(bookIsbn);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Preparex(`INSERT INTO Books(isbn,title,author,publisher,category,totalCopies,availableCopies) VALUES(?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addPatronStmt, err = d.db.Preparex(`INSERT INTO Users(id,username,password_hash,name,college,className,role) VALUES(?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// withTx runs fn inside one write transaction. The transaction is retried
// from the start when SQLite reports the database busy or locked; any other
// error from fn rolls it back and is returned unchanged.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return d.retry.do(ctx, d.log, func(ctx context.Context) error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", classify(err))
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", classify(err))
		}
		return nil
	})
}

// rowsAffected returns the number of changed rows, classifying driver errors.
func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// toSQL renders a goqu dataset as a parameterized statement.
func toSQL(ds *goqu.SelectDataset) (string, []any, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", errors.Join(ErrStorage, err))
	}
	return query, args, nil
}

// traceErr logs storage failures at error level; rejected input and missing
// rows are part of normal operation and only show up at debug level.
// logger tags the database logger with the service using it.
func (d *Database) logger(component string) logging.Logger {
	return d.log.With("component", component)
}

func traceErr(ctx context.Context, log logging.Logger, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrStorage):
		log.ErrorContext(ctx, op+" failed", "error", err)
	default:
		log.DebugContext(ctx, op+" rejected", "kind", Kind(err), "error", err)
	}
}
