package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"library-circulation/internal/logging"
	"library-circulation/library/digest"
)

// Catalog owns the Books and Users tables.
type Catalog struct {
	db  *Database
	log logging.Logger
}

func NewCatalog(db *Database) *Catalog {
	return &Catalog{db: db, log: db.logger("catalog")}
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (c *Catalog) booksQuery() *goqu.SelectDataset {
	return c.db.dialect.From(tableBooks).Select(
		goqu.C(colISBN),
		goqu.C(colTitle),
		goqu.COALESCE(goqu.C(colAuthor), "").As(colAuthor),
		goqu.COALESCE(goqu.C("publisher"), "").As("publisher"),
		goqu.COALESCE(goqu.C("category"), "").As("category"),
		goqu.C("totalCopies"),
		goqu.C("availableCopies"),
	)
}

// AddBook inserts a new title. A duplicate ISBN is a conflict.
func (c *Catalog) AddBook(ctx context.Context, book Book) (err error) {
	defer func() { traceErr(ctx, c.log, "add book", err) }()

	if err := validateStruct(book); err != nil {
		return err
	}

	if _, err := c.db.addBookStmt.ExecContext(ctx,
		book.ISBN, book.Title, book.Author, book.Publisher, book.Category,
		book.TotalCopies, book.AvailableCopies,
	); err != nil {
		return fmt.Errorf("add book %s: %w", book.ISBN, classify(err))
	}

	c.log.DebugContext(ctx, "book added", "isbn", book.ISBN)
	return nil
}

// UpdateBook rewrites every field of the book with the same ISBN.
func (c *Catalog) UpdateBook(ctx context.Context, book Book) (err error) {
	defer func() { traceErr(ctx, c.log, "update book", err) }()

	if err := validateStruct(book); err != nil {
		return err
	}

	res, err := c.db.db.ExecContext(ctx,
		`UPDATE Books SET title=?, author=?, publisher=?, category=?, totalCopies=?, availableCopies=? WHERE isbn=?`,
		book.Title, book.Author, book.Publisher, book.Category, book.TotalCopies, book.AvailableCopies, book.ISBN,
	)
	if err != nil {
		return fmt.Errorf("update book %s: %w", book.ISBN, classify(err))
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundf("book %s", book.ISBN)
	}
	return nil
}

// DeleteBook removes a title that has never been lent. Books with lending
// history stay so the ledger keeps its references.
func (c *Catalog) DeleteBook(ctx context.Context, isbn string) (err error) {
	defer func() { traceErr(ctx, c.log, "delete book", err) }()

	return c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists, referenced bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM Books WHERE isbn=?)`, isbn); err != nil {
			return fmt.Errorf("lookup book %s: %w", isbn, classify(err))
		}
		if !exists {
			return notFoundf("book %s", isbn)
		}

		if err := tx.GetContext(ctx, &referenced, `SELECT EXISTS(SELECT 1 FROM BorrowingRecords WHERE bookIsbn=?)`, isbn); err != nil {
			return fmt.Errorf("lookup records for %s: %w", isbn, classify(err))
		}
		if referenced {
			return conflictf("book %s has lending records", isbn)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM Books WHERE isbn=?`, isbn); err != nil {
			return fmt.Errorf("delete book %s: %w", isbn, classify(err))
		}
		return nil
	})
}

// GetBook fetches a single book.
func (c *Catalog) GetBook(ctx context.Context, isbn string) (Book, error) {
	query, args, err := toSQL(c.booksQuery().Where(goqu.C(colISBN).Eq(isbn)))
	if err != nil {
		return Book{}, err
	}

	var b Book
	if err := c.db.db.GetContext(ctx, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, notFoundf("book %s", isbn)
		}
		err = fmt.Errorf("get book %s: %w", isbn, classify(err))
		traceErr(ctx, c.log, "get book", err)
		return Book{}, err
	}
	return b, nil
}

// AllBooks lists the whole catalog by title.
func (c *Catalog) AllBooks(ctx context.Context) ([]Book, error) {
	return c.FindBooks(ctx, "", SortByTitle)
}

// FindBooks matches keyword case-insensitively against title, author and
// ISBN. An empty keyword matches everything.
func (c *Catalog) FindBooks(ctx context.Context, keyword string, sortBy BookSort) ([]Book, error) {
	ds := c.booksQuery()

	if keyword = strings.TrimSpace(keyword); keyword != "" {
		pattern := "%" + keyword + "%"
		ds = ds.Where(goqu.Or(
			goqu.C(colTitle).ILike(pattern),
			goqu.C(colAuthor).ILike(pattern),
			goqu.C(colISBN).ILike(pattern),
		))
	}

	query, args, err := toSQL(ds.Order(goqu.C(sortBy.column()).Asc(), goqu.C(colISBN).Asc()))
	if err != nil {
		return nil, err
	}

	var books []Book
	if err := c.db.db.SelectContext(ctx, &books, query, args...); err != nil {
		err = fmt.Errorf("find books: %w", classify(err))
		traceErr(ctx, c.log, "find books", err)
		return nil, err
	}
	return books, nil
}

// ---------------------------------------------------------------------------
// Patrons
// ---------------------------------------------------------------------------

func patronColumns() []any {
	return []any{
		goqu.C("id"),
		goqu.C("username"),
		goqu.COALESCE(goqu.C("name"), "").As("name"),
		goqu.COALESCE(goqu.C("college"), "").As("college"),
		goqu.COALESCE(goqu.C("className"), "").As("className"),
		goqu.C("role"),
		goqu.L("recovery_token_hash IS NOT NULL").As("hasRecoveryToken"),
	}
}

func (c *Catalog) patronsQuery() *goqu.SelectDataset {
	return c.db.dialect.From(tableUsers).Select(patronColumns()...)
}

// AddPatron stores a patron with an already computed credential digest.
func (c *Catalog) AddPatron(ctx context.Context, p Patron, credentialDigest string) (err error) {
	defer func() { traceErr(ctx, c.log, "add patron", err) }()

	if err := validateStruct(p); err != nil {
		return err
	}
	if err := validate.Var(credentialDigest, fmt.Sprintf("len=%d,hexadecimal", digest.HexSize)); err != nil {
		return errors.Join(validationf("credential digest"), err)
	}

	if _, err := c.db.addPatronStmt.ExecContext(ctx,
		p.ID, p.Username, credentialDigest, p.DisplayName, p.Affiliation, p.Group, string(p.Role),
	); err != nil {
		return fmt.Errorf("add patron %s: %w", p.Username, classify(err))
	}

	c.log.DebugContext(ctx, "patron added", "id", p.ID, "role", p.Role)
	return nil
}

// PatronByUsername looks a patron up by login name.
func (c *Catalog) PatronByUsername(ctx context.Context, username string) (Patron, error) {
	return c.getPatron(ctx, goqu.C("username").Eq(username), username)
}

// PatronByID looks a patron up by identifier.
func (c *Catalog) PatronByID(ctx context.Context, id string) (Patron, error) {
	return c.getPatron(ctx, goqu.C("id").Eq(id), id)
}

func (c *Catalog) getPatron(ctx context.Context, cond goqu.Expression, key string) (Patron, error) {
	query, args, err := toSQL(c.patronsQuery().Where(cond))
	if err != nil {
		return Patron{}, err
	}

	var p Patron
	if err := c.db.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Patron{}, notFoundf("patron %s", key)
		}
		err = fmt.Errorf("get patron %s: %w", key, classify(err))
		traceErr(ctx, c.log, "get patron", err)
		return Patron{}, err
	}
	return p, nil
}

// UsernameExists reports whether the login name is taken.
func (c *Catalog) UsernameExists(ctx context.Context, username string) (bool, error) {
	return usernameExists(ctx, c.db.db, username)
}

func usernameExists(ctx context.Context, q sqlx.QueryerContext, username string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM Users WHERE username=?)`, username); err != nil {
		return false, fmt.Errorf("lookup username %s: %w", username, classify(err))
	}
	return exists, nil
}

// FindStudents matches keyword against username, id and display name of
// STUDENT patrons, ordered by id.
func (c *Catalog) FindStudents(ctx context.Context, keyword string) ([]Patron, error) {
	ds := c.patronsQuery().Where(goqu.C("role").Eq(string(RoleStudent)))

	if keyword = strings.TrimSpace(keyword); keyword != "" {
		pattern := "%" + keyword + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("username").ILike(pattern),
			goqu.C("id").ILike(pattern),
			goqu.C("name").ILike(pattern),
		))
	}

	query, args, err := toSQL(ds.Order(goqu.C("id").Asc()))
	if err != nil {
		return nil, err
	}

	var patrons []Patron
	if err := c.db.db.SelectContext(ctx, &patrons, query, args...); err != nil {
		err = fmt.Errorf("find students: %w", classify(err))
		traceErr(ctx, c.log, "find students", err)
		return nil, err
	}
	return patrons, nil
}

// AllStudents lists every STUDENT patron.
func (c *Catalog) AllStudents(ctx context.Context) ([]Patron, error) {
	return c.FindStudents(ctx, "")
}

// UpdateProfile replaces the display name, affiliation and group of a patron.
func (c *Catalog) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (err error) {
	defer func() { traceErr(ctx, c.log, "update profile", err) }()

	if err := validateStruct(upd); err != nil {
		return err
	}

	res, err := c.db.db.ExecContext(ctx,
		`UPDATE Users SET name=?, college=?, className=? WHERE id=?`,
		upd.DisplayName, upd.Affiliation, upd.Group, id,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", id, classify(err))
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundf("patron %s", id)
	}
	return nil
}
