package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"library-circulation/internal/logging"
)

// Ledger records checkouts and keeps Books.availableCopies in step with the
// number of open records.
type Ledger struct {
	db  *Database
	log logging.Logger
}

func NewLedger(db *Database) *Ledger {
	return &Ledger{db: db, log: db.logger("ledger")}
}

// Borrow lends one copy of isbn to patronID for the given number of days.
// The availability check, the decrement and the new record commit together
// or not at all.
func (l *Ledger) Borrow(ctx context.Context, patronID, isbn string, days int) (rec LendingRecord, err error) {
	defer func() { traceErr(ctx, l.log, "borrow", err) }()

	if days <= 0 {
		return LendingRecord{}, validationf("loan duration must be positive, got %d", days)
	}

	today := l.db.today()
	due, err := addDays(today, days)
	if err != nil {
		return LendingRecord{}, errors.Join(ErrStorage, err)
	}

	err = l.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var available int
		if err := tx.GetContext(ctx, &available, `SELECT availableCopies FROM Books WHERE isbn=?`, isbn); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return unavailablef("book %s is not in the catalog", isbn)
			}
			return fmt.Errorf("lookup book %s: %w", isbn, classify(err))
		}
		if available <= 0 {
			return unavailablef("no copies of %s left", isbn)
		}

		res, err := tx.ExecContext(ctx, `UPDATE Books SET availableCopies = availableCopies - 1 WHERE isbn=? AND availableCopies > 0`, isbn)
		if err != nil {
			return fmt.Errorf("take copy of %s: %w", isbn, classify(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return unavailablef("no copies of %s left", isbn)
		}

		res, err = tx.ExecContext(ctx,
			`INSERT INTO BorrowingRecords(userId,bookIsbn,borrowDate,dueDate) VALUES(?,?,?,?)`,
			patronID, isbn, today, due,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return errors.Join(notFoundf("patron %s", patronID), err)
			}
			return fmt.Errorf("record loan of %s: %w", isbn, classify(err))
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("record id: %w", classify(err))
		}

		rec = LendingRecord{
			RecordID:   id,
			PatronID:   patronID,
			BookISBN:   isbn,
			BorrowDate: today,
			DueDate:    due,
		}
		return nil
	})
	if err != nil {
		return LendingRecord{}, err
	}

	l.log.DebugContext(ctx, "book borrowed", "record", rec.RecordID, "patron", patronID, "isbn", isbn, "due", due)
	return rec, nil
}

// openRecord loads an open record owned by patronID. A missing id, another
// patron's record and an already closed record all report ErrNotFound.
func openRecord(ctx context.Context, tx *sqlx.Tx, recordID int64, patronID string) (LendingRecord, error) {
	var rec LendingRecord
	err := tx.GetContext(ctx, &rec,
		`SELECT recordId, userId, bookIsbn, borrowDate, dueDate, returnDate FROM BorrowingRecords
            WHERE recordId=? AND userId=? AND returnDate IS NULL`,
		recordID, patronID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return LendingRecord{}, notFoundf("open record %d for patron %s", recordID, patronID)
	}
	if err != nil {
		return LendingRecord{}, fmt.Errorf("lookup record %d: %w", recordID, classify(err))
	}
	return rec, nil
}

// Return closes an open record with today's date and puts the copy back.
func (l *Ledger) Return(ctx context.Context, recordID int64, patronID string) (rec LendingRecord, err error) {
	defer func() { traceErr(ctx, l.log, "return", err) }()

	today := l.db.today()

	err = l.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if rec, err = openRecord(ctx, tx, recordID, patronID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `UPDATE BorrowingRecords SET returnDate=? WHERE recordId=? AND returnDate IS NULL`, today, recordID)
		if err != nil {
			return fmt.Errorf("close record %d: %w", recordID, classify(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return notFoundf("open record %d for patron %s", recordID, patronID)
		}

		res, err = tx.ExecContext(ctx, `UPDATE Books SET availableCopies = availableCopies + 1 WHERE isbn=? AND availableCopies < totalCopies`, rec.BookISBN)
		if err != nil {
			return fmt.Errorf("restore copy of %s: %w", rec.BookISBN, classify(err))
		}
		if n, err = rowsAffected(res); err != nil {
			return err
		}
		if n == 0 {
			// The counters were reset by a catalog update while the copy was out.
			l.log.WarnContext(ctx, "copy counter already at total", "isbn", rec.BookISBN, "record", recordID)
		}

		rec.ReturnDate = &today
		return nil
	})
	if err != nil {
		return LendingRecord{}, err
	}

	l.log.DebugContext(ctx, "book returned", "record", recordID, "patron", patronID, "isbn", rec.BookISBN)
	return rec, nil
}

// Renew pushes the due date of an open record RenewalDays past its stored
// due date. Copy counters are untouched.
func (l *Ledger) Renew(ctx context.Context, recordID int64, patronID string) (rec LendingRecord, err error) {
	defer func() { traceErr(ctx, l.log, "renew", err) }()

	err = l.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if rec, err = openRecord(ctx, tx, recordID, patronID); err != nil {
			return err
		}

		due, err := addDays(rec.DueDate, RenewalDays)
		if err != nil {
			return fmt.Errorf("record %d: %w", recordID, errors.Join(ErrStorage, err))
		}

		if _, err := tx.ExecContext(ctx, `UPDATE BorrowingRecords SET dueDate=? WHERE recordId=?`, due, recordID); err != nil {
			return fmt.Errorf("renew record %d: %w", recordID, classify(err))
		}

		rec.DueDate = due
		return nil
	})
	if err != nil {
		return LendingRecord{}, err
	}

	l.log.DebugContext(ctx, "loan renewed", "record", recordID, "due", rec.DueDate)
	return rec, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func recordColumns() []any {
	return []any{
		goqu.I("r.recordId").As("recordId"),
		goqu.I("r.userId").As("userId"),
		goqu.I("r.bookIsbn").As("bookIsbn"),
		goqu.I("r.borrowDate").As("borrowDate"),
		goqu.I("r.dueDate").As("dueDate"),
		goqu.I("r.returnDate").As("returnDate"),
		goqu.I("b.title").As("title"),
	}
}

func (l *Ledger) recordsWithBooks() *goqu.SelectDataset {
	return l.db.dialect.
		From(goqu.T(tableRecords).As("r")).
		InnerJoin(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.isbn").Eq(goqu.I("r.bookIsbn"))))
}

// OpenRecordsFor lists the patron's open loans, earliest due first.
func (l *Ledger) OpenRecordsFor(ctx context.Context, patronID string) ([]Loan, error) {
	ds := l.recordsWithBooks().
		Select(recordColumns()...).
		Where(goqu.I("r.userId").Eq(patronID), goqu.I("r.returnDate").IsNull())
	return l.selectLoans(ctx, "open records", ds)
}

// OverdueRecordsFor lists the patron's open loans whose due date has passed.
func (l *Ledger) OverdueRecordsFor(ctx context.Context, patronID string) ([]Loan, error) {
	ds := l.recordsWithBooks().
		Select(recordColumns()...).
		Where(
			goqu.I("r.userId").Eq(patronID),
			goqu.I("r.returnDate").IsNull(),
			goqu.I("r.dueDate").Lt(l.db.today()),
		)
	return l.selectLoans(ctx, "overdue records", ds)
}

func (l *Ledger) selectLoans(ctx context.Context, op string, ds *goqu.SelectDataset) ([]Loan, error) {
	query, args, err := toSQL(ds.Order(goqu.I("r.dueDate").Asc(), goqu.I("r.recordId").Asc()))
	if err != nil {
		return nil, err
	}

	var loans []Loan
	if err := l.db.db.SelectContext(ctx, &loans, query, args...); err != nil {
		err = fmt.Errorf("%s: %w", op, classify(err))
		traceErr(ctx, l.log, op, err)
		return nil, err
	}
	return loans, nil
}

func (l *Ledger) entriesQuery() *goqu.SelectDataset {
	cols := append(recordColumns(),
		goqu.COALESCE(goqu.I("u.name"), "").As("name"),
		goqu.COALESCE(goqu.I("u.college"), "").As("college"),
		goqu.COALESCE(goqu.I("u.className"), "").As("className"),
		goqu.L("(r.returnDate IS NULL AND ? > r.dueDate)", l.db.today()).As("isOverdue"),
	)

	return l.recordsWithBooks().
		InnerJoin(goqu.T(tableUsers).As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.userId")))).
		Select(cols...)
}

// AllRecordsJoined lists every lending record with patron and book details.
func (l *Ledger) AllRecordsJoined(ctx context.Context, sortBy RecordSort) ([]LedgerEntry, error) {
	order := goqu.I("u.id").Asc()
	if sortBy == SortByDueDate {
		order = goqu.I("r.dueDate").Asc()
	}
	return l.selectEntries(ctx, "all records", l.entriesQuery().Order(order, goqu.I("r.recordId").Asc()))
}

// RecordsJoinedFor lists the full lending history of one patron.
func (l *Ledger) RecordsJoinedFor(ctx context.Context, patronID string) ([]LedgerEntry, error) {
	ds := l.entriesQuery().
		Where(goqu.I("r.userId").Eq(patronID)).
		Order(goqu.I("r.recordId").Asc())
	return l.selectEntries(ctx, "patron records", ds)
}

func (l *Ledger) selectEntries(ctx context.Context, op string, ds *goqu.SelectDataset) ([]LedgerEntry, error) {
	query, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}

	var entries []LedgerEntry
	if err := l.db.db.SelectContext(ctx, &entries, query, args...); err != nil {
		err = fmt.Errorf("%s: %w", op, classify(err))
		traceErr(ctx, l.log, op, err)
		return nil, err
	}
	return entries, nil
}
