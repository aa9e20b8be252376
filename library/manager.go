package library

import (
	"context"
	"fmt"
)

// LibraryManager is a thin façade over the catalog, ledger and access
// services sharing one Database, keeping CLI code simple.
type LibraryManager struct {
	db *Database

	Catalog *Catalog
	Ledger  *Ledger
	Access  *Access
}

// NewLibraryManager opens (or creates) the SQLite database described by cfg.
func NewLibraryManager(cfg Config, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(cfg, opts...)
	if err != nil {
		return nil, err
	}

	catalog := NewCatalog(db)
	return &LibraryManager{
		db:      db,
		Catalog: catalog,
		Ledger:  NewLedger(db),
		Access:  NewAccess(db, catalog),
	}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Today is the ledger's current date.
func (lm *LibraryManager) Today() string { return lm.db.today() }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, b Book) error    { return lm.Catalog.AddBook(ctx, b) }
func (lm *LibraryManager) UpdateBook(ctx context.Context, b Book) error { return lm.Catalog.UpdateBook(ctx, b) }
func (lm *LibraryManager) DeleteBook(ctx context.Context, isbn string) error {
	return lm.Catalog.DeleteBook(ctx, isbn)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, keyword, sortBy string) ([]Book, error) {
	return lm.Catalog.FindBooks(ctx, keyword, ParseBookSort(sortBy))
}

// ------------------ Patron helpers ------------------

// RegisterStudent creates a STUDENT patron.
func (lm *LibraryManager) RegisterStudent(ctx context.Context, p Patron, password string) error {
	p.Role = RoleStudent
	return lm.Access.Register(ctx, p, password)
}

// AddAccount creates a patron of either role. An administrator's id is its
// username.
func (lm *LibraryManager) AddAccount(ctx context.Context, p Patron, password string) error {
	if !p.Role.Valid() {
		return validationf("unknown role %q", p.Role)
	}
	if p.Role == RoleAdmin {
		p.ID = p.Username
	}
	return lm.Access.Register(ctx, p, password)
}

// SignUp registers a student who logs in with their student id.
func (lm *LibraryManager) SignUp(ctx context.Context, p Patron, password string) error {
	p.Username = p.ID
	return lm.RegisterStudent(ctx, p, password)
}

func (lm *LibraryManager) SearchStudents(ctx context.Context, keyword string) ([]Patron, error) {
	return lm.Catalog.FindStudents(ctx, keyword)
}

// ------------------ Circulation ------------------

// Borrow checks the requested duration against the allowed range before
// handing the loan to the ledger.
func (lm *LibraryManager) Borrow(ctx context.Context, patronID, isbn string, days int) (LendingRecord, error) {
	if err := ValidateLoanDays(days); err != nil {
		return LendingRecord{}, err
	}
	return lm.Ledger.Borrow(ctx, patronID, isbn, days)
}

func (lm *LibraryManager) Return(ctx context.Context, recordID int64, patronID string) (LendingRecord, error) {
	return lm.Ledger.Return(ctx, recordID, patronID)
}

func (lm *LibraryManager) Renew(ctx context.Context, recordID int64, patronID string) (LendingRecord, error) {
	return lm.Ledger.Renew(ctx, recordID, patronID)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b Book) string {
	return fmt.Sprintf("%-17s %-30s %-25s %3d/%-3d", b.ISBN, b.Title, b.Author, b.AvailableCopies, b.TotalCopies)
}

// PrettyLoan formats an open loan for lists.
func PrettyLoan(l Loan) string {
	return fmt.Sprintf("%-6d %-17s %-30s due %s", l.RecordID, l.BookISBN, l.BookTitle, l.DueDate)
}

// PrettyEntry formats a joined ledger row for lists.
func PrettyEntry(e LedgerEntry) string {
	returned := "-"
	if e.ReturnDate != nil {
		returned = *e.ReturnDate
	}
	flag := ""
	if e.IsOverdue {
		flag = "OVERDUE"
	}
	return fmt.Sprintf("%-6d %-12s %-20s %-17s %-25s %s %s %-10s %s",
		e.RecordID, e.PatronID, e.PatronName, e.BookISBN, e.BookTitle, e.BorrowDate, e.DueDate, returned, flag)
}
