package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowAndReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 2)
	f.addStudent(t, "s1")

	rec, err := f.ledger.Borrow(ctx, "s1", "B1", 14)
	require.NoError(t, err)
	assert.Positive(t, rec.RecordID)
	assert.Equal(t, "s1", rec.PatronID)
	assert.Equal(t, "B1", rec.BookISBN)
	assert.Equal(t, "2024-03-01", rec.BorrowDate)
	assert.Equal(t, "2024-03-15", rec.DueDate)
	assert.True(t, rec.Open())
	assert.Equal(t, 1, f.available(t, "B1"))

	loans, err := f.ledger.OpenRecordsFor(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, rec, loans[0].LendingRecord)
	assert.Equal(t, "Title B1", loans[0].BookTitle)

	f.clock.Advance(3)
	closed, err := f.ledger.Return(ctx, rec.RecordID, "s1")
	require.NoError(t, err)
	require.NotNil(t, closed.ReturnDate)
	assert.Equal(t, "2024-03-04", *closed.ReturnDate)
	assert.False(t, closed.Open())
	assert.Equal(t, 2, f.available(t, "B1"))

	loans, err = f.ledger.OpenRecordsFor(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestBorrowUnavailableLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B0", 0)
	f.addStudent(t, "s1")

	_, err := f.ledger.Borrow(ctx, "s1", "B0", 7)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, f.available(t, "B0"))

	_, err = f.ledger.Borrow(ctx, "s1", "no-such-book", 7)
	assert.ErrorIs(t, err, ErrUnavailable)

	entries, err := f.ledger.RecordsJoinedFor(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBorrowUnknownPatronRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 1)

	_, err := f.ledger.Borrow(ctx, "ghost", "B1", 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "not_found", Kind(err))
	assert.Equal(t, 1, f.available(t, "B1"))
}

func TestBorrowRejectsNonPositiveDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 1)
	f.addStudent(t, "s1")

	for _, days := range []int{0, -3} {
		_, err := f.ledger.Borrow(ctx, "s1", "B1", days)
		assert.ErrorIs(t, err, ErrValidation, "days=%d", days)
	}
	assert.Equal(t, 1, f.available(t, "B1"))
}

func TestValidateLoanDays(t *testing.T) {
	for _, days := range []int{MinLoanDays, 30, MaxLoanDays} {
		assert.NoError(t, ValidateLoanDays(days), "days=%d", days)
	}
	for _, days := range []int{-1, 0, MaxLoanDays + 1} {
		assert.ErrorIs(t, ValidateLoanDays(days), ErrValidation, "days=%d", days)
	}
}

func TestReturnRequiresOpenOwnedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 1)
	f.addStudent(t, "s1")
	f.addStudent(t, "s2")

	rec, err := f.ledger.Borrow(ctx, "s1", "B1", 7)
	require.NoError(t, err)

	_, err = f.ledger.Return(ctx, rec.RecordID, "s2")
	assert.ErrorIs(t, err, ErrNotFound, "other patron's record")

	_, err = f.ledger.Return(ctx, rec.RecordID+100, "s1")
	assert.ErrorIs(t, err, ErrNotFound, "unknown record")

	_, err = f.ledger.Return(ctx, rec.RecordID, "s1")
	require.NoError(t, err)

	_, err = f.ledger.Return(ctx, rec.RecordID, "s1")
	assert.ErrorIs(t, err, ErrNotFound, "double return")
	assert.Equal(t, 1, f.available(t, "B1"))
}

func TestReturnAfterCatalogResetKeepsCounterBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 1)
	f.addStudent(t, "s1")

	rec, err := f.ledger.Borrow(ctx, "s1", "B1", 7)
	require.NoError(t, err)

	// Inventory correction while the copy is out.
	require.NoError(t, f.catalog.UpdateBook(ctx, Book{ISBN: "B1", Title: "Title B1", TotalCopies: 1, AvailableCopies: 1}))

	_, err = f.ledger.Return(ctx, rec.RecordID, "s1")
	require.NoError(t, err)

	b, err := f.catalog.GetBook(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, b.TotalCopies, b.AvailableCopies)
}

func TestRenewCompounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 1)
	f.addStudent(t, "s1")
	f.addStudent(t, "s2")

	rec, err := f.ledger.Borrow(ctx, "s1", "B1", 7)
	require.NoError(t, err)
	require.Equal(t, "2024-03-08", rec.DueDate)

	renewed, err := f.ledger.Renew(ctx, rec.RecordID, "s1")
	require.NoError(t, err)
	assert.Equal(t, "2024-04-07", renewed.DueDate)

	renewed, err = f.ledger.Renew(ctx, rec.RecordID, "s1")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-07", renewed.DueDate)
	assert.Equal(t, 0, f.available(t, "B1"), "renew does not touch counters")

	_, err = f.ledger.Renew(ctx, rec.RecordID, "s2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.ledger.Return(ctx, rec.RecordID, "s1")
	require.NoError(t, err)

	_, err = f.ledger.Renew(ctx, rec.RecordID, "s1")
	assert.ErrorIs(t, err, ErrNotFound, "closed record")
}

func TestOverdueRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 2)
	f.addBook(t, "B2", 1)
	f.addStudent(t, "s1")

	short, err := f.ledger.Borrow(ctx, "s1", "B1", 7)
	require.NoError(t, err)
	_, err = f.ledger.Borrow(ctx, "s1", "B2", 30)
	require.NoError(t, err)

	f.clock.Advance(7)
	overdue, err := f.ledger.OverdueRecordsFor(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, overdue, "due today is not overdue")

	f.clock.Advance(1)
	overdue, err = f.ledger.OverdueRecordsFor(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, short.RecordID, overdue[0].RecordID)

	_, err = f.ledger.Return(ctx, short.RecordID, "s1")
	require.NoError(t, err)

	overdue, err = f.ledger.OverdueRecordsFor(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, overdue, "returned records are never overdue")
}

func TestAllRecordsJoined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 2)
	f.addBook(t, "B2", 1)
	f.addStudent(t, "s2")
	f.addStudent(t, "s1")

	r1, err := f.ledger.Borrow(ctx, "s2", "B1", 5)
	require.NoError(t, err)
	r2, err := f.ledger.Borrow(ctx, "s1", "B2", 20)
	require.NoError(t, err)
	r3, err := f.ledger.Borrow(ctx, "s1", "B1", 3)
	require.NoError(t, err)
	_, err = f.ledger.Return(ctx, r3.RecordID, "s1")
	require.NoError(t, err)

	f.clock.Advance(10)

	ids := func(entries []LedgerEntry) []int64 {
		out := make([]int64, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.RecordID)
		}
		return out
	}

	byPatron, err := f.ledger.AllRecordsJoined(ctx, SortByPatron)
	require.NoError(t, err)
	assert.Equal(t, []int64{r2.RecordID, r3.RecordID, r1.RecordID}, ids(byPatron))

	byDue, err := f.ledger.AllRecordsJoined(ctx, ParseRecordSort("dueDate"))
	require.NoError(t, err)
	assert.Equal(t, []int64{r3.RecordID, r1.RecordID, r2.RecordID}, ids(byDue))

	entry := byDue[1]
	assert.Equal(t, "s2", entry.PatronID)
	assert.Equal(t, "Student s2", entry.PatronName)
	assert.Equal(t, "Science", entry.Affiliation)
	assert.Equal(t, "CS-1", entry.Group)
	assert.Equal(t, "Title B1", entry.BookTitle)
	assert.True(t, entry.IsOverdue)

	assert.False(t, byDue[0].IsOverdue, "closed")
	assert.NotNil(t, byDue[0].ReturnDate)
	assert.False(t, byDue[2].IsOverdue, "not yet due")

	history, err := f.ledger.RecordsJoinedFor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int64{r2.RecordID, r3.RecordID}, ids(history))
}

func TestParseRecordSort(t *testing.T) {
	assert.Equal(t, SortByDueDate, ParseRecordSort("due"))
	assert.Equal(t, SortByDueDate, ParseRecordSort("dueDate"))
	assert.Equal(t, SortByPatron, ParseRecordSort("u.id"))
	assert.Equal(t, SortByPatron, ParseRecordSort("1; DROP TABLE Users"))
}

func TestConcurrentBorrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const copies = 3
	const borrowers = 12

	f.addBook(t, "HOT", copies)
	for i := range borrowers {
		f.addStudent(t, fmt.Sprintf("p%02d", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, borrowers)
	for i := range borrowers {
		wg.Add(1)
		go func(patronID string) {
			defer wg.Done()
			_, err := f.ledger.Borrow(ctx, patronID, "HOT", 14)
			results <- err
		}(fmt.Sprintf("p%02d", i))
	}
	wg.Wait()
	close(results)

	var ok, unavailable int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected borrow error: %v", err)
		}
	}

	assert.Equal(t, copies, ok)
	assert.Equal(t, borrowers-copies, unavailable)
	assert.Equal(t, 0, f.available(t, "HOT"))

	var open int
	require.NoError(t, f.db.db.Get(&open, `SELECT COUNT(*) FROM BorrowingRecords WHERE bookIsbn='HOT' AND returnDate IS NULL`))
	assert.Equal(t, copies, open)
}

func TestCopyCountInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "B1", 3)
	for _, id := range []string{"s1", "s2", "s3"} {
		f.addStudent(t, id)
	}

	check := func() {
		t.Helper()
		var open int
		require.NoError(t, f.db.db.Get(&open, `SELECT COUNT(*) FROM BorrowingRecords WHERE bookIsbn='B1' AND returnDate IS NULL`))
		b, err := f.catalog.GetBook(ctx, "B1")
		require.NoError(t, err)
		assert.Equal(t, b.TotalCopies, b.AvailableCopies+open)
	}

	var recs []LendingRecord
	for _, id := range []string{"s1", "s2", "s3"} {
		rec, err := f.ledger.Borrow(ctx, id, "B1", 10)
		require.NoError(t, err)
		recs = append(recs, rec)
		check()
	}

	_, err := f.ledger.Borrow(ctx, "s1", "B1", 10)
	require.ErrorIs(t, err, ErrUnavailable)
	check()

	for _, rec := range recs {
		_, err := f.ledger.Renew(ctx, rec.RecordID, rec.PatronID)
		require.NoError(t, err)
		_, err = f.ledger.Return(ctx, rec.RecordID, rec.PatronID)
		require.NoError(t, err)
		check()
	}
}
