package library

import (
	"fmt"
	"strings"
)

// Role is the closed set of patron roles.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleStudent Role = "STUDENT"
)

// ParseRole accepts the stored spelling case-insensitively and rejects
// anything that is not ADMIN or STUDENT.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleStudent:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
}

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleStudent }

// Book is a catalog title with its copy counters.
// AvailableCopies is only changed by the Ledger, except when an update
// through the Catalog resets both counters together.
type Book struct {
	ISBN            string `db:"isbn" json:"isbn" validate:"required,max=32"`
	Title           string `db:"title" json:"title" validate:"required,max=256"`
	Author          string `db:"author" json:"author" validate:"max=256"`
	Publisher       string `db:"publisher" json:"publisher" validate:"max=256"`
	Category        string `db:"category" json:"category" validate:"max=128"`
	TotalCopies     int    `db:"totalCopies" json:"total_copies" validate:"min=0"`
	AvailableCopies int    `db:"availableCopies" json:"available_copies" validate:"min=0,ltefield=TotalCopies"`
}

// Patron is a registered user. The credential digests never leave the
// package; HasRecoveryToken only reports whether one is set.
type Patron struct {
	ID               string `db:"id" json:"id" validate:"required,max=64"`
	Username         string `db:"username" json:"username" validate:"required,max=64"`
	DisplayName      string `db:"name" json:"name" validate:"max=128"`
	Affiliation      string `db:"college" json:"college" validate:"max=128"`
	Group            string `db:"className" json:"class" validate:"max=128"`
	Role             Role   `db:"role" json:"role" validate:"required,oneof=ADMIN STUDENT"`
	HasRecoveryToken bool   `db:"hasRecoveryToken" json:"has_recovery_token"`
}

// ProfileUpdate carries the mutable profile fields of a patron.
type ProfileUpdate struct {
	DisplayName string `validate:"max=128"`
	Affiliation string `validate:"max=128"`
	Group       string `validate:"max=128"`
}

// LendingRecord is one checkout. Dates are YYYY-MM-DD; ReturnDate is nil
// while the record is open.
type LendingRecord struct {
	RecordID   int64   `db:"recordId" json:"record_id"`
	PatronID   string  `db:"userId" json:"patron_id"`
	BookISBN   string  `db:"bookIsbn" json:"isbn"`
	BorrowDate string  `db:"borrowDate" json:"borrow_date"`
	DueDate    string  `db:"dueDate" json:"due_date"`
	ReturnDate *string `db:"returnDate" json:"return_date,omitempty"`
}

// Open reports whether the book is still checked out.
func (r LendingRecord) Open() bool { return r.ReturnDate == nil }

// Loan is a lending record joined with its book title.
type Loan struct {
	LendingRecord
	BookTitle string `db:"title" json:"title"`
}

// LedgerEntry is a lending record joined with patron and book attributes.
type LedgerEntry struct {
	RecordID    int64   `db:"recordId" json:"record_id"`
	PatronID    string  `db:"userId" json:"patron_id"`
	PatronName  string  `db:"name" json:"patron_name"`
	Affiliation string  `db:"college" json:"college"`
	Group       string  `db:"className" json:"class"`
	BookISBN    string  `db:"bookIsbn" json:"isbn"`
	BookTitle   string  `db:"title" json:"title"`
	BorrowDate  string  `db:"borrowDate" json:"borrow_date"`
	DueDate     string  `db:"dueDate" json:"due_date"`
	ReturnDate  *string `db:"returnDate" json:"return_date,omitempty"`
	IsOverdue   bool    `db:"isOverdue" json:"overdue"`
}

// BookSort selects the ordering of catalog searches.
type BookSort int

const (
	SortByTitle BookSort = iota
	SortByAuthor
	SortByISBN
)

// ParseBookSort maps a user supplied key onto the allow-list. Unknown keys
// sort by title.
func ParseBookSort(s string) BookSort {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "author":
		return SortByAuthor
	case "isbn":
		return SortByISBN
	default:
		return SortByTitle
	}
}

func (s BookSort) column() string {
	switch s {
	case SortByAuthor:
		return colAuthor
	case SortByISBN:
		return colISBN
	default:
		return colTitle
	}
}

func (s BookSort) String() string { return s.column() }

// RecordSort selects the ordering of joined ledger listings.
type RecordSort int

const (
	SortByPatron RecordSort = iota
	SortByDueDate
)

// ParseRecordSort accepts "due"/"dueDate"; everything else sorts by patron.
func ParseRecordSort(s string) RecordSort {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "due", "duedate", "due_date", "due-date":
		return SortByDueDate
	default:
		return SortByPatron
	}
}

func (s RecordSort) String() string {
	if s == SortByDueDate {
		return "dueDate"
	}
	return "patron"
}
