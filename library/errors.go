package library

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error kinds returned by the catalog, ledger and access services. Callers
// test for them with errors.Is; the driver error stays in the chain.
var (
	// ErrNotFound: the entity or record is absent, or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict: unique key violation, blocked delete or duplicate registration.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: no copy left to lend.
	ErrUnavailable = errors.New("unavailable")
	// ErrValidation: input rejected before it reached the store.
	ErrValidation = errors.New("validation failed")
	// ErrStorage: the store failed to open, prepare or execute.
	ErrStorage = errors.New("storage failure")
)

// Kind returns a stable label for err's kind, or "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "storage"
	}
}

// classify tags a driver error with the matching kind.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		//nolint:exhaustive
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintForeignKey:
			return errors.Join(ErrConflict, err)
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return errors.Join(ErrValidation, err)
		}
	}

	return errors.Join(ErrStorage, err)
}

func isForeignKeyViolation(err error) bool {
	var liteErr sqlite3.Error
	return errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func isBusy(err error) bool {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

func unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnavailable}, args...)...)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
