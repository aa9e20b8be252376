package library

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"library-circulation/internal/logging"
	"library-circulation/library/digest"
)

// absentDigest stands in for the stored digest of an unknown username so a
// failed lookup costs the same as a wrong password.
//
//nolint:gochecknoglobals
var absentDigest = digest.String("\x00no such patron\x00")

// Access registers patrons and checks their credentials. Passwords and
// recovery tokens are stored only as SHA-256 hex digests.
type Access struct {
	db      *Database
	catalog *Catalog
	log     logging.Logger
}

func NewAccess(db *Database, catalog *Catalog) *Access {
	return &Access{db: db, catalog: catalog, log: db.logger("access")}
}

type credentials struct {
	Patron
	PasswordHash string `db:"password_hash"`
}

// Register creates a patron whose password is password.
func (a *Access) Register(ctx context.Context, p Patron, password string) (err error) {
	defer func() { traceErr(ctx, a.log, "register", err) }()

	if err := validateSecret("password", password); err != nil {
		return err
	}

	taken, err := a.catalog.UsernameExists(ctx, p.Username)
	if err != nil {
		return err
	}
	if taken {
		return conflictf("username %s is taken", p.Username)
	}

	// A racing registration still fails on the UNIQUE constraint.
	return a.catalog.AddPatron(ctx, p, digest.String(password))
}

// Authenticate returns the patron when username and password match. An
// unknown username and a wrong password give the same (Patron{}, false, nil)
// result; err is only set when the store fails.
func (a *Access) Authenticate(ctx context.Context, username, password string) (Patron, bool, error) {
	query, args, err := toSQL(a.db.dialect.From(tableUsers).
		Select(append(patronColumns(), goqu.C("password_hash"))...).
		Where(goqu.C("username").Eq(username)))
	if err != nil {
		return Patron{}, false, err
	}

	var creds credentials
	found := true
	if err := a.db.db.GetContext(ctx, &creds, query, args...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("lookup credentials: %w", classify(err))
			traceErr(ctx, a.log, "authenticate", err)
			return Patron{}, false, err
		}
		found = false
		creds.PasswordHash = absentDigest
	}

	given := digest.String(password)
	match := subtle.ConstantTimeCompare([]byte(given), []byte(creds.PasswordHash)) == 1
	if !found || !match {
		a.log.DebugContext(ctx, "authentication failed")
		return Patron{}, false, nil
	}

	a.log.DebugContext(ctx, "authenticated", "id", creds.ID, "role", creds.Role)
	return creds.Patron, true, nil
}

// ChangePassword overwrites the password of username.
func (a *Access) ChangePassword(ctx context.Context, username, newPassword string) (err error) {
	defer func() { traceErr(ctx, a.log, "change password", err) }()

	if err := validateSecret("password", newPassword); err != nil {
		return err
	}

	return a.updateUser(ctx, `UPDATE Users SET password_hash=? WHERE username=?`, username, digest.String(newPassword))
}

// SetRecoveryToken replaces the recovery token of username.
func (a *Access) SetRecoveryToken(ctx context.Context, username, token string) (err error) {
	defer func() { traceErr(ctx, a.log, "set recovery token", err) }()

	if err := validateSecret("recovery token", token); err != nil {
		return err
	}

	return a.updateUser(ctx, `UPDATE Users SET recovery_token_hash=? WHERE username=?`, username, digest.String(token))
}

func (a *Access) updateUser(ctx context.Context, stmt, username, value string) error {
	res, err := a.db.db.ExecContext(ctx, stmt, value, username)
	if err != nil {
		return fmt.Errorf("update %s: %w", username, classify(err))
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundf("patron %s", username)
	}
	return nil
}

// RecoverPassword sets a new password when token matches the stored recovery
// token. A wrong token, an unset token and an unknown username all return
// ErrNotFound and leave the credential unchanged.
func (a *Access) RecoverPassword(ctx context.Context, username, token, newPassword string) (err error) {
	defer func() { traceErr(ctx, a.log, "recover password", err) }()

	if err := validateSecret("recovery token", token); err != nil {
		return err
	}
	if err := validateSecret("password", newPassword); err != nil {
		return err
	}

	return a.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE Users SET password_hash=? WHERE username=? AND recovery_token_hash=?`,
			digest.String(newPassword), username, digest.String(token),
		)
		if err != nil {
			return fmt.Errorf("recover %s: %w", username, classify(err))
		}

		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return notFoundf("no recovery token match for %s", username)
		}
		return nil
	})
}

// EnsureAdmin creates the ADMIN patron username (id == username) unless a
// patron with that username already exists.
func (a *Access) EnsureAdmin(ctx context.Context, username, password string) error {
	exists, err := a.catalog.UsernameExists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = a.Register(ctx, Patron{
		ID:          username,
		Username:    username,
		DisplayName: "Administrator",
		Role:        RoleAdmin,
	}, password)
	if errors.Is(err, ErrConflict) {
		return nil
	}
	if err == nil {
		a.log.InfoContext(ctx, "default admin created", "username", username)
	}
	return err
}
