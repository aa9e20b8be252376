package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library/digest"
)

func storedDigests(t *testing.T, f *fixture, username string) (password string, token *string) {
	t.Helper()
	row := struct {
		Password string  `db:"password_hash"`
		Token    *string `db:"recovery_token_hash"`
	}{}
	require.NoError(t, f.db.db.Get(&row, `SELECT password_hash, recovery_token_hash FROM Users WHERE username=?`, username))
	return row.Password, row.Token
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := Patron{ID: "s1", Username: "alice", DisplayName: "Alice", Affiliation: "Arts", Group: "A-1", Role: RoleStudent}
	require.NoError(t, f.access.Register(ctx, p, "correct horse"))

	pw, token := storedDigests(t, f, "alice")
	assert.Equal(t, digest.String("correct horse"), pw)
	assert.Len(t, pw, digest.HexSize)
	assert.Nil(t, token)

	got, ok, err := f.access.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestAuthenticateFailureShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStudent(t, "s1")

	wrongPatron, wrongOK, wrongErr := f.access.Authenticate(ctx, "s1", "not the password")
	unknownPatron, unknownOK, unknownErr := f.access.Authenticate(ctx, "nobody", "pw-s1")

	assert.NoError(t, wrongErr)
	assert.NoError(t, unknownErr)
	assert.False(t, wrongOK)
	assert.False(t, unknownOK)
	assert.Equal(t, Patron{}, wrongPatron)
	assert.Equal(t, wrongPatron, unknownPatron)

	_, ok, err := f.access.Authenticate(ctx, "s1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStudent(t, "s1")

	err := f.access.Register(ctx, Patron{ID: "s9", Username: "s1", Role: RoleStudent}, "pw")
	assert.ErrorIs(t, err, ErrConflict, "taken username")

	err = f.access.Register(ctx, Patron{ID: "s1", Username: "fresh", Role: RoleStudent}, "pw")
	assert.ErrorIs(t, err, ErrConflict, "taken id")

	err = f.access.Register(ctx, Patron{ID: "s2", Username: "s2", Role: RoleStudent}, "  ")
	assert.ErrorIs(t, err, ErrValidation, "blank password")

	err = f.access.Register(ctx, Patron{ID: "s3", Username: "s3"}, "pw")
	assert.ErrorIs(t, err, ErrValidation, "no role")
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStudent(t, "s1")

	require.NoError(t, f.access.ChangePassword(ctx, "s1", "new-pw"))

	_, ok, err := f.access.Authenticate(ctx, "s1", "pw-s1")
	require.NoError(t, err)
	assert.False(t, ok, "old password")

	_, ok, err = f.access.Authenticate(ctx, "s1", "new-pw")
	require.NoError(t, err)
	assert.True(t, ok, "new password")

	assert.ErrorIs(t, f.access.ChangePassword(ctx, "ghost", "x"), ErrNotFound)
	assert.ErrorIs(t, f.access.ChangePassword(ctx, "s1", ""), ErrValidation)
}

func TestRecoveryToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStudent(t, "s1")

	assert.ErrorIs(t, f.access.SetRecoveryToken(ctx, "s1", ""), ErrValidation)
	assert.ErrorIs(t, f.access.SetRecoveryToken(ctx, "ghost", "tok"), ErrNotFound)

	// No token stored yet.
	assert.ErrorIs(t, f.access.RecoverPassword(ctx, "s1", "tok", "new-pw"), ErrNotFound)

	require.NoError(t, f.access.SetRecoveryToken(ctx, "s1", "tok"))
	p, err := f.catalog.PatronByUsername(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, p.HasRecoveryToken)

	_, token := storedDigests(t, f, "s1")
	require.NotNil(t, token)
	assert.Equal(t, digest.String("tok"), *token)

	before, _ := storedDigests(t, f, "s1")
	err = f.access.RecoverPassword(ctx, "s1", "wrong", "new-pw")
	assert.ErrorIs(t, err, ErrNotFound)
	after, _ := storedDigests(t, f, "s1")
	assert.Equal(t, before, after, "credential unchanged after wrong token")

	assert.ErrorIs(t, f.access.RecoverPassword(ctx, "ghost", "tok", "new-pw"), ErrNotFound)
	assert.ErrorIs(t, f.access.RecoverPassword(ctx, "s1", "tok", ""), ErrValidation)

	require.NoError(t, f.access.RecoverPassword(ctx, "s1", "tok", "new-pw"))

	_, ok, err := f.access.Authenticate(ctx, "s1", "new-pw")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = f.access.Authenticate(ctx, "s1", "pw-s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.access.EnsureAdmin(ctx, "admin", "admin"))
	require.NoError(t, f.access.EnsureAdmin(ctx, "admin", "ignored"))

	admin, ok, err := f.access.Authenticate(ctx, "admin", "admin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "admin", admin.ID)
	assert.Equal(t, RoleAdmin, admin.Role)

	students, err := f.catalog.AllStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, students)
}
