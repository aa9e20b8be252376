package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
)

func runCLI(t *testing.T, db, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(strings.NewReader(input), &out, append([]string{"--db", db}, args...))
	return out.String(), err
}

func TestCLICirculation(t *testing.T) {
	t.Setenv("LIBRARY_LOG_OUTPUT", "discard")
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, db, "admin\n", "--user", "admin", "book", "add", "--isbn", "X", "--title", "Only Copy", "--copies", "1")
	require.NoError(t, err)

	_, err = runCLI(t, db, "admin\npw\npw\n", "--user", "admin", "patron", "register", "--id", "P", "--username", "p", "--name", "Pat")
	require.NoError(t, err)

	out, err := runCLI(t, db, "pw\n", "--user", "p", "--json", "borrow", "X", "--days", "7")
	require.NoError(t, err)
	var rec library.LendingRecord
	require.NoError(t, jsoniter.NewDecoder(strings.NewReader(out[strings.Index(out, "{"):])).Decode(&rec))
	assert.Equal(t, "X", rec.BookISBN)
	assert.Equal(t, "P", rec.PatronID)

	out, err = runCLI(t, db, "pw\n", "--user", "p", "loans")
	require.NoError(t, err)
	assert.Contains(t, out, "Only Copy")

	_, err = runCLI(t, db, "pw\n", "--user", "p", "borrow", "X")
	assert.ErrorIs(t, err, library.ErrUnavailable)

	out, err = runCLI(t, db, "", "book", "search", "only")
	require.NoError(t, err)
	assert.Contains(t, out, "0/1")

	_, err = runCLI(t, db, "pw\n", "--user", "p", "return", "1")
	require.NoError(t, err)

	_, err = runCLI(t, db, "pw\n", "--user", "p", "return", "1")
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestCLIRejects(t *testing.T) {
	t.Setenv("LIBRARY_LOG_OUTPUT", "discard")
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, db, "admin\npw\npw\n", "--user", "admin", "patron", "register", "--id", "S", "--username", "s")
	require.NoError(t, err)

	_, err = runCLI(t, db, "pw\n", "--user", "s", "book", "add", "--isbn", "Y", "--title", "T")
	assert.ErrorIs(t, err, errForbidden)

	_, err = runCLI(t, db, "wrong\n", "--user", "s", "loans")
	assert.Error(t, err)

	_, err = runCLI(t, db, "pw\n", "--user", "s", "borrow", "Y", "--days", "91")
	assert.ErrorIs(t, err, library.ErrValidation)

	_, err = runCLI(t, db, "admin\nnew\nother\n", "--user", "admin", "passwd")
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestCLIRecovery(t *testing.T) {
	t.Setenv("LIBRARY_LOG_OUTPUT", "discard")
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, db, "admin\npw\npw\n", "--user", "admin", "patron", "register", "--id", "S", "--username", "s")
	require.NoError(t, err)

	_, err = runCLI(t, db, "pw\ntok\ntok\n", "--user", "s", "recovery", "set")
	require.NoError(t, err)

	_, err = runCLI(t, db, "bad\nnew\nnew\n", "--user", "s", "recovery", "use")
	assert.ErrorIs(t, err, library.ErrNotFound)

	_, err = runCLI(t, db, "tok\nnew\nnew\n", "--user", "s", "recovery", "use")
	require.NoError(t, err)

	out, err := runCLI(t, db, "new\n", "--user", "s", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Welcome")
}

func TestCLIAddAccount(t *testing.T) {
	t.Setenv("LIBRARY_LOG_OUTPUT", "discard")
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, db, "admin\nsecret\nsecret\n", "--user", "admin", "patron", "add", "--role", "admin", "--username", "deputy")
	require.NoError(t, err)

	out, err := runCLI(t, db, "secret\n", "--user", "deputy", "--json", "login")
	require.NoError(t, err)
	var p library.Patron
	require.NoError(t, jsoniter.NewDecoder(strings.NewReader(out[strings.Index(out, "{"):])).Decode(&p))
	assert.Equal(t, "deputy", p.ID)
	assert.Equal(t, library.RoleAdmin, p.Role)

	// the new admin can manage the catalog
	_, err = runCLI(t, db, "secret\n", "--user", "deputy", "book", "add", "--isbn", "Z", "--title", "Zed")
	require.NoError(t, err)

	_, err = runCLI(t, db, "secret\npw\npw\n", "--user", "deputy", "patron", "add", "--username", "stu", "--id", "S9")
	require.NoError(t, err)
	out, err = runCLI(t, db, "pw\n", "--user", "stu", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "S9, STUDENT")

	_, err = runCLI(t, db, "", "--user", "admin", "patron", "add", "--role", "guest", "--username", "g")
	assert.ErrorIs(t, err, library.ErrValidation)

	_, err = runCLI(t, db, "pw\n", "--user", "stu", "patron", "add", "--role", "admin", "--username", "boss")
	assert.ErrorIs(t, err, errForbidden)
}

func TestCLISignup(t *testing.T) {
	t.Setenv("LIBRARY_LOG_OUTPUT", "discard")
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, db, "pw\npw\n", "patron", "signup", "--id", "2024001", "--name", "Li Lei", "--college", "Science")
	require.NoError(t, err)

	out, err := runCLI(t, db, "pw\n", "--user", "2024001", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Welcome, Li Lei (2024001, STUDENT)")

	_, err = runCLI(t, db, "pw\npw\n", "patron", "signup", "--id", "2024001")
	assert.ErrorIs(t, err, library.ErrConflict)
}

func TestCLIAdminResetsPassword(t *testing.T) {
	t.Setenv("LIBRARY_LOG_OUTPUT", "discard")
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, db, "admin\npw\npw\n", "--user", "admin", "patron", "register", "--id", "S", "--username", "s")
	require.NoError(t, err)

	_, err = runCLI(t, db, "admin\nfresh\nfresh\n", "--user", "admin", "passwd", "--for", "s")
	require.NoError(t, err)

	_, err = runCLI(t, db, "pw\n", "--user", "s", "login")
	assert.Error(t, err)
	_, err = runCLI(t, db, "fresh\n", "--user", "s", "login")
	require.NoError(t, err)

	_, err = runCLI(t, db, "admin\n", "--user", "admin", "passwd", "--for", "ghost")
	assert.ErrorIs(t, err, library.ErrNotFound)

	_, err = runCLI(t, db, "fresh\nx\nx\n", "--user", "s", "passwd", "--for", "admin")
	assert.ErrorIs(t, err, errForbidden)
}
