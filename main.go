package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/internal/config"
	"library-circulation/internal/logging"
	"library-circulation/library"
)

const appName = "library"

var errForbidden = errors.New("this command needs an ADMIN account")

// appConfig is read from LIBRARY_* variables and an optional .env file.
type appConfig struct {
	DB    library.Config
	Admin struct {
		Username string `env:"USERNAME" default:"admin"`
		Password string `env:"PASSWORD" default:"admin"`
	} `envPrefix:"ADMIN_"`
	Log logging.LoggerConfig `envPrefix:"LOG_"`
}

// app carries the state shared by all subcommands of one invocation.
type app struct {
	cfg    appConfig
	dbPath string
	user   string
	asJSON bool

	mgr *library.LibraryManager
	log logging.Logger

	in  *bufio.Reader
	out io.Writer
	// ttyFD is the terminal behind stdin, or -1 when input is piped.
	ttyFD int
}

func main() {
	if err := execute(os.Stdin, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one command line and always releases the database.
func execute(in io.Reader, out io.Writer, args []string) error {
	a, root := newRootCmd(in, out)
	root.SetArgs(args)
	root.SetOut(out)

	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(in io.Reader, out io.Writer) (*app, *cobra.Command) {
	a := &app{in: bufio.NewReader(in), out: out, ttyFD: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		a.ttyFD = int(f.Fd())
	}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Library circulation: catalog, loans and accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database file (default $LIBRARY_DB_PATH or library.db)")
	root.PersistentFlags().StringVarP(&a.user, "user", "u", "", "username to act as")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		a.bookCmd(),
		a.patronCmd(),
		a.loginCmd(),
		a.passwdCmd(),
		a.recoveryCmd(),
		a.borrowCmd(),
		a.returnCmd(),
		a.renewCmd(),
		a.loansCmd(),
		a.recordsCmd(),
	)
	return a, root
}

func (a *app) open(cmd *cobra.Command) error {
	if err := config.Load(&a.cfg, "LIBRARY"); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.Configure(cmd.Context(), a.cfg.Log, appName); err != nil {
		return err
	}
	a.log = logging.GetLogger("cli")

	if a.dbPath != "" {
		a.cfg.DB.Path = a.dbPath
	}

	mgr, err := library.NewLibraryManager(a.cfg.DB)
	if err != nil {
		return err
	}
	a.mgr = mgr

	ctx := logging.WithOperationID(cmd.Context())
	cmd.SetContext(ctx)

	return a.mgr.Access.EnsureAdmin(ctx, a.cfg.Admin.Username, a.cfg.Admin.Password)
}

func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	err := a.mgr.Close()
	a.mgr = nil
	return err
}

// readPassword reads a secret with masking when stdin is a terminal and a
// plain line otherwise, so commands can be scripted.
func (a *app) readPassword(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)

	if a.ttyFD >= 0 {
		bytePassword, err := term.ReadPassword(a.ttyFD)
		fmt.Fprintln(a.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytePassword)), nil
	}

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// newSecret prompts twice and insists both entries match.
func (a *app) newSecret(what string) (string, error) {
	first, err := a.readPassword(fmt.Sprintf("New %s: ", what))
	if err != nil {
		return "", err
	}
	second, err := a.readPassword(fmt.Sprintf("Repeat %s: ", what))
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%w: the two entries differ", library.ErrValidation)
	}
	return first, nil
}

// login authenticates --user with a prompted password.
func (a *app) login(ctx context.Context) (library.Patron, error) {
	if a.user == "" {
		return library.Patron{}, fmt.Errorf("%w: --user is required", library.ErrValidation)
	}

	password, err := a.readPassword(fmt.Sprintf("Password for %s: ", a.user))
	if err != nil {
		return library.Patron{}, err
	}

	patron, ok, err := a.mgr.Access.Authenticate(ctx, a.user, password)
	if err != nil {
		return library.Patron{}, err
	}
	if !ok {
		a.log.InfoContext(ctx, "login failed", "username", a.user)
		return library.Patron{}, errors.New("invalid username or password")
	}
	return patron, nil
}

func (a *app) loginAdmin(ctx context.Context) (library.Patron, error) {
	patron, err := a.login(ctx)
	if err != nil {
		return library.Patron{}, err
	}
	if patron.Role != library.RoleAdmin {
		return library.Patron{}, errForbidden
	}
	return patron, nil
}

// emit prints v as indented JSON when --json is set; otherwise it calls text.
func (a *app) emit(v any, text func(w io.Writer)) error {
	if !a.asJSON {
		text(a.out)
		return nil
	}

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
