package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

// ------------------ Books ------------------

func (a *app) bookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}

	bookFlags := func(c *cobra.Command, b *library.Book) {
		c.Flags().StringVar(&b.ISBN, "isbn", "", "ISBN (required)")
		c.Flags().StringVar(&b.Title, "title", "", "title (required)")
		c.Flags().StringVar(&b.Author, "author", "", "author")
		c.Flags().StringVar(&b.Publisher, "publisher", "", "publisher")
		c.Flags().StringVar(&b.Category, "category", "", "category")
		_ = c.MarkFlagRequired("isbn")
		_ = c.MarkFlagRequired("title")
	}

	var added library.Book
	var copies int
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a title with its number of copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}
			added.TotalCopies, added.AvailableCopies = copies, copies
			if err := a.mgr.AddBook(cmd.Context(), added); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added %s (%d copies).\n", added.ISBN, copies)
			return nil
		},
	}
	bookFlags(add, &added)
	add.Flags().IntVar(&copies, "copies", 1, "number of copies")

	var updated library.Book
	update := &cobra.Command{
		Use:   "update",
		Short: "Rewrite a title, including both copy counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}
			if err := a.mgr.UpdateBook(cmd.Context(), updated); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %s.\n", updated.ISBN)
			return nil
		},
	}
	bookFlags(update, &updated)
	update.Flags().IntVar(&updated.TotalCopies, "total", 0, "total copies owned")
	update.Flags().IntVar(&updated.AvailableCopies, "available", 0, "copies on the shelf")

	del := &cobra.Command{
		Use:   "delete ISBN",
		Short: "Delete a title that was never lent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %s.\n", args[0])
			return nil
		},
	}

	var sortBy string
	search := &cobra.Command{
		Use:   "search [KEYWORD]",
		Short: "Search title, author and ISBN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := a.mgr.SearchBooks(cmd.Context(), strings.Join(args, " "), sortBy)
			if err != nil {
				return err
			}
			return a.emit(books, func(w io.Writer) {
				fmt.Fprintf(w, "%-17s %-30s %-25s %s\n", "ISBN", "Title", "Author", "Avail")
				fmt.Fprintln(w, strings.Repeat("-", 82))
				for _, b := range books {
					fmt.Fprintln(w, library.PrettyBook(b))
				}
			})
		},
	}
	search.Flags().StringVar(&sortBy, "sort", "title", "sort by title, author or isbn")

	cmd.AddCommand(add, update, del, search)
	return cmd
}

// ------------------ Patrons ------------------

func (a *app) patronCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "patron", Short: "Manage patrons"}

	var p library.Patron
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}
			password, err := a.newSecret("password for " + p.Username)
			if err != nil {
				return err
			}
			if err := a.mgr.RegisterStudent(cmd.Context(), p, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s (%s).\n", p.Username, p.ID)
			return nil
		},
	}
	register.Flags().StringVar(&p.ID, "id", "", "student id (required)")
	register.Flags().StringVar(&p.Username, "username", "", "login name (required)")
	register.Flags().StringVar(&p.DisplayName, "name", "", "display name")
	register.Flags().StringVar(&p.Affiliation, "college", "", "college")
	register.Flags().StringVar(&p.Group, "class", "", "class")
	_ = register.MarkFlagRequired("id")
	_ = register.MarkFlagRequired("username")

	var acct library.Patron
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an ADMIN or STUDENT account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := library.ParseRole(role)
			if err != nil {
				return err
			}
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}
			acct.Role = r
			password, err := a.newSecret("password for " + acct.Username)
			if err != nil {
				return err
			}
			if err := a.mgr.AddAccount(cmd.Context(), acct, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added %s account %s.\n", r, acct.Username)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(library.RoleStudent), "ADMIN or STUDENT")
	add.Flags().StringVar(&acct.Username, "username", "", "login name (required)")
	add.Flags().StringVar(&acct.ID, "id", "", "student id (admins use their username)")
	add.Flags().StringVar(&acct.DisplayName, "name", "", "display name")
	add.Flags().StringVar(&acct.Affiliation, "college", "", "college")
	add.Flags().StringVar(&acct.Group, "class", "", "class")
	_ = add.MarkFlagRequired("username")

	var self library.Patron
	signup := &cobra.Command{
		Use:   "signup",
		Short: "Register yourself as a student; your id is your login name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			taken, err := a.mgr.Catalog.UsernameExists(cmd.Context(), self.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: student id %s is already registered", library.ErrConflict, self.ID)
			}
			password, err := a.newSecret("password")
			if err != nil {
				return err
			}
			if err := a.mgr.SignUp(cmd.Context(), self, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s. Log in with your student id.\n", self.ID)
			return nil
		},
	}
	signup.Flags().StringVar(&self.ID, "id", "", "student id (required)")
	signup.Flags().StringVar(&self.DisplayName, "name", "", "display name")
	signup.Flags().StringVar(&self.Affiliation, "college", "", "college")
	signup.Flags().StringVar(&self.Group, "class", "", "class")
	_ = signup.MarkFlagRequired("id")

	search := &cobra.Command{
		Use:   "search [KEYWORD]",
		Short: "Search students by username, id or name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}
			students, err := a.mgr.SearchStudents(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.emit(students, func(w io.Writer) {
				for _, s := range students {
					fmt.Fprintf(w, "%-12s %-16s %-24s %-16s %s\n", s.ID, s.Username, s.DisplayName, s.Affiliation, s.Group)
				}
			})
		},
	}

	var upd library.ProfileUpdate
	var target string
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Update your profile (admins may pass --id)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			me, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			id := me.ID
			if target != "" && target != me.ID {
				if me.Role != library.RoleAdmin {
					return errForbidden
				}
				id = target
			}
			if err := a.mgr.Catalog.UpdateProfile(cmd.Context(), id, upd); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Profile of %s updated.\n", id)
			return nil
		},
	}
	profile.Flags().StringVar(&target, "id", "", "patron id to update")
	profile.Flags().StringVar(&upd.DisplayName, "name", "", "display name")
	profile.Flags().StringVar(&upd.Affiliation, "college", "", "college")
	profile.Flags().StringVar(&upd.Group, "class", "", "class")

	cmd.AddCommand(register, add, signup, search, profile)
	return cmd
}

// ------------------ Accounts ------------------

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check credentials and show the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(p, func(w io.Writer) {
				fmt.Fprintf(w, "Welcome, %s (%s, %s).\n", p.DisplayName, p.ID, p.Role)
			})
		},
	}
}

func (a *app) passwdCmd() *cobra.Command {
	var forUser string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change your password (admins may reset another with --for)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username := forUser
			if forUser == "" {
				p, err := a.login(cmd.Context())
				if err != nil {
					return err
				}
				username = p.Username
			} else {
				if _, err := a.loginAdmin(cmd.Context()); err != nil {
					return err
				}
				exists, err := a.mgr.Catalog.UsernameExists(cmd.Context(), forUser)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("%w: user %s", library.ErrNotFound, forUser)
				}
			}

			password, err := a.newSecret("password")
			if err != nil {
				return err
			}
			if err := a.mgr.Access.ChangePassword(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Password of %s changed.\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&forUser, "for", "", "username whose password an admin resets")
	return cmd
}

func (a *app) recoveryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "recovery", Short: "Password recovery tokens"}

	set := &cobra.Command{
		Use:   "set",
		Short: "Set your recovery token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			token, err := a.newSecret("recovery token")
			if err != nil {
				return err
			}
			if err := a.mgr.Access.SetRecoveryToken(cmd.Context(), p.Username, token); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Recovery token saved.")
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use",
		Short: "Reset the password of --user with its recovery token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.user == "" {
				return fmt.Errorf("%w: --user is required", library.ErrValidation)
			}
			token, err := a.readPassword("Recovery token: ")
			if err != nil {
				return err
			}
			password, err := a.newSecret("password")
			if err != nil {
				return err
			}
			if err := a.mgr.Access.RecoverPassword(cmd.Context(), a.user, token, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Password reset.")
			return nil
		},
	}

	cmd.AddCommand(set, use)
	return cmd
}

// ------------------ Circulation ------------------

func (a *app) borrowCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "borrow ISBN",
		Short: "Borrow a copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := a.mgr.Borrow(cmd.Context(), p.ID, args[0], days)
			if err != nil {
				return err
			}
			return a.emit(rec, func(w io.Writer) {
				fmt.Fprintf(w, "Borrowed %s as record %d, due %s.\n", rec.BookISBN, rec.RecordID, rec.DueDate)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, fmt.Sprintf("loan duration (%d-%d)", library.MinLoanDays, library.MaxLoanDays))
	return cmd
}

func parseRecordID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: record id %q", library.ErrValidation, s)
	}
	return id, nil
}

func (a *app) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return RECORD_ID",
		Short: "Return a borrowed copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			p, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := a.mgr.Return(cmd.Context(), id, p.ID)
			if err != nil {
				return err
			}
			return a.emit(rec, func(w io.Writer) {
				fmt.Fprintf(w, "Returned %s (record %d).\n", rec.BookISBN, rec.RecordID)
			})
		},
	}
}

func (a *app) renewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew RECORD_ID",
		Short: fmt.Sprintf("Extend a loan by %d days", library.RenewalDays),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			p, err := a.login(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := a.mgr.Renew(cmd.Context(), id, p.ID)
			if err != nil {
				return err
			}
			return a.emit(rec, func(w io.Writer) {
				fmt.Fprintf(w, "Record %d is now due %s.\n", rec.RecordID, rec.DueDate)
			})
		},
	}
}

func (a *app) loansCmd() *cobra.Command {
	var overdue bool
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List your open loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.login(cmd.Context())
			if err != nil {
				return err
			}

			list := a.mgr.Ledger.OpenRecordsFor
			if overdue {
				list = a.mgr.Ledger.OverdueRecordsFor
			}
			loans, err := list(cmd.Context(), p.ID)
			if err != nil {
				return err
			}

			return a.emit(loans, func(w io.Writer) {
				if len(loans) == 0 {
					fmt.Fprintln(w, "No loans.")
					return
				}
				for _, l := range loans {
					fmt.Fprintln(w, library.PrettyLoan(l))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&overdue, "overdue", false, "only loans past their due date")
	return cmd
}

func (a *app) recordsCmd() *cobra.Command {
	var sortBy, patronID string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List lending records with patron and book details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.loginAdmin(cmd.Context()); err != nil {
				return err
			}

			var (
				entries []library.LedgerEntry
				err     error
			)
			if patronID != "" {
				entries, err = a.mgr.Ledger.RecordsJoinedFor(cmd.Context(), patronID)
			} else {
				entries, err = a.mgr.Ledger.AllRecordsJoined(cmd.Context(), library.ParseRecordSort(sortBy))
			}
			if err != nil {
				return err
			}

			return a.emit(entries, func(w io.Writer) {
				fmt.Fprintf(w, "Today is %s.\n", a.mgr.Today())
				for _, e := range entries {
					fmt.Fprintln(w, library.PrettyEntry(e))
				}
			})
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "patron", "sort by patron or due")
	cmd.Flags().StringVar(&patronID, "patron", "", "only this patron's history")
	return cmd
}
