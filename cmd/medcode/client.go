package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pavelanni/medcode/internal/api"
	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/session"
	"github.com/pavelanni/medcode/internal/store"
)

// errNotSignedIn is returned by commands that need `medcode login` first.
var errNotSignedIn = errors.New("not signed in: run `medcode login` first")

// terminal bundles what the client commands share: the local database, which
// doubles as the durable session tier, and an API client over it.
type terminal struct {
	db     *store.Store
	client *api.Client
}

func openTerminal(cmd *cobra.Command) (*terminal, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	cache := session.NewCache(db, v.GetDuration("session-ttl"))
	client := api.New(v.GetString("api-url"), cache,
		api.WithLogoutHook(func(_ context.Context, sid string) {
			if cur, _ := db.CLISessionID(); cur == sid {
				_ = db.SetCLISessionID("")
			}
		}))
	return &terminal{db: db, client: client}, nil
}

func (t *terminal) Close() error { return t.db.Close() }

// session returns the signed-in API session, restoring it from the refresh
// token if the access token is gone.
func (t *terminal) session(ctx context.Context) (*api.Session, *model.AuthSession, error) {
	sid, err := t.db.CLISessionID()
	if err != nil {
		return nil, nil, fmt.Errorf("load session id: %w", err)
	}
	if sid == "" {
		return nil, nil, errNotSignedIn
	}
	s := t.client.Session(sid)
	auth, err := s.Bootstrap(ctx)
	if err != nil {
		if api.IsAuthExpired(err) {
			return nil, nil, errNotSignedIn
		}
		return nil, nil, err
	}
	if !auth.IsAuthenticated() {
		return nil, nil, errNotSignedIn
	}
	return s, auth, nil
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session for other commands",
		RunE:  runLogin,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("email", "e", "", "Account email (prompted if empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE:  runLogout,
	}
	commonFlags(cmd)
	return cmd
}

func quizzesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quizzes",
		Short: "List available quizzes",
		RunE:  runQuizzes,
	}
	commonFlags(cmd)
	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	t, err := openTerminal(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	email := viperForCmd(cmd).GetString("email")
	if email == "" {
		fmt.Fprint(out, "Email: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	password, err := readPassword(out, in)
	if err != nil {
		return err
	}

	// Drop any previous session first so its refresh token is revoked.
	if old, _ := t.db.CLISessionID(); old != "" {
		_ = t.client.Session(old).Logout(cmd.Context())
	}

	sid := session.NewID()
	user, err := t.client.Session(sid).Login(cmd.Context(), api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	if err := t.db.SetCLISessionID(sid); err != nil {
		return fmt.Errorf("remember session: %w", err)
	}
	fmt.Fprintf(out, "Signed in as %s (%s)\n", user.Name, user.Role)
	return nil
}

// readPassword reads without echo from a terminal, or a plain line otherwise.
func readPassword(out io.Writer, in *bufio.Reader) (string, error) {
	fmt.Fprint(out, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	t, err := openTerminal(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	sid, err := t.db.CLISessionID()
	if err != nil {
		return err
	}
	if sid == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	if err := t.client.Session(sid).Logout(cmd.Context()); err != nil {
		// The local session is gone either way.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: backend logout failed: %v\n", err)
	}
	if err := t.db.SetCLISessionID(""); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

func runQuizzes(cmd *cobra.Command, _ []string) error {
	t, err := openTerminal(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	s, _, err := t.session(cmd.Context())
	if err != nil {
		return err
	}
	quizzes, err := s.Quizzes(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMINUTES\tPASS")
	for _, q := range quizzes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f%%\n", q.ID, q.Title, q.TimeLimit, q.PassPercentage)
	}
	return tw.Flush()
}

func runExport(cmd *cobra.Command, _ []string) error {
	t, err := openTerminal(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	s, auth, err := t.session(cmd.Context())
	if err != nil {
		return err
	}
	if !auth.User.IsAdmin() {
		return fmt.Errorf("export requires an admin account, signed in as %s", auth.User.Role)
	}

	attempts, err := s.AllAttempts(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch attempts: %w", err)
	}

	export := model.AttemptsExport{
		GeneratedAt: time.Now().UTC(),
		Backend:     t.client.BaseURL(),
		NumAttempts: len(attempts),
		PassRate:    model.PassRate(attempts),
		Quizzes:     model.BuildQuizReports(attempts),
		Attempts:    attempts,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := viperForCmd(cmd).GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
