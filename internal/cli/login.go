package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/ragone/internal/client"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/raphaelgruber/ragone/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginUsername      string
	loginPasswordStdin bool
)

var errBadCredentials = errors.New("invalid username or password")

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session locally",
	Long: `Sign in to the API. The credential is stored in the local state database
and restored on every run until it expires, you log out, or the server
rejects it.

Without --password-stdin an interactive form is shown.

Examples:
  ragone login
  ragone login --username ada
  echo "$PASSWORD" | ragone login --username ada --password-stdin`,
	Annotations: map[string]string{annotationRoute: route.PathLogin, annotationMutates: "true"},
	RunE:        runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:         "whoami",
	Short:       "Show the signed-in user",
	Annotations: map[string]string{annotationRoute: route.PathDashboard},
	RunE:        runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "read the password from stdin")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !loginPasswordStdin {
		if !interactive(cmd) {
			return errors.New("no terminal attached; use --username with --password-stdin")
		}
		if err := tui.RunLogin(ctx, app.gate, loginUsername); err != nil {
			if errors.Is(err, tui.ErrLoginCanceled) {
				return errRedirected
			}
			return err
		}
	} else {
		if loginUsername == "" {
			return errors.New("--username is required with --password-stdin")
		}
		password, err := readLine(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if err := signIn(cmd, loginUsername, password); err != nil {
			return err
		}
	}

	if err := app.admit(app.gate.State()); err != nil {
		return err
	}
	app.nav.AfterLogin()
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", app.user.DisplayName(), app.user.Role)
	return nil
}

// signIn runs a login through the session gate.
func signIn(cmd *cobra.Command, username, password string) error {
	ok, err := app.gate.Login(cmd.Context(), username, password)
	if client.KindOf(err) == client.KindUnauthorized {
		return errBadCredentials
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if !ok {
		return errBadCredentials
	}
	return nil
}

// promptLogin asks for credentials on the terminal.
func promptLogin(cmd *cobra.Command, username string) error {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, "Sign in required.")

	if username == "" {
		fmt.Fprint(out, "Username: ")
		line, err := readLine(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		username = line
	}

	fmt.Fprint(out, "Password: ")
	f := cmd.InOrStdin().(*os.File)
	raw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	return signIn(cmd, username, string(raw))
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	wasSignedIn := app.gate.State().Authenticated()
	if err := app.gate.Logout(cmd.Context()); err != nil {
		return err
	}
	app.nav.ToLogin()
	if wasSignedIn {
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
	}
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	// Rendered from the cached record; the server confirms in the background.
	u, err := app.currentUser()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", u.DisplayName())
	fmt.Fprintf(out, "  Username: %s\n", u.Username)
	if u.Email != "" {
		fmt.Fprintf(out, "  Email:    %s\n", u.Email)
	}
	fmt.Fprintf(out, "  Role:     %s\n", u.Role)
	return nil
}
