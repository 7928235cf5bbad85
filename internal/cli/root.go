// Package cli provides the command-line interface for ragone.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/ragone/internal/client"
	"github.com/raphaelgruber/ragone/internal/config"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Command annotations.
const (
	// annotationRoute names the screen a command stands for. Sub-commands
	// inherit it from their parent.
	annotationRoute = "route"
	// annotationMutates marks commands that change server state. They wait
	// for the stored session to be confirmed before running.
	annotationMutates = "mutates"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	apiURL  string

	// app is the wired stack for the current run.
	app *session
)

var (
	errNotSignedIn = errors.New("not signed in")
	// errRedirected stops a command whose screen is not available in the
	// current state after the user was told where to go instead.
	errRedirected = errors.New("redirected")
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ragone",
	Short: "Knowledge-base QA and role-play chat client",
	Long: `Ragone is a terminal client for a knowledge-base question answering and
role-play chat service.

Upload documents into knowledge bases, ask questions answered from them,
create characters backed by a knowledge base, and hold role-play
conversations with them.

The session is stored locally and restored on every run; commands that need
a signed-in user prompt for credentials when run interactively.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if apiURL != "" {
			cfg.APIURL = strings.TrimRight(apiURL, "/")
		}

		logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, verbose)

		path := route.PathDashboard
		if target, ok := routeOf(cmd); ok {
			path = target.Path
		}
		app, err = openSession(cmd.Context(), cfg, logger, path)
		if err != nil {
			_ = closeLog()
			return err
		}
		app.closeLog = closeLog

		return guard(cmd)
	},
}

// Execute adds all child commands to the root command and runs it. The
// returned error carries a recovery hint when one applies.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)

	if app != nil {
		if cerr := app.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close session: %v\n", cerr)
		}
		app = nil
	}

	switch {
	case err == nil, errors.Is(err, errRedirected):
		return nil
	}
	if hint := hintFor(err); hint != "" {
		return fmt.Errorf("%w. %s", err, hint)
	}
	return err
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API root (overrides RAGONE_API_URL)")

	// Add subcommands
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(charactersCmd)
	rootCmd.AddCommand(roleplayCmd)
	rootCmd.AddCommand(chatCmd)
}

// routeOf returns the screen cmd stands for.
func routeOf(cmd *cobra.Command) (route.Target, bool) {
	for c := cmd; c != nil; c = c.Parent() {
		if path, ok := c.Annotations[annotationRoute]; ok {
			return route.Lookup(path)
		}
	}
	return route.Target{}, false
}

func mutates(cmd *cobra.Command) bool {
	return cmd.Annotations[annotationMutates] == "true"
}

// guard applies the route rules to cmd. A protected command run without a
// session signs the user in first when a terminal is attached.
func guard(cmd *cobra.Command) error {
	target, ok := routeOf(cmd)
	if !ok {
		return nil
	}

	ctx := cmd.Context()
	if mutates(cmd) {
		if err := app.gate.AwaitConfirmed(ctx); err != nil {
			return fmt.Errorf("confirm session: %w", err)
		}
	}

	// The command works from the state it was admitted with; the background
	// confirmation may still change the gate afterwards.
	st := app.gate.State()
	d := app.nav.Go(st, target)
	if d.Action == route.Loading {
		if err := app.gate.AwaitConfirmed(ctx); err != nil {
			return fmt.Errorf("confirm session: %w", err)
		}
		st = app.gate.State()
		d = app.nav.Go(st, target)
	}
	app.logger.Debug("route decided", "command", cmd.CommandPath(), "target", target.Path, "action", d.Action.String(), "path", d.Path)

	if d.Action != route.Redirect {
		if target.RequiresAuth {
			return app.admit(st)
		}
		return nil
	}
	if d.Path == route.PathDashboard {
		name := ""
		if st.User != nil {
			name = " as " + st.User.Username
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Already signed in%s. Run 'ragone logout' to switch accounts.\n", name)
		return errRedirected
	}

	if !interactive(cmd) {
		return errNotSignedIn
	}
	if err := promptLogin(cmd, ""); err != nil {
		return err
	}
	if err := app.admit(app.gate.State()); err != nil {
		return err
	}
	if dest := app.nav.AfterLogin(); dest != target.Path {
		app.logger.Debug("returned after login", "path", dest)
	}
	return nil
}

// hintFor returns a recovery suggestion for err.
func hintFor(err error) string {
	if errors.Is(err, errNotSignedIn) {
		return "Run 'ragone login' first"
	}
	return client.Hint(err)
}

// interactive reports whether cmd reads from a terminal.
func interactive(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
