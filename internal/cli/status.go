package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/ragone/internal/metrics"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
)

var statusStats bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the dashboard: session, configuration and activity",
	Long: `Show the confirmed session, where configuration and state live, a summary
of your knowledge bases and role-play sessions, and request statistics for
this run.

Examples:
  ragone status
  ragone status --stats`,
	Annotations: map[string]string{annotationRoute: route.PathDashboard, annotationMutates: "true"},
	RunE:        runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusStats, "stats", false, "show request statistics")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	u, err := app.currentUser()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session\n")
	fmt.Fprintf(out, "═══════════════════════════════════════\n")
	fmt.Fprintf(out, "Signed in as: %s (%s)\n", u.DisplayName(), u.Role)
	fmt.Fprintf(out, "API:          %s\n", app.client.BaseURL())
	fmt.Fprintf(out, "State:        %s\n", app.store.Path())
	if app.cfg.ConfigFile != "" {
		fmt.Fprintf(out, "Config:       %s\n", app.cfg.ConfigFile)
	}
	fmt.Fprintln(out)

	kbs, err := app.client.ListKnowledgeBases(ctx)
	if err != nil {
		return fmt.Errorf("list knowledge bases: %w", err)
	}
	sessions, err := app.client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	docs := 0
	for _, kb := range kbs {
		docs += kb.DocumentCount
	}
	active, tokens := 0, int64(0)
	for _, s := range sessions {
		if s.Status == models.SessionActive {
			active++
		}
		tokens += s.TokenUsage
	}

	fmt.Fprintf(out, "Activity\n")
	fmt.Fprintf(out, "═══════════════════════════════════════\n")
	fmt.Fprintf(out, "Knowledge bases:    %d (%d documents)\n", len(kbs), docs)
	fmt.Fprintf(out, "Role-play sessions: %d (%d active)\n", len(sessions), active)
	fmt.Fprintf(out, "Tokens used:        %d\n", tokens)

	if statusStats || verbose {
		fmt.Fprintln(out)
		printStats(out, app.client.Metrics().Snapshot())
	}
	return nil
}

// printStats displays request statistics for this run.
func printStats(out io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(out, "Request Statistics (this run)\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(out, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range snap.Operations {
		fmt.Fprintf(out, "\n%s:\n", op.Name)
		printOpStats(out, op)
		printTokenStats(out, op)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(out io.Writer, op metrics.OperationSnapshot) {
	fmt.Fprintf(out, "  Calls: %d (%d failed), Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Fprintf(out, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(out io.Writer, op metrics.OperationSnapshot) {
	if op.TotalTokens == nil {
		return
	}
	fmt.Fprintf(out, "  Tokens: %d total", *op.TotalTokens)
	if op.AvgTokens != nil {
		fmt.Fprintf(out, ", avg %.0f", *op.AvgTokens)
	}
	if op.MinTokens != nil && op.MaxTokens != nil {
		fmt.Fprintf(out, ", min %d, max %d", *op.MinTokens, *op.MaxTokens)
	}
	fmt.Fprintln(out)
}
