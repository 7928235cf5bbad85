package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/raphaelgruber/ragone/internal/conversation"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
)

var rpSessionName string

var roleplayCmd = &cobra.Command{
	Use:     "roleplay",
	Aliases: []string{"rp"},
	Short:   "Hold role-play sessions with characters",
	Long: `Start, continue and review role-play sessions. For an interactive
conversation use 'ragone chat <characterId>'.

Subcommands:
  sessions  List your sessions (default)
  start     Start a session with a character
  send      Send one message to a session
  history   Show the messages of a session
  rate      Rate a character reply (1-5)
  end       End a session
  delete    Delete a session

Examples:
  ragone roleplay start 7 --name "Baker Street"
  ragone roleplay send 5d1c... "Who was at the door?"
  ragone roleplay rate 5d1c... 2 5
  ragone roleplay end 5d1c...`,
	Annotations: map[string]string{annotationRoute: route.PathRolePlay},
	RunE:        runRPSessions,
}

var rpSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your sessions",
	RunE:  runRPSessions,
}

var rpStartCmd = &cobra.Command{
	Use:         "start <characterId>",
	Short:       "Start a session with a character",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runRPStart,
}

var rpSendCmd = &cobra.Command{
	Use:         "send <sessionId> <message>",
	Short:       "Send one message to a session",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runRPSend,
}

var rpHistoryCmd = &cobra.Command{
	Use:   "history <sessionId>",
	Short: "Show the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRPHistory,
}

var rpRateCmd = &cobra.Command{
	Use:         "rate <sessionId> <turn> <rating>",
	Short:       "Rate the character reply of a turn (1-5)",
	Args:        cobra.ExactArgs(3),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runRPRate,
}

var rpEndCmd = &cobra.Command{
	Use:         "end <sessionId>",
	Short:       "End a session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runRPEnd,
}

var rpDeleteCmd = &cobra.Command{
	Use:         "delete <sessionId>",
	Short:       "Delete a session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runRPDelete,
}

func init() {
	rpStartCmd.Flags().StringVar(&rpSessionName, "name", "", "session name")

	roleplayCmd.AddCommand(rpSessionsCmd)
	roleplayCmd.AddCommand(rpStartCmd)
	roleplayCmd.AddCommand(rpSendCmd)
	roleplayCmd.AddCommand(rpHistoryCmd)
	roleplayCmd.AddCommand(rpRateCmd)
	roleplayCmd.AddCommand(rpEndCmd)
	roleplayCmd.AddCommand(rpDeleteCmd)
}

// openConversation rehydrates a session for one command. Callers release it.
func openConversation(cmd *cobra.Command, sessionID string) (*conversation.Machine, error) {
	return conversation.Open(cmd.Context(), app.client, sessionID, conversation.WithLogger(app.logger))
}

func runRPSessions(cmd *cobra.Command, args []string) error {
	sessions, err := app.client.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "Sessions (%d):\n\n", len(sessions))
	for _, s := range sessions {
		printSessionLine(out, s)
	}
	return nil
}

func printSessionLine(out io.Writer, s models.Session) {
	name := s.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "- %s %s [%s] %d messages, %d tokens", s.ID, name, s.Status, s.MessageCount, s.TokenUsage)
	if !s.LastActiveAt.IsZero() {
		fmt.Fprintf(out, ", last active %s", s.LastActiveAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(out)
}

func runRPStart(cmd *cobra.Command, args []string) error {
	characterID, err := parseID(args[0])
	if err != nil {
		return err
	}
	m, err := conversation.Start(cmd.Context(), app.client, characterID, rpSessionName, conversation.WithLogger(app.logger))
	if err != nil {
		return err
	}
	defer m.Release()

	snap, err := m.Snapshot()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started session %s with character %d\n", snap.Session.ID, characterID)
	return nil
}

func runRPSend(cmd *cobra.Command, args []string) error {
	m, err := openConversation(cmd, args[0])
	if err != nil {
		return err
	}
	defer m.Release()

	msg, err := m.Send(cmd.Context(), args[1])
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, msg.ResponseText)
	if verbose {
		fmt.Fprintf(out, "\n(turn %d, %d tokens, %dms)\n", msg.TurnIndex, msg.TokenUsage, msg.ResponseTimeMs)
	}
	return nil
}

func runRPHistory(cmd *cobra.Command, args []string) error {
	m, err := openConversation(cmd, args[0])
	if err != nil {
		return err
	}
	defer m.Release()
	snap, err := m.Snapshot()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSessionLine(out, snap.Session)
	fmt.Fprintln(out)
	if len(snap.Messages) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return nil
	}
	for _, msg := range snap.Messages {
		fmt.Fprintf(out, "[%d] you: %s\n", msg.TurnIndex, msg.UserText)
		fmt.Fprintf(out, "    %s\n", msg.ResponseText)
		meta := fmt.Sprintf("    %d tokens, %dms", msg.TokenUsage, msg.ResponseTimeMs)
		if msg.FeedbackRating != nil {
			meta += fmt.Sprintf(", rated %d/5", *msg.FeedbackRating)
		}
		fmt.Fprintln(out, meta)
	}
	return nil
}

func runRPRate(cmd *cobra.Command, args []string) error {
	turn, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid turn %q", args[1])
	}
	rating, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid rating %q", args[2])
	}

	m, err := openConversation(cmd, args[0])
	if err != nil {
		return err
	}
	defer m.Release()
	if err := m.RateTurn(cmd.Context(), turn, rating); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rated turn %d: %d/5\n", turn, rating)
	return nil
}

func runRPEnd(cmd *cobra.Command, args []string) error {
	m, err := openConversation(cmd, args[0])
	if err != nil {
		return err
	}
	defer m.Release()
	if err := m.End(cmd.Context()); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s\n", m.ID())
	return nil
}

func runRPDelete(cmd *cobra.Command, args []string) error {
	if err := app.client.DeleteSession(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
