package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/ragone/internal/conversation"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/raphaelgruber/ragone/internal/tui"
	"github.com/spf13/cobra"
)

var (
	chatSession string
	chatKB      int64
	chatName    string
)

var chatCmd = &cobra.Command{
	Use:   "chat [characterId]",
	Short: "Open an interactive conversation",
	Long: `Open an interactive conversation.

With a character id a new role-play session is started; --session resumes
an existing one with its full history. With --kb questions are answered from
a knowledge base instead.

Inside the chat:
  /rate <turn> <1-5>  rate a character reply
  /reload             reload the history from the server
  /pause, /resume     stop and resume sending
  /end                end the role-play session
  esc                 leave (the session stays open on the server)

Examples:
  ragone chat 7
  ragone chat --session 5d1c...
  ragone chat --kb 3`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationRoute: route.PathRolePlay, annotationMutates: "true"},
	RunE:        runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume a role-play session")
	chatCmd.Flags().Int64Var(&chatKB, "kb", 0, "ask questions against a knowledge base")
	chatCmd.Flags().StringVar(&chatName, "name", "", "name for a new session")
	chatCmd.MarkFlagsMutuallyExclusive("session", "kb")
}

func runChat(cmd *cobra.Command, args []string) error {
	if !interactive(cmd) {
		return errors.New("chat needs a terminal; use 'ragone roleplay send' or 'ragone ask' instead")
	}
	ctx := cmd.Context()

	var conv tui.Conversation
	switch {
	case chatKB > 0:
		kb, err := app.client.GetKnowledgeBase(ctx, chatKB)
		if err != nil {
			return fmt.Errorf("get knowledge base: %w", err)
		}
		rag := conversation.NewRAGChat(app.client, kb.ID)
		defer rag.Release()
		conv = tui.Knowledge(rag, "Ask "+kb.Name)

	case chatSession != "":
		m, err := conversation.Open(ctx, app.client, chatSession, conversation.WithLogger(app.logger))
		if err != nil {
			return err
		}
		defer m.Release()
		snap, err := m.Snapshot()
		if err != nil {
			return err
		}
		conv = tui.RolePlay(m, characterTitle(cmd, snap.Session.CharacterID, snap.Session.Name))

	case len(args) == 1:
		characterID, err := parseID(args[0])
		if err != nil {
			return err
		}
		m, err := conversation.Start(ctx, app.client, characterID, chatName, conversation.WithLogger(app.logger))
		if err != nil {
			return err
		}
		defer m.Release()
		conv = tui.RolePlay(m, characterTitle(cmd, characterID, chatName))

	default:
		return errors.New("pass a character id, --session or --kb")
	}

	err := tui.RunChat(ctx, conv, tui.ChatOptions{Auth: app.gate.Subscribe()})
	if errors.Is(err, tui.ErrSessionExpired) {
		return fmt.Errorf("%w: %w", err, errNotSignedIn)
	}
	return err
}

// characterTitle names the chat after the character, falling back to ids.
func characterTitle(cmd *cobra.Command, characterID int64, sessionName string) string {
	title := fmt.Sprintf("Character %d", characterID)
	if c, err := app.client.GetCharacter(cmd.Context(), characterID); err == nil {
		title = c.Name
	}
	if sessionName != "" {
		title += " · " + sessionName
	}
	return title
}
