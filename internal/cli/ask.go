package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
)

var (
	askKB         int64
	askSession    string
	askOutputFile string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from a knowledge base",
	Long: `Ask a question and get an answer synthesized from the documents of a
knowledge base.

Pass --session to group questions into one server-side conversation. For
an interactive transcript use 'ragone chat --kb <id>'.

Examples:
  ragone ask "How do I reset the device?" --kb 3
  ragone ask "And after that?" --kb 3 --session 5d1c...
  ragone ask "Summarize the warranty terms" --kb 3 -o warranty.md`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationRoute: route.PathChat},
	RunE:        runAsk,
}

func init() {
	askCmd.Flags().Int64Var(&askKB, "kb", 0, "knowledge base id")
	askCmd.Flags().StringVar(&askSession, "session", "", "conversation id to group questions under")
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write the answer to file")
	_ = askCmd.MarkFlagRequired("kb")
}

func runAsk(cmd *cobra.Command, args []string) error {
	resp, err := app.client.Ask(cmd.Context(), models.AskRequest{
		Question:        args[0],
		KnowledgeBaseID: askKB,
		SessionID:       askSession,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(resp.Answer+"\n"), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Answer written to %s\n", askOutputFile)
		return nil
	}

	if resp.Answer == "" {
		return errors.New("the server returned an empty answer")
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Answer)
	if verbose {
		fmt.Fprintf(out, "\n(%dms)\n", resp.ResponseTimeMs)
	}
	return nil
}
