package cli

import (
	"fmt"
	"strconv"

	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
)

var (
	kbName        string
	kbDescription string
)

var kbCmd = &cobra.Command{
	Use:     "kb",
	Aliases: []string{"knowledge-bases"},
	Short:   "Manage knowledge bases",
	Long: `Manage knowledge bases. A knowledge base groups uploaded documents that
questions and characters draw on.

Subcommands:
  list    List knowledge bases (default)
  show    Show one knowledge base
  create  Create a knowledge base
  update  Rename or describe a knowledge base
  delete  Delete a knowledge base and its documents

Examples:
  ragone kb
  ragone kb create --name "Manuals" --description "Product manuals"
  ragone kb update 3 --name "Support manuals"
  ragone kb delete 3`,
	Annotations: map[string]string{annotationRoute: route.PathKnowledgeBases},
	RunE:        runKBList,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge bases",
	RunE:  runKBList,
}

var kbShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBShow,
}

var kbCreateCmd = &cobra.Command{
	Use:         "create",
	Short:       "Create a knowledge base",
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runKBCreate,
}

var kbUpdateCmd = &cobra.Command{
	Use:         "update <id>",
	Short:       "Rename or describe a knowledge base",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runKBUpdate,
}

var kbDeleteCmd = &cobra.Command{
	Use:         "delete <id>",
	Short:       "Delete a knowledge base and its documents",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runKBDelete,
}

func init() {
	for _, c := range []*cobra.Command{kbCreateCmd, kbUpdateCmd} {
		c.Flags().StringVar(&kbName, "name", "", "name (max 100 characters)")
		c.Flags().StringVar(&kbDescription, "description", "", "description (max 500 characters)")
	}
	_ = kbCreateCmd.MarkFlagRequired("name")

	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbShowCmd)
	kbCmd.AddCommand(kbCreateCmd)
	kbCmd.AddCommand(kbUpdateCmd)
	kbCmd.AddCommand(kbDeleteCmd)
}

// parseID parses a numeric resource id argument.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func runKBList(cmd *cobra.Command, args []string) error {
	kbs, err := app.client.ListKnowledgeBases(cmd.Context())
	if err != nil {
		return fmt.Errorf("list knowledge bases: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(kbs) == 0 {
		fmt.Fprintln(out, "No knowledge bases found.")
		return nil
	}

	fmt.Fprintf(out, "Knowledge bases (%d):\n\n", len(kbs))
	for _, kb := range kbs {
		fmt.Fprintf(out, "- [%d] %s (%d documents)\n", kb.ID, kb.Name, kb.DocumentCount)
		if verbose && kb.Description != "" {
			fmt.Fprintf(out, "  %s\n", kb.Description)
		}
	}
	return nil
}

func runKBShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	kb, err := app.client.GetKnowledgeBase(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get knowledge base: %w", err)
	}
	printKnowledgeBase(cmd, kb)
	return nil
}

func printKnowledgeBase(cmd *cobra.Command, kb *models.KnowledgeBase) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[%d] %s\n", kb.ID, kb.Name)
	if kb.Description != "" {
		fmt.Fprintf(out, "  %s\n", kb.Description)
	}
	fmt.Fprintf(out, "  Documents: %d\n", kb.DocumentCount)
	if !kb.CreatedAt.IsZero() {
		fmt.Fprintf(out, "  Created:   %s\n", kb.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func runKBCreate(cmd *cobra.Command, args []string) error {
	kb, err := app.client.CreateKnowledgeBase(cmd.Context(), models.KnowledgeBaseInput{
		Name:        kbName,
		Description: kbDescription,
	})
	if err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created knowledge base %d: %s\n", kb.ID, kb.Name)
	return nil
}

func runKBUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	in := models.KnowledgeBaseInput{Name: kbName, Description: kbDescription}
	if in.Name == "" || !cmd.Flags().Changed("description") {
		current, err := app.client.GetKnowledgeBase(ctx, id)
		if err != nil {
			return fmt.Errorf("get knowledge base: %w", err)
		}
		if in.Name == "" {
			in.Name = current.Name
		}
		if !cmd.Flags().Changed("description") {
			in.Description = current.Description
		}
	}

	kb, err := app.client.UpdateKnowledgeBase(ctx, id, in)
	if err != nil {
		return fmt.Errorf("update knowledge base: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated knowledge base %d: %s\n", kb.ID, kb.Name)
	return nil
}

func runKBDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := app.client.DeleteKnowledgeBase(cmd.Context(), id); err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted knowledge base %d\n", id)
	return nil
}
