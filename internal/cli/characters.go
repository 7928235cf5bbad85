package cli

import (
	"fmt"

	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
)

var (
	charKB          int64
	charName        string
	charDescription string
	charAvatar      string
	charPublic      bool
)

var charactersCmd = &cobra.Command{
	Use:     "characters",
	Aliases: []string{"chars"},
	Short:   "Manage role-play characters",
	Long: `Manage characters. A character is a persona backed by a knowledge base;
role-play sessions are held with a character.

Subcommands:
  list      List characters (default), optionally for one knowledge base
  search    Search characters by name within a knowledge base
  show      Show one character
  create    Create a character
  update    Update a character
  delete    Delete a character
  toggle    Activate or deactivate a character
  generate  Generate a character profile from its knowledge base

Examples:
  ragone characters
  ragone characters list --kb 3
  ragone characters create --name "Sherlock" --kb 3 --public
  ragone characters generate 7`,
	Annotations: map[string]string{annotationRoute: route.PathCharacters},
	RunE:        runCharList,
}

var charListCmd = &cobra.Command{
	Use:   "list",
	Short: "List characters",
	RunE:  runCharList,
}

var charSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search characters by name within a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runCharSearch,
}

var charShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one character",
	Args:  cobra.ExactArgs(1),
	RunE:  runCharShow,
}

var charCreateCmd = &cobra.Command{
	Use:         "create",
	Short:       "Create a character",
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runCharCreate,
}

var charUpdateCmd = &cobra.Command{
	Use:         "update <id>",
	Short:       "Update a character",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runCharUpdate,
}

var charDeleteCmd = &cobra.Command{
	Use:         "delete <id>",
	Short:       "Delete a character",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runCharDelete,
}

var charToggleCmd = &cobra.Command{
	Use:         "toggle <id>",
	Short:       "Activate or deactivate a character",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runCharToggle,
}

var charGenerateCmd = &cobra.Command{
	Use:         "generate <id>",
	Short:       "Generate a character profile from its knowledge base",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runCharGenerate,
}

func init() {
	charListCmd.Flags().Int64Var(&charKB, "kb", 0, "only characters of this knowledge base")
	charactersCmd.Flags().Int64Var(&charKB, "kb", 0, "only characters of this knowledge base")
	charSearchCmd.Flags().Int64Var(&charKB, "kb", 0, "knowledge base id")
	_ = charSearchCmd.MarkFlagRequired("kb")

	for _, c := range []*cobra.Command{charCreateCmd, charUpdateCmd} {
		c.Flags().StringVar(&charName, "name", "", "name (max 100 characters)")
		c.Flags().StringVar(&charDescription, "description", "", "description (max 1000 characters)")
		c.Flags().StringVar(&charAvatar, "avatar", "", "avatar image URL")
		c.Flags().BoolVar(&charPublic, "public", false, "visible to other users")
	}
	charCreateCmd.Flags().Int64Var(&charKB, "kb", 0, "knowledge base id")
	_ = charCreateCmd.MarkFlagRequired("name")
	_ = charCreateCmd.MarkFlagRequired("kb")

	charactersCmd.AddCommand(charListCmd)
	charactersCmd.AddCommand(charSearchCmd)
	charactersCmd.AddCommand(charShowCmd)
	charactersCmd.AddCommand(charCreateCmd)
	charactersCmd.AddCommand(charUpdateCmd)
	charactersCmd.AddCommand(charDeleteCmd)
	charactersCmd.AddCommand(charToggleCmd)
	charactersCmd.AddCommand(charGenerateCmd)
}

func runCharList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var (
		chars []models.Character
		err   error
	)
	if charKB > 0 {
		chars, err = app.client.CharactersByKnowledgeBase(ctx, charKB)
	} else {
		chars, err = app.client.ListCharacters(ctx)
	}
	if err != nil {
		return fmt.Errorf("list characters: %w", err)
	}
	printCharacters(cmd, chars)
	return nil
}

func runCharSearch(cmd *cobra.Command, args []string) error {
	chars, err := app.client.SearchCharacters(cmd.Context(), args[0], charKB)
	if err != nil {
		return fmt.Errorf("search characters: %w", err)
	}
	printCharacters(cmd, chars)
	return nil
}

func printCharacters(cmd *cobra.Command, chars []models.Character) {
	out := cmd.OutOrStdout()
	if len(chars) == 0 {
		fmt.Fprintln(out, "No characters found.")
		return
	}

	fmt.Fprintf(out, "Characters (%d):\n\n", len(chars))
	for _, c := range chars {
		public := ""
		if c.IsPublic {
			public = " [public]"
		}
		fmt.Fprintf(out, "- [%d] %s [%s]%s\n", c.ID, c.Name, c.Status, public)
		if verbose && c.Description != "" {
			fmt.Fprintf(out, "  %s\n", c.Description)
		}
	}
}

func printCharacter(cmd *cobra.Command, c *models.Character) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[%d] %s [%s]\n", c.ID, c.Name, c.Status)
	if c.Description != "" {
		fmt.Fprintf(out, "  %s\n", c.Description)
	}
	kb := c.KnowledgeBaseName
	if kb == "" {
		kb = fmt.Sprintf("%d", c.KnowledgeBaseID)
	}
	fmt.Fprintf(out, "  Knowledge base: %s\n", kb)
	fmt.Fprintf(out, "  Public:         %t\n", c.IsPublic)
	if c.AvatarURL != "" {
		fmt.Fprintf(out, "  Avatar:         %s\n", c.AvatarURL)
	}
}

func runCharShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := app.client.GetCharacter(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get character: %w", err)
	}
	printCharacter(cmd, c)
	return nil
}

func runCharCreate(cmd *cobra.Command, args []string) error {
	c, err := app.client.CreateCharacter(cmd.Context(), models.CharacterInput{
		Name:            charName,
		Description:     charDescription,
		AvatarURL:       charAvatar,
		KnowledgeBaseID: charKB,
		IsPublic:        charPublic,
	})
	if err != nil {
		return fmt.Errorf("create character: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created character %d: %s [%s]\n", c.ID, c.Name, c.Status)
	return nil
}

func runCharUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	current, err := app.client.GetCharacter(ctx, id)
	if err != nil {
		return fmt.Errorf("get character: %w", err)
	}
	in := models.CharacterInput{
		Name:        current.Name,
		Description: current.Description,
		AvatarURL:   current.AvatarURL,
		IsPublic:    current.IsPublic,
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		in.Name = charName
	}
	if flags.Changed("description") {
		in.Description = charDescription
	}
	if flags.Changed("avatar") {
		in.AvatarURL = charAvatar
	}
	if flags.Changed("public") {
		in.IsPublic = charPublic
	}

	c, err := app.client.UpdateCharacter(ctx, id, in)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated character %d: %s\n", c.ID, c.Name)
	return nil
}

func runCharDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := app.client.DeleteCharacter(cmd.Context(), id); err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted character %d\n", id)
	return nil
}

func runCharToggle(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := app.client.ToggleCharacterStatus(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("toggle character: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Character %d is now %s\n", c.ID, c.Status)
	return nil
}

func runCharGenerate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	resp, err := app.client.GenerateProfile(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("generate profile: %w", err)
	}
	msg := resp.Message
	if msg == "" {
		msg = "Profile generation started"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s. Check with 'ragone characters show %d'.\n", msg, id)
	return nil
}
