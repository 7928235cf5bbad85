package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/raphaelgruber/ragone/internal/tui"
	"github.com/spf13/cobra"
)

var (
	docsKB   int64
	docsWait bool
)

var docsCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"documents"},
	Short:   "Manage documents in a knowledge base",
	Long: `Upload, list and delete documents. Uploaded documents are processed on
the server (chunked and indexed) before questions can use them.

Examples:
  ragone docs list --kb 3
  ragone docs upload manual.pdf faq.md --kb 3
  ragone docs upload notes.txt --kb 3 --wait
  ragone docs delete 42`,
	Annotations: map[string]string{annotationRoute: route.PathDocuments},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in a knowledge base",
	RunE:  runDocsList,
}

var docsUploadCmd = &cobra.Command{
	Use:         "upload <file>...",
	Short:       "Upload documents into a knowledge base",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runDocsUpload,
}

var docsDeleteCmd = &cobra.Command{
	Use:         "delete <id>",
	Short:       "Delete a document",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationMutates: "true"},
	RunE:        runDocsDelete,
}

func init() {
	for _, c := range []*cobra.Command{docsListCmd, docsUploadCmd} {
		c.Flags().Int64Var(&docsKB, "kb", 0, "knowledge base id")
		_ = c.MarkFlagRequired("kb")
	}
	docsUploadCmd.Flags().BoolVarP(&docsWait, "wait", "w", false, "watch processing until done")

	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

func runDocsList(cmd *cobra.Command, args []string) error {
	docs, err := app.client.ListDocuments(cmd.Context(), docsKB)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}

	fmt.Fprintf(out, "Documents (%d):\n\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(out, "- [%d] %s [%s] %s, %d chunks\n",
			d.ID, d.OriginalFilename, d.ProcessStatus, humanSize(d.FileSize), d.ChunkCount)
		if d.ProcessStatus == models.ProcessFailed && d.ProcessMessage != "" {
			fmt.Fprintf(out, "  %s\n", d.ProcessMessage)
		}
	}
	return nil
}

func runDocsUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var ids []int64
	for _, path := range args {
		doc, err := uploadFile(cmd, path)
		if err != nil {
			return err
		}
		ids = append(ids, doc.ID)
		fmt.Fprintf(out, "Uploaded %s as document %d [%s]\n", doc.OriginalFilename, doc.ID, doc.ProcessStatus)
	}

	if !docsWait {
		return nil
	}
	if !interactive(cmd) {
		fmt.Fprintf(out, "Use 'ragone docs list --kb %d' to check processing.\n", docsKB)
		return nil
	}
	return tui.RunIngestProgress(ctx, app.client, docsKB, ids...)
}

func uploadFile(cmd *cobra.Command, path string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := app.client.UploadDocument(cmd.Context(), docsKB, filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	return doc, nil
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := app.client.DeleteDocument(cmd.Context(), id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %d\n", id)
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
