package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moduloapp/modulo-rag/internal/rag"
)

var indexCmd = &cobra.Command{
	Use:   "index <subject> <file>...",
	Short: "Index documents into a subject's partition",
	Long: `Index extracts, chunks and embeds the given files, replacing whatever
the subject's partition held before. Files that cannot be processed are
skipped and reported; the rest of the batch still indexes.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := a.Service.Index(ctx, rag.IndexRequest{
		SubjectID: args[0],
		FilePaths: args[1:],
	})
	if err != nil {
		return err
	}

	for _, fe := range resp.Errors {
		fmt.Fprintf(os.Stderr, "skipped %s: %s\n", fe.File, fe.Error)
	}
	if resp.Status != rag.StatusOK {
		return fmt.Errorf("indexing %q failed: %s", args[0], resp.Message)
	}

	fmt.Printf("Indexed subject %q: %d document(s), %d chunk(s)", args[0], resp.DocumentsProcessed, resp.ChunksCreated)
	if len(resp.Errors) > 0 {
		fmt.Printf(", %d file(s) skipped", len(resp.Errors))
	}
	fmt.Println()
	return nil
}
