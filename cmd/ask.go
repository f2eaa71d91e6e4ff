package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moduloapp/modulo-rag/internal/rag"
)

var askSubject string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question answered from the indexed material",
	Long: `Ask retrieves the passages most relevant to the question and generates
an answer grounded strictly in them, citing the source files it drew on.
With --subject the search is restricted to that subject's partition.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSubject, "subject", "s", "", "restrict retrieval to one subject")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return rag.ErrEmptyQuery
	}

	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := a.Service.Query(ctx, rag.QueryRequest{
		Question:  question,
		SubjectID: askSubject,
	})
	if err != nil {
		return err
	}
	if resp.Status != rag.StatusOK {
		return fmt.Errorf("%s", resp.Message)
	}

	fmt.Println(renderMarkdown(resp.Answer))
	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range resp.Sources {
			fmt.Printf("  - %s (%s)\n", src.File, src.Subject)
		}
	}
	return nil
}
