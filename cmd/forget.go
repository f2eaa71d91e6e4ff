package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <subject>",
	Short: "Delete a subject's partition from the index",
	Long: `Forget removes every chunk indexed under the given subject. Forgetting
a subject that was never indexed is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.Service.DeleteSubject(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Forgot subject %q\n", args[0])
	return nil
}
