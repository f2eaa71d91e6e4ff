// Package cmd implements the modulo CLI: indexing study documents into
// per-subject partitions and asking questions answered from the indexed
// material.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/moduloapp/modulo-rag/internal/app"
	"github.com/moduloapp/modulo-rag/internal/config"
	"github.com/moduloapp/modulo-rag/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "modulo",
	Short: "Modulo - study document indexing and question answering",
	Long: `Modulo ingests study documents (text, markdown, source code and PDFs,
including scanned ones) into a per-subject searchable index, then answers
questions grounded strictly in the indexed material.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger creates the process logger. The DEBUG environment variable
// (any value) switches to debug level. Logs go to stderr so stdout stays
// reserved for command output.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// setupApp loads configuration and constructs the application. The
// returned cleanup must run before process exit.
func setupApp(ctx context.Context) (*app.App, func(), error) {
	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}
	return a, cleanup, nil
}
