package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartclass/backend/pkg/config"
	appLogger "github.com/smartclass/backend/pkg/logger"
)

func main() {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "smartclass",
		Short:         "SmartClass backend: quizzes, exam papers and a class-scoped chatbot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded

			if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			appLogger.Sync()
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfg)
		},
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Create database tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), cfg)
		},
	}

	var askClass, askUser string
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the class chatbot a question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cfg, askClass, askUser, args)
		},
	}
	ask.Flags().StringVar(&askClass, "class", "", "class id whose materials ground the answer")
	ask.Flags().StringVar(&askUser, "user", "cli", "user id for the chat session")
	_ = ask.MarkFlagRequired("class")

	root.AddCommand(serve, schema, ask)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
