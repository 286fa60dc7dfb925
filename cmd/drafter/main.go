// Package main provides the drafter CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/akazantsev/drafter/cli"
)

var (
	// Global flags
	model          string
	thinkingLevel  string
	thinkingBudget int32
	verbose        bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "drafter",
		Short: "Agentic document Q&A over Gemini",
		Long: `Ask questions against uploaded documents. The model can request
additional context files from object storage and high-DPI crops of
document regions; drafter resolves those requests and iterates until
the model produces a final answer.`,
	}

	rootCmd.PersistentFlags().StringVarP(&model, "model", "m", "", "Model name (default from GEMINI_MODEL)")
	rootCmd.PersistentFlags().StringVar(&thinkingLevel, "thinking", "", "Thinking level: low, medium, high")
	rootCmd.PersistentFlags().Int32Var(&thinkingBudget, "thinking-budget", 0, "Explicit thinking token budget (overrides level)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show run metrics")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(tracesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		Model:          model,
		ThinkingLevel:  thinkingLevel,
		ThinkingBudget: thinkingBudget,
		Verbose:        verbose,
	}
}

func askCmd() *cobra.Command {
	var catalogPath string
	var fileURIs []string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one agentic question to completion",
		Long: `Run the full agentic loop for a single question.

With --catalog the model may request files from the catalog; with
--file already-uploaded files are attached to the first turn.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Ask(context.Background(), args[0], catalogPath, fileURIs, options())
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to a context catalog JSON file")
	cmd.Flags().StringArrayVar(&fileURIs, "file", nil, "Already-uploaded file URI to attach (repeatable)")

	return cmd
}

func enqueueCmd() *cobra.Command {
	var catalogPath string
	var fileURIs []string

	cmd := &cobra.Command{
		Use:   "enqueue [question]",
		Short: "Queue a question for background processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Enqueue(context.Background(), args[0], catalogPath, fileURIs, options())
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to a context catalog JSON file")
	cmd.Flags().StringArrayVar(&fileURIs, "file", nil, "Already-uploaded file URI to attach (repeatable)")

	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return cli.Worker(ctx)
		},
	}
}

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage files held by the model's file service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List uploaded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListFiles(context.Background())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [name]",
		Short: "Delete an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.DeleteFile(context.Background(), args[0])
		},
	})

	return cmd
}

func tracesCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List recent model traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTraces(context.Background(), limit, asJSON)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum traces to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")

	return cmd
}
