// Policy RAG answers questions about company policy documents with cited evidence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "policy-rag",
		Short: "Answer policy questions from your documents",
		Long: `policy-rag indexes PDF, text and markdown policy documents and answers
questions about them with a hosted language model, citing evidence from the
retrieved passages.

Configuration is read from config.yaml (or --config), .env and POLICYRAG_*
environment variables. GROQ_API_KEY sets the model API key.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON configuration file")

	cfgPath := func() string { return configPath }
	rootCmd.AddCommand(
		buildAskCmd(cfgPath),
		buildCompareCmd(cfgPath),
		buildIngestCmd(cfgPath),
		buildResetCmd(cfgPath),
		buildStatsCmd(cfgPath),
		buildServeCmd(cfgPath),
		buildWatchCmd(cfgPath),
	)
	return rootCmd
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
