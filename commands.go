package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"policy-rag/internal/api"
	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/evaluation"
	"policy-rag/internal/loader"
	"policy-rag/internal/models"
	"policy-rag/internal/querylog"
)

const rule = "================================================================================"

func buildAskCmd(configPath func() string) *cobra.Command {
	var (
		promptType string
		topK       int
		sources    []string
		reindex    bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Answer a question from the policy documents",
		Example: `  policy-rag ask "How many vacation days do I get?"
  policy-rag ask --prompt-type initial --top-k 3 What is the remote work policy?
  policy-rag ask --source leave_policy.pdf "Do unused days carry over?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.ensureIndexed(ctx, reindex); err != nil {
				return err
			}

			question := strings.Join(args, " ")
			resp, err := a.pipeline.Query(ctx, models.QueryRequest{
				Question:   question,
				PromptType: models.PromptType(promptType),
				TopK:       topK,
				Sources:    sources,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			printResponse(cmd, question, resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&promptType, "prompt-type", "p", string(models.PromptImproved), "Prompt variant: initial or improved")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "Only retrieve chunks from these documents")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Rebuild the index from the policy directory first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")
	return cmd
}

func buildCompareCmd(configPath func() string) *cobra.Command {
	var (
		topK   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "compare [question...]",
		Short: "Answer a question with both prompt variants",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.ensureIndexed(ctx, false); err != nil {
				return err
			}

			cmp, err := a.pipeline.Compare(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, cmp)
			}
			printf(cmd, "Question: %s\n\n", cmp.Question)
			for _, v := range []struct {
				name string
				resp *models.QueryResponse
			}{{"INITIAL", cmp.Initial}, {"IMPROVED", cmp.Improved}} {
				printf(cmd, "%s\n%s PROMPT\n%s\n", rule, v.name, rule)
				printf(cmd, "%s\n\nConfidence: %s\n", v.resp.Answer, v.resp.Confidence)
				printEvaluation(cmd, v.resp.Evaluation)
				printf(cmd, "\n")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw comparison as JSON")
	return cmd
}

func buildIngestCmd(configPath func() string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the index from the policy directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if dir == "" {
				dir = a.cfg.Data.PoliciesDir
			}
			docs, chunks, err := a.rebuildIndex(cmd.Context(), dir)
			if err != nil {
				return err
			}
			printf(cmd, "Indexed %d documents as %d chunks from %s\n", docs, chunks, dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Policy directory (default from config)")
	return cmd
}

func buildResetCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove every chunk from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.Reset(cmd.Context()); err != nil {
				return err
			}
			printf(cmd, "Index reset\n")
			return nil
		},
	}
}

func buildStatsCmd(configPath func() string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise confidence and evaluation signals from the query log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := querylog.ReadAll(a.cfg.Logging.QueryLog)
			if err != nil {
				return err
			}
			dist := evaluation.AnalyzeConfidence(entries)
			if asJSON {
				return writeJSON(cmd, dist)
			}
			printDistribution(cmd, dist)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the distribution as JSON")
	return cmd
}

func buildServeCmd(configPath func() string) *cobra.Command {
	var reindex bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Graceful shutdown is handled on SIGINT/SIGTERM.

Endpoints: GET /health, GET /metrics, GET|POST /documents, POST /index/reset,
POST /query, POST /compare, GET /stats.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.ensureIndexed(ctx, reindex); err != nil {
				a.logger.Warn("index not built", "error", err)
			}

			server := api.NewServer(a.pipeline, api.Config{
				APIToken:     a.cfg.Security.APIToken,
				Backend:      a.cfg.Index.Backend,
				QueryLogPath: a.cfg.Logging.QueryLog,
				Errors: apperrors.HandlerConfig{
					ErrorMode:  a.cfg.Security.ErrorMode,
					Production: a.cfg.IsProduction(),
				},
				ReadTimeout:  seconds(a.cfg.Server.ReadTimeout),
				WriteTimeout: seconds(a.cfg.Server.WriteTimeout),
				TLS:          a.cfg.GetTLSConfig(),
				CertFile:     a.cfg.Server.TLS.CertFile,
				KeyFile:      a.cfg.Server.TLS.KeyFile,
			}, api.WithMetrics(a.metrics, a.registry), api.WithLogger(a.logger))

			return server.Run(ctx, a.cfg.Addr())
		},
	}

	cmd.Flags().BoolVar(&reindex, "reindex", false, "Rebuild the index from the policy directory on startup")
	return cmd
}

func buildWatchCmd(configPath func() string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the index whenever the policy directory changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if dir == "" {
				dir = a.cfg.Data.PoliciesDir
			}
			ctx := cmd.Context()

			watcher, err := loader.NewWatcher(loader.DefaultDebounce, a.logger)
			if err != nil {
				return err
			}
			defer watcher.Stop()

			changes, err := watcher.Watch(ctx, dir)
			if err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}

			if _, _, err := a.syncIndex(ctx, dir); err != nil {
				a.logger.Warn("initial index build failed", "error", err)
			}
			a.logger.Info("watching policy directory", "dir", dir)

			for change := range changes {
				a.logger.Info("policy documents changed", "files", change.Paths())
				docs, chunks, err := a.syncIndex(ctx, dir)
				if err != nil {
					a.logger.Error("index rebuild failed", "error", err)
					continue
				}
				if docs == 0 {
					a.logger.Warn("policy directory is empty, index cleared", "dir", dir)
					continue
				}
				a.logger.Info("index rebuilt", "documents", docs, "chunks", chunks)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Policy directory (default from config)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResponse(cmd *cobra.Command, question string, resp *models.QueryResponse) {
	printf(cmd, "\nQuestion: %s\n\n", question)
	printf(cmd, "%s\nANSWER:\n%s\n\n", rule, resp.Answer)
	printf(cmd, "%s\nConfidence: %s\n", rule, resp.Confidence)
	printf(cmd, "Sources Retrieved: %d\n", len(resp.RetrievedChunks))

	if len(resp.RetrievedChunks) > 0 {
		printf(cmd, "\nRETRIEVED CONTEXT PREVIEW:\n")
		for i, c := range resp.RetrievedChunks {
			preview := strings.ReplaceAll(truncate(c.Text, 120), "\n", " ")
			printf(cmd, "%d. [%s] %s\n", i+1, c.Metadata.Source, preview)
		}
	}
	if len(resp.Evidence) > 0 {
		printf(cmd, "\nEVIDENCE:\n")
		for i, ev := range resp.Evidence {
			printf(cmd, "%d. %s\n", i+1, ev)
		}
	}

	printf(cmd, "\n%s\nEVALUATION:\n", rule)
	printEvaluation(cmd, resp.Evaluation)
	printf(cmd, "\n%s\n", rule)
}

func printEvaluation(cmd *cobra.Command, e models.EvaluationResult) {
	printf(cmd, "accuracy_flag: %s\n", e.AccuracyFlag)
	printf(cmd, "groundedness: %s\n", e.Groundedness)
	printf(cmd, "hallucination_risk: %s\n", e.HallucinationRisk)
	printf(cmd, "prompt_version: %s\n", e.PromptVersion)
}

func printDistribution(cmd *cobra.Command, d evaluation.Distribution) {
	printf(cmd, "Total queries: %d\n\nConfidence distribution:\n", d.TotalQueries)
	for _, c := range []models.Confidence{models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow, models.ConfidenceNA} {
		printf(cmd, "  %-6s %d\n", c, d.ByConfidence[c])
	}

	printf(cmd, "\nBy prompt type:\n")
	for _, pt := range sortedKeys(d.ByPromptType) {
		printf(cmd, "  %-8s %d\n", pt, d.ByPromptType[pt])
	}
	printf(cmd, "\nGroundedness:\n")
	for _, f := range sortedKeys(d.Groundedness) {
		printf(cmd, "  %-4s %d\n", f, d.Groundedness[f])
	}
	printf(cmd, "\nHallucination risk:\n")
	for _, r := range sortedKeys(d.Risk) {
		printf(cmd, "  %-6s %d\n", r, d.Risk[r])
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
