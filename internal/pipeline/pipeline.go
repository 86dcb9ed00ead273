// Package pipeline drives a query from retrieval to a logged, evaluated answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"policy-rag/internal/chunking"
	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/evaluation"
	"policy-rag/internal/llm"
	"policy-rag/internal/metrics"
	"policy-rag/internal/models"
	"policy-rag/internal/prompts"
	"policy-rag/internal/rerank"
	"policy-rag/internal/response"
	"policy-rag/internal/storage"
)

// DefaultTopK is the number of chunks retrieved when a request does not say.
const DefaultTopK = 5

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("pipeline is closed")

// QueryLogger records finished queries.
type QueryLogger interface {
	Log(question string, promptType models.PromptType, chunks []models.RetrievedChunk, resp models.QueryResponse) error
}

// Options are the tunables of a Pipeline.
type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	TopK          int
	ContextBudget int
	Truncation    prompts.TruncationMode
	// LogFailures also writes a query log entry when the model call fails.
	LogFailures bool
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithObserver reports state transitions, mostly for tracing and tests.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline owns the index, the model client and the query log for its lifetime:
// create it, ingest documents, run queries, then Close it.
// It is safe for concurrent use.
type Pipeline struct {
	index     storage.VectorIndex
	generator llm.Generator
	queryLog  QueryLogger
	builder   *prompts.Builder
	opts      Options

	metrics  *metrics.Metrics
	logger   *slog.Logger
	observer Observer
	closed   atomic.Bool
}

// New creates a Pipeline. generator may be nil for ingestion-only use; queries then
// fail with ErrMissingCredential. queryLog may be nil to disable logging.
func New(index storage.VectorIndex, generator llm.Generator, queryLog QueryLogger, opts Options, options ...Option) (*Pipeline, error) {
	if index == nil {
		return nil, apperrors.ErrInvalidConfiguration.WithMessage("a vector index is required")
	}
	if opts.ChunkSize == 0 && opts.ChunkOverlap == 0 {
		opts.ChunkSize, opts.ChunkOverlap = chunking.DefaultSize, chunking.DefaultOverlap
	}
	if err := chunking.Validate(opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	p := &Pipeline{
		index:     index,
		generator: generator,
		queryLog:  queryLog,
		builder:   prompts.NewBuilder(opts.ContextBudget, opts.Truncation),
		opts:      opts,
		logger:    slog.Default(),
	}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Ingest chunks docs and upserts the chunks, returning how many were stored.
func (p *Pipeline) Ingest(ctx context.Context, docs []models.Document) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	chunks, err := chunking.ChunkDocuments(docs, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		return 0, err
	}
	n, err := p.index.Upsert(ctx, chunks)
	if err != nil {
		return n, fmt.Errorf("failed to index chunks: %w", err)
	}
	p.metrics.AddIngested(n)
	p.logger.Info("ingested documents", "documents", len(docs), "chunks", n)
	return n, nil
}

// Rebuild resets the index and ingests docs into the empty index.
func (p *Pipeline) Rebuild(ctx context.Context, docs []models.Document) (int, error) {
	if err := p.Reset(ctx); err != nil {
		return 0, err
	}
	return p.Ingest(ctx, docs)
}

// Reset clears the vector index.
func (p *Pipeline) Reset(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.index.Reset(ctx); err != nil {
		return err
	}
	p.logger.Info("vector index reset")
	return nil
}

// Count returns the number of indexed chunks.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return p.index.Count(ctx)
}

// Sources returns the number of indexed chunks per document source.
func (p *Pipeline) Sources(ctx context.Context) (map[string]int, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return p.index.Sources(ctx)
}

// Query answers req.Question from the indexed documents.
//
// Empty retrieval, a failed model call and model output that breaks the JSON contract
// all produce a response rather than an error. Errors are returned only for invalid
// requests and retrieval failures.
func (p *Pipeline) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperrors.ErrEmptyQuestion
	}
	promptType, err := models.ParsePromptType(string(req.PromptType))
	if err != nil {
		return nil, err
	}
	if p.generator == nil {
		return nil, apperrors.ErrMissingCredential.WithMessage("no language model configured")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}

	q := &run{p: p, question: req.Question, promptType: promptType}

	q.enter(StateRetrieving)
	chunks, err := p.index.QueryFiltered(ctx, req.Question, topK, storage.SourceFilter(req.Sources...))
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	q.enter(StateReranking)
	chunks = rerank.Rerank(chunks, req.Question)

	var resp models.QueryResponse
	if len(chunks) == 0 {
		q.enter(StateEmptyRetrieval)
		q.outcome = metrics.OutcomeEmptyRetrieval
		resp = models.QueryResponse{
			Answer:          models.RefusalAnswer,
			Evidence:        []string{},
			Confidence:      models.ConfidenceLow,
			RetrievedChunks: []models.RetrievedChunk{},
		}
	} else {
		resp = q.generate(ctx, chunks)
	}

	q.enter(StateEvaluating)
	resp.Evaluation = evaluation.Evaluate(resp, promptType)

	if q.outcome != metrics.OutcomeTransport || p.opts.LogFailures {
		q.enter(StateLogging)
		q.log(chunks, resp)
	}

	q.enter(StateDone)
	p.metrics.RecordQuery(string(promptType), string(resp.Confidence), q.outcome, len(chunks))
	return &resp, nil
}

// Compare answers question with both prompt variants.
func (p *Pipeline) Compare(ctx context.Context, question string, topK int) (*models.Comparison, error) {
	initial, err := p.Query(ctx, models.QueryRequest{Question: question, PromptType: models.PromptInitial, TopK: topK})
	if err != nil {
		return nil, err
	}
	improved, err := p.Query(ctx, models.QueryRequest{Question: question, PromptType: models.PromptImproved, TopK: topK})
	if err != nil {
		return nil, err
	}
	return &models.Comparison{Question: question, Initial: initial, Improved: improved}, nil
}

// Close releases the index and the query log. Later calls fail with ErrClosed.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c, ok := p.queryLog.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, p.index.Close())
	return errors.Join(errs...)
}

// run carries the state of one query.
type run struct {
	p          *Pipeline
	question   string
	promptType models.PromptType
	outcome    string
}

func (r *run) enter(s State) {
	r.p.logger.Debug("query state", "state", s, "prompt_type", r.promptType)
	if r.p.observer != nil {
		r.p.observer(r.question, s)
	}
}

func (r *run) generate(ctx context.Context, chunks []models.RetrievedChunk) models.QueryResponse {
	r.enter(StateContextBuilding)
	prompt := r.p.builder.Build(r.promptType, chunks, r.question)

	r.enter(StateGenerating)
	start := time.Now()
	raw, err := r.p.generator.Generate(ctx, prompt)
	r.p.metrics.ObserveLLM(r.p.generator.Model(), time.Since(start))
	if err != nil {
		r.enter(StateTransportFailure)
		r.outcome = metrics.OutcomeTransport
		r.p.logger.Warn("model call failed", "error", err, "prompt_type", r.promptType, "chunks", len(chunks))
		return models.QueryResponse{
			Answer:          models.ErrorAnswer,
			Evidence:        []string{},
			Confidence:      models.ConfidenceLow,
			RetrievedChunks: chunks,
		}
	}

	r.enter(StateParsing)
	r.outcome = metrics.OutcomeAnswered
	if r.promptType == models.PromptInitial {
		return models.QueryResponse{
			Answer:          raw,
			Evidence:        []string{},
			Confidence:      models.ConfidenceNA,
			RetrievedChunks: chunks,
		}
	}

	parsed, ok := response.Parse(raw)
	if !ok {
		r.enter(StateMalformedModelOutput)
		r.outcome = metrics.OutcomeMalformed
		r.p.logger.Warn("model output is not a JSON object, using raw text", "prompt_type", r.promptType)
		return models.QueryResponse{
			Answer:          raw,
			Evidence:        []string{},
			Confidence:      models.ConfidenceMedium,
			RetrievedChunks: chunks,
		}
	}
	return models.QueryResponse{
		Answer:          parsed.Answer,
		Evidence:        parsed.Evidence,
		Confidence:      parsed.Confidence,
		RetrievedChunks: chunks,
	}
}

func (r *run) log(chunks []models.RetrievedChunk, resp models.QueryResponse) {
	if r.p.queryLog == nil {
		return
	}
	if err := r.p.queryLog.Log(r.question, r.promptType, chunks, resp); err != nil {
		r.p.logger.Warn("failed to write query log entry", "error", err)
	}
}
