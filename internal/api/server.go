package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ory/herodot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"policy-rag/internal/auth"
	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/evaluation"
	"policy-rag/internal/metrics"
	"policy-rag/internal/models"
	"policy-rag/internal/querylog"
)

const maxBodyBytes = 10 << 20

// Service is the part of the pipeline the HTTP API drives.
type Service interface {
	Ingest(ctx context.Context, docs []models.Document) (int, error)
	Rebuild(ctx context.Context, docs []models.Document) (int, error)
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Sources(ctx context.Context) (map[string]int, error)
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)
	Compare(ctx context.Context, question string, topK int) (*models.Comparison, error)
}

// Config holds the server settings.
type Config struct {
	// APIToken enables bearer authentication when set.
	APIToken string
	// Backend is reported by GET /documents.
	Backend string
	// QueryLogPath is read by GET /stats.
	QueryLogPath string
	Errors       apperrors.HandlerConfig
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TLS enables HTTPS with CertFile and KeyFile when set.
	TLS      *tls.Config
	CertFile string
	KeyFile  string
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

type Server struct {
	mux      *http.ServeMux
	service  Service
	config   Config
	writer   *herodot.JSONWriter
	errors   *apperrors.ErrorHandler
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func NewServer(service Service, cfg Config, opts ...Option) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		service: service,
		config:  cfg,
		writer:  herodot.NewJSONWriter(nil),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.errors = apperrors.NewErrorHandler(cfg.Errors, s.writer, s.logger)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	protect := auth.Middleware(s.config.APIToken, s.errors.Handle)

	s.route("/health", http.HandlerFunc(s.healthCheck))
	if s.gatherer != nil {
		s.route("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.route("/documents", protect(http.HandlerFunc(s.handleDocuments)))
	s.route("/index/reset", protect(http.HandlerFunc(s.resetIndex)))
	s.route("/query", protect(http.HandlerFunc(s.queryDocuments)))
	s.route("/compare", protect(http.HandlerFunc(s.comparePrompts)))
	s.route("/stats", protect(http.HandlerFunc(s.stats)))
}

func (s *Server) route(path string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.Middleware(path, h)
	}
	s.mux.Handle(path, h)
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.mux)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		TLSConfig:    s.config.TLS,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "tls", s.config.TLS != nil)
		if s.config.TLS != nil {
			errCh <- srv.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.addDocuments(w, r)
	case http.MethodGet:
		s.indexStatus(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) addDocuments(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("At least one document is required"))
		return
	}
	for _, doc := range req.Documents {
		if strings.TrimSpace(doc.Text) == "" {
			s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Document text must not be empty"))
			return
		}
	}

	ingest := s.service.Ingest
	if req.Reset {
		ingest = s.service.Rebuild
	}
	n, err := ingest(r.Context(), req.Documents)
	if err != nil {
		s.errors.Handle(w, r, err)
		return
	}

	response := &models.IngestResponse{
		Documents: len(req.Documents),
		Chunks:    n,
		Message:   "Documents indexed successfully",
	}
	s.writer.WriteCreated(w, r, "/documents", response)
}

func (s *Server) indexStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Count(r.Context())
	if err != nil {
		s.errors.Handle(w, r, err)
		return
	}
	sources, err := s.service.Sources(r.Context())
	if err != nil {
		s.errors.Handle(w, r, err)
		return
	}

	response := &models.IndexStatusResponse{
		Count:   count,
		Backend: s.config.Backend,
		Sources: sources,
	}
	s.writer.Write(w, r, response)
}

func (s *Server) resetIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.service.Reset(r.Context()); err != nil {
		s.errors.Handle(w, r, err)
		return
	}
	s.writer.Write(w, r, &models.MessageResponse{Message: "Vector index reset"})
}

func (s *Server) queryDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}

	response, err := s.service.Query(r.Context(), req)
	if err != nil {
		s.errors.Handle(w, r, err)
		return
	}
	s.writer.Write(w, r, response)
}

func (s *Server) comparePrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req models.CompareRequest
	if !s.decode(w, r, &req) {
		return
	}

	response, err := s.service.Compare(r.Context(), req.Question, req.TopK)
	if err != nil {
		s.errors.Handle(w, r, err)
		return
	}
	s.writer.Write(w, r, response)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	entries, err := querylog.ReadAll(s.config.QueryLogPath)
	if err != nil {
		s.errors.Handle(w, r, err)
		return
	}
	dist := evaluation.AnalyzeConfidence(entries)
	s.writer.Write(w, r, &dist)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	response := &models.HealthResponse{Status: "healthy"}
	s.writer.Write(w, r, response)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr, "duration", time.Since(start))
	})
}
