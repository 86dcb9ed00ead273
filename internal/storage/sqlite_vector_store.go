package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver

	"policy-rag/internal/embeddings"
	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/models"
)

func init() {
	sqlite_vec.Auto()
}

// maxK is the largest k sqlite-vec accepts in a KNN query.
const maxK = 4096

const (
	metaDimension = "dimension"
	metaEmbedder  = "embedder"
)

// SQLiteVectorStore is a persistent VectorIndex backed by sqlite-vec.
//
// Chunk text and metadata live in the chunks table; vectors live in the vec0 table
// vec_chunks, which is created on the first upsert once the embedding dimension is known.
type SQLiteVectorStore struct {
	db          *sql.DB
	embedder    embeddings.Embedder
	dim         int
	unavailable bool
	mu          sync.RWMutex
}

var _ VectorIndex = (*SQLiteVectorStore)(nil)

// NewSQLiteVectorStore opens (or creates) the index at dsn.
func NewSQLiteVectorStore(dsn string, embedder embeddings.Embedder) (*SQLiteVectorStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteVectorStore{
		db:       db,
		embedder: embedder,
	}

	ctx := context.Background()
	if err := store.initDB(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if name, err := store.meta(ctx, metaEmbedder); err == nil && name != "" && name != embedder.Name() {
		slog.Warn("vector index was built with a different embedding function; reset and re-ingest",
			"index_embedder", name, "embedder", embedder.Name())
	}

	return store, nil
}

// initDB creates the metadata tables and restores the vector dimension of an existing index.
func (s *SQLiteVectorStore) initDB(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`,
		`CREATE TABLE IF NOT EXISTS index_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// vec_chunks is created on first upsert when the dimension is known
	exists, err := s.vecTableExists(ctx)
	if err != nil {
		return err
	}
	s.dim = 0
	if exists {
		var dim int
		if err := s.db.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM index_meta WHERE key = ?`, metaDimension).Scan(&dim); err != nil {
			return fmt.Errorf("vec_chunks exists but its dimension is unknown: %w", err)
		}
		s.dim = dim
	}
	return nil
}

func (s *SQLiteVectorStore) vecTableExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='vec_chunks'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check vec_chunks existence: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteVectorStore) meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// Close closes the database connection
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

// serializeFloat32Vector converts a float32 slice to the byte format expected by sqlite-vec
func serializeFloat32Vector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

func (s *SQLiteVectorStore) checkAvailable() error {
	if s.unavailable {
		return apperrors.ErrIndexUnavailable.WithMessage("vector index unavailable after a failed reset; reset it again")
	}
	return nil
}

// ensureVecTableExists creates vec_chunks for embeddingLen dimensions, or checks that
// an existing table matches. Callers hold the write lock.
func (s *SQLiteVectorStore) ensureVecTableExists(ctx context.Context, embeddingLen int) error {
	if s.dim != 0 {
		if s.dim != embeddingLen {
			return apperrors.ErrInvalidConfiguration.WithCause(
				fmt.Errorf("embedding dimension %d does not match index dimension %d; reset the index", embeddingLen, s.dim))
		}
		if name, err := s.meta(ctx, metaEmbedder); err == nil && name != "" && name != s.embedder.Name() {
			return apperrors.ErrInvalidConfiguration.WithCause(
				fmt.Errorf("index was built with %s, not %s; reset the index", name, s.embedder.Name()))
		}
		return nil
	}

	vecQuery := fmt.Sprintf(`
		CREATE VIRTUAL TABLE vec_chunks USING vec0(
			id TEXT PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)
	`, embeddingLen)
	if _, err := s.db.ExecContext(ctx, vecQuery); err != nil {
		return fmt.Errorf("failed to create vec_chunks table: %w", err)
	}

	upsertMeta := `INSERT INTO index_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, upsertMeta, metaDimension, fmt.Sprint(embeddingLen)); err != nil {
		return fmt.Errorf("failed to record dimension: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertMeta, metaEmbedder, s.embedder.Name()); err != nil {
		return fmt.Errorf("failed to record embedder: %w", err)
	}
	s.dim = embeddingLen
	return nil
}

// Upsert embeds chunks and stores them in one transaction. Stored chunks from the
// same sources are deleted in that transaction first.
func (s *SQLiteVectorStore) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	s.mu.RLock()
	err := s.checkAvailable()
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := embedAll(ctx, s.embedder.Embed, chunks)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return 0, err
	}

	// Ensure vec_chunks table exists with correct dimensions
	if err := s.ensureVecTableExists(ctx, len(vectors[0])); err != nil {
		return 0, err
	}

	// Start transaction
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, source := range batchSources(chunks) {
		if err := deleteSource(ctx, tx, source); err != nil {
			return 0, err
		}
	}

	for i, c := range chunks {
		if len(vectors[i]) != s.dim {
			return 0, apperrors.ErrInvalidConfiguration.WithCause(
				fmt.Errorf("embedding dimension %d does not match index dimension %d", len(vectors[i]), s.dim))
		}

		id := ChunkID(c)
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode chunk metadata: %w", err)
		}

		// Upsert metadata
		metadataQuery := `
			INSERT INTO chunks (id, source, text, metadata)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				source = excluded.source,
				text = excluded.text,
				metadata = excluded.metadata
		`
		if _, err := tx.ExecContext(ctx, metadataQuery, id, c.Metadata.Source, c.Text, string(metadata)); err != nil {
			return 0, fmt.Errorf("failed to upsert chunk metadata: %w", err)
		}

		// Upsert vector (delete and insert since vec0 doesn't support UPDATE)
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete old vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunks (id, embedding) VALUES (?, ?)`, id, serializeFloat32Vector(vectors[i])); err != nil {
			return 0, fmt.Errorf("failed to insert chunk vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(chunks), nil
}

// deleteSource removes the chunks and vectors stored for source.
func deleteSource(ctx context.Context, tx *sql.Tx, source string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE source = ?`, source)
	if err != nil {
		return fmt.Errorf("failed to list chunks of %s: %w", source, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// vec0 tables only support deletes by rowid or primary key
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete old vector: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", source, err)
	}
	return nil
}

// Reset drops every stored chunk and vector and recreates the empty schema.
// A failure leaves the index unavailable until the next successful Reset.
func (s *SQLiteVectorStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range []string{
		`DROP TABLE IF EXISTS vec_chunks`,
		`DROP TABLE IF EXISTS chunks`,
		`DROP TABLE IF EXISTS index_meta`,
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			s.unavailable = true
			return apperrors.ErrIndexUnavailable.WithCause(fmt.Errorf("reset failed while deleting: %w", err))
		}
	}

	if err := s.initDB(ctx); err != nil {
		s.unavailable = true
		return apperrors.ErrIndexUnavailable.WithCause(fmt.Errorf("reset failed while recreating: %w", err))
	}
	s.unavailable = false
	return nil
}

// Count returns the number of stored chunks.
func (s *SQLiteVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable(); err != nil {
		return 0, err
	}
	return s.count(ctx)
}

func (s *SQLiteVectorStore) count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Sources returns the number of stored chunks per source.
func (s *SQLiteVectorStore) Sources(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM chunks GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out[source] = n
	}
	return out, rows.Err()
}

// Query returns up to topK chunks closest to text.
func (s *SQLiteVectorStore) Query(ctx context.Context, text string, topK int) ([]models.RetrievedChunk, error) {
	return s.QueryFiltered(ctx, text, topK, nil)
}

const (
	initialMultiplier = 2
	growthFactor      = 2.0
	maxAttempts       = 10
)

// QueryFiltered finds the topK closest chunks accepted by filter.
// It repeatedly widens the KNN candidate pool until topK chunks pass the filter
// or the whole index has been considered.
func (s *SQLiteVectorStore) QueryFiltered(ctx context.Context, text string, topK int, filter Filter) ([]models.RetrievedChunk, error) {
	s.mu.RLock()
	err := s.checkAvailable()
	empty := s.dim == 0
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if topK <= 0 || empty {
		return []models.RetrievedChunk{}, nil
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	if s.dim == 0 {
		return []models.RetrievedChunk{}, nil
	}
	if len(embedding) != s.dim {
		return nil, apperrors.ErrInvalidConfiguration.WithCause(
			fmt.Errorf("query embedding dimension %d does not match index dimension %d", len(embedding), s.dim))
	}

	total, err := s.count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []models.RetrievedChunk{}, nil
	}
	limit := min(total, maxK)

	if filter == nil {
		return s.searchWithSqliteVec(ctx, embedding, min(topK, limit))
	}
	return s.searchWithFilterRecursive(ctx, embedding, topK, filter, initialMultiplier, 0, limit)
}

// searchWithFilterRecursive fetches more candidates until topK matching chunks are found
func (s *SQLiteVectorStore) searchWithFilterRecursive(ctx context.Context, embedding []float32, topK int, filter Filter, multiplier, attempt, limit int) ([]models.RetrievedChunk, error) {
	candidateCount := min(topK*multiplier, limit)
	candidates, err := s.searchWithSqliteVec(ctx, embedding, candidateCount)
	if err != nil {
		return nil, err
	}

	filtered := applyFilter(candidates, topK, filter)

	// Enough results, or every stored chunk was a candidate
	if len(filtered) >= topK || candidateCount >= limit {
		return filtered, nil
	}
	if attempt+1 >= maxAttempts {
		slog.Warn("filtered search reached max attempts, returning partial results",
			"max_attempts", maxAttempts, "found", len(filtered), "top_k", topK)
		return filtered, nil
	}

	newMultiplier := int(float64(multiplier) * growthFactor)
	slog.Debug("widening filtered search",
		"found", len(filtered), "top_k", topK,
		"from", candidateCount, "to", min(topK*newMultiplier, limit), "attempt", attempt+1)
	return s.searchWithFilterRecursive(ctx, embedding, topK, filter, newMultiplier, attempt+1, limit)
}

// applyFilter keeps up to topK candidates accepted by filter, preserving order.
func applyFilter(candidates []models.RetrievedChunk, topK int, filter Filter) []models.RetrievedChunk {
	filtered := make([]models.RetrievedChunk, 0, topK)
	for i := range candidates {
		if filter(&candidates[i].Chunk) {
			filtered = append(filtered, candidates[i])
			if len(filtered) >= topK {
				break
			}
		}
	}
	return filtered
}

// searchWithSqliteVec performs KNN vector search using sqlite-vec
func (s *SQLiteVectorStore) searchWithSqliteVec(ctx context.Context, embedding []float32, k int) ([]models.RetrievedChunk, error) {
	// sqlite-vec takes k as a constraint next to MATCH
	query := `
		SELECT
			c.text,
			c.metadata,
			v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`

	rows, err := s.db.QueryContext(ctx, query, serializeFloat32Vector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]models.RetrievedChunk, 0, k)
	for rows.Next() {
		var text, metadata string
		var distance float64

		if err := rows.Scan(&text, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		var md models.ChunkMetadata
		if err := json.Unmarshal([]byte(metadata), &md); err != nil {
			slog.Warn("skipping chunk with unreadable metadata", "error", err)
			continue
		}

		results = append(results, models.RetrievedChunk{
			Chunk: models.Chunk{Text: text, Metadata: md},
			Score: distance,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}
