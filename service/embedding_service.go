package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/types"
)

const (
	// DefaultMaxConcurrentEmbeddings bounds in-flight provider calls per
	// batch.
	DefaultMaxConcurrentEmbeddings = 10

	// minEmbeddableChars is the least recognized text a document needs
	// before embedding is worth the tokens.
	minEmbeddableChars = 100

	DefaultSearchLimit = 10
)

// EmbeddingService generates, caches and stores chunk embeddings, and
// answers similarity queries against the vector store.
type EmbeddingService struct {
	client  EmbeddingClient
	vectors database.VectorStore
	chunker *TextChunker
	cache   *CacheService
	metrics *MetricsService
	logger  *slog.Logger

	maxConcurrent int64
}

func NewEmbeddingService(client EmbeddingClient, vectors database.VectorStore, chunker *TextChunker, cache *CacheService, metrics *MetricsService, logger *slog.Logger, maxConcurrent int) *EmbeddingService {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentEmbeddings
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingService{
		client:        client,
		vectors:       vectors,
		chunker:       chunker,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		maxConcurrent: int64(maxConcurrent),
	}
}

// GenerateEmbedding returns the vector for text, consulting the cache
// first. The cache key includes the model name, so switching models never
// serves stale vectors.
func (s *EmbeddingService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cache.GetEmbedding(s.client.Model(), text); ok {
		s.metrics.RecordCacheHit()
		return vec, nil
	}
	s.metrics.RecordCacheMiss()

	start := time.Now()
	vec, err := s.client.Embed(ctx, text)
	s.metrics.RecordLatency(types.OpEmbedding, time.Since(start), err)
	if err != nil {
		var rl *types.RateLimitError
		if errors.As(err, &rl) {
			s.metrics.RecordRateLimitEvent(rl.Service, rl.Error(), rl.RetryAfter)
		}
		return nil, err
	}
	s.cache.SetEmbedding(s.client.Model(), text, vec)
	return vec, nil
}

// GenerateEmbeddingsBatch embeds texts concurrently under the semaphore.
// The result preserves input order; a text that fails leaves a nil vector
// at its position rather than failing the batch. Only a dead context or a
// batch with no surviving vector returns an error, the latter wrapping the
// first provider error so rate limits stay detectable.
func (s *EmbeddingService) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	results := make([][]float32, len(texts))
	sem := semaphore.NewWeighted(s.maxConcurrent)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, text := range texts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // context gone, remaining slots stay nil
		}
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()
			defer sem.Release(1)
			vec, err := s.GenerateEmbedding(ctx, t)
			if err != nil {
				s.logger.Warn("chunk embedding failed", "chunk", idx, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			results[idx] = vec
		}(i, text)
	}
	wg.Wait()

	err := ctx.Err()
	if err == nil && firstErr != nil && !anyVector(results) {
		err = fmt.Errorf("all %d chunks failed to embed: %w", len(texts), firstErr)
	}
	s.metrics.RecordLatency(types.OpEmbeddingBatch, time.Since(start), err)
	return results, err
}

func anyVector(vecs [][]float32) bool {
	for _, v := range vecs {
		if v != nil {
			return true
		}
	}
	return false
}

// EmbedDocument chunks a document's recognized text and stores one vector
// per chunk under the owning firm. A document whose chunks already exist is
// skipped unless force, which deletes the stale vectors first.
func (s *EmbeddingService) EmbedDocument(ctx context.Context, doc *types.Document, force bool) (*types.EmbedDocumentResult, error) {
	start := time.Now()

	if len(strings.TrimSpace(doc.OCRText)) < minEmbeddableChars {
		return nil, fmt.Errorf("document %s has no embeddable text (need at least %d chars)", doc.ID, minEmbeddableChars)
	}

	existing, err := s.vectors.CountByDocument(ctx, doc.FirmID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing chunks: %w", err)
	}
	if existing > 0 {
		if !force {
			s.logger.Info("document already embedded", "document_id", doc.ID, "chunks", existing)
			return &types.EmbedDocumentResult{
				DocumentID:     doc.ID,
				DocumentName:   doc.Filename,
				TotalChunks:    existing,
				ElapsedSeconds: time.Since(start).Seconds(),
				Status:         types.EmbedStatusAlreadyEmbedded,
				Message:        fmt.Sprintf("%d chunks already stored", existing),
			}, nil
		}
		if err := s.vectors.DeleteByDocument(ctx, doc.FirmID, doc.ID); err != nil {
			return nil, fmt.Errorf("delete stale chunks: %w", err)
		}
		s.logger.Info("stale chunks deleted for re-embedding", "document_id", doc.ID, "chunks", existing)
	}

	chunks := s.chunker.Chunk(doc.OCRText)
	vectors, err := s.GenerateEmbeddingsBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}

	now := time.Now().Unix()
	stored := make([]types.ChunkEmbedding, 0, len(chunks))
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		stored = append(stored, types.ChunkEmbedding{
			FirmID:     doc.FirmID,
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    chunks[i],
			Model:      s.client.Model(),
			Vector:     vec,
			CreatedAt:  now,
		})
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("all %d chunks failed to embed for document %s", len(chunks), doc.ID)
	}
	if err := s.vectors.InsertChunks(ctx, stored); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	res := &types.EmbedDocumentResult{
		DocumentID:     doc.ID,
		DocumentName:   doc.Filename,
		ChunksEmbedded: len(stored),
		TotalChunks:    len(chunks),
		ElapsedSeconds: time.Since(start).Seconds(),
		Status:         types.EmbedStatusSuccess,
	}
	if len(stored) < len(chunks) {
		res.Message = fmt.Sprintf("%d of %d chunks failed to embed", len(chunks)-len(stored), len(chunks))
		s.logger.Warn("document embedded with shortfall",
			"document_id", doc.ID, "embedded", len(stored), "total", len(chunks))
	} else {
		s.logger.Info("document embedded",
			"document_id", doc.ID, "chunks", len(stored), "elapsed", time.Since(start))
	}
	return res, nil
}

// EmbedQuery returns the vector for a search query. Queries go through the
// same cache as document chunks, so repeated searches skip the provider.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.GenerateEmbedding(ctx, query)
}

// SearchChunks embeds the query and returns the firm's most similar stored
// chunks.
func (s *EmbeddingService) SearchChunks(ctx context.Context, firmID, query string, limit int) ([]types.ChunkMatch, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	vec, err := s.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.vectors.SearchSimilar(ctx, firmID, vec, limit)
}
