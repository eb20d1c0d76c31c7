package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/types"
)

// minClassifiableChars is lower than the embedding floor: a verdict on a
// short cover page is still useful even when it is not worth chunking.
const minClassifiableChars = 50

// ClassificationService assigns a category and summary to processed
// documents. The durable store is consulted before the cache and the cache
// before the provider, so a cold cache never re-buys a verdict mongo
// already holds.
type ClassificationService struct {
	classifier DocumentClassifier
	documents  database.DocumentStore
	cache      *CacheService
	metrics    *MetricsService
	logger     *slog.Logger
	model      string
}

func NewClassificationService(classifier DocumentClassifier, documents database.DocumentStore, cache *CacheService, metrics *MetricsService, logger *slog.Logger, model string) *ClassificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassificationService{
		classifier: classifier,
		documents:  documents,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		model:      model,
	}
}

// ClassifyDocument returns the document's category, producing and
// persisting one when absent. force discards the stored verdict first.
func (s *ClassificationService) ClassifyDocument(ctx context.Context, doc *types.Document, force bool) (*types.Classification, error) {
	if force {
		if err := s.documents.ClearClassification(ctx, doc.FirmID, doc.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("clear classification: %w", err)
		}
		s.cache.InvalidateClassification(s.model, doc.ID)
	} else {
		if doc.AIProcessed {
			return &types.Classification{
				Category:   doc.AICategory,
				Summary:    doc.AISummary,
				Confidence: doc.AIConfidence,
			}, nil
		}
		if c, ok := s.cache.GetClassification(s.model, doc.ID); ok {
			s.metrics.RecordCacheHit()
			return c, nil
		}
		s.metrics.RecordCacheMiss()
	}

	if len(strings.TrimSpace(doc.OCRText)) < minClassifiableChars {
		return nil, fmt.Errorf("document %s has too little text to classify", doc.ID)
	}

	start := time.Now()
	c, err := s.classifier.Classify(ctx, doc.OCRText)
	s.metrics.RecordLatency(types.OpClassification, time.Since(start), err)
	if err != nil {
		var rl *types.RateLimitError
		if errors.As(err, &rl) {
			s.metrics.RecordRateLimitEvent(rl.Service, rl.Error(), rl.RetryAfter)
		}
		if storeErr := s.documents.SetClassificationError(ctx, doc.FirmID, doc.ID, err.Error()); storeErr != nil {
			s.logger.Warn("record classification error", "document_id", doc.ID, "error", storeErr)
		}
		return nil, err
	}

	if err := s.documents.UpdateClassification(ctx, doc.FirmID, doc.ID, c); err != nil {
		return nil, fmt.Errorf("persist classification: %w", err)
	}
	s.cache.SetClassification(s.model, doc.ID, c)
	s.logger.Info("document classified",
		"document_id", doc.ID, "category", c.Category, "confidence", c.Confidence)
	return c, nil
}
