package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/casefile-ai/docproc-be/types"
	"github.com/casefile-ai/docproc-be/utils"
)

const (
	// DefaultMaxConcurrentPages bounds how many pages of one document may
	// occupy pool workers at once, so a 200-page filing cannot starve the
	// rest of the queue.
	DefaultMaxConcurrentPages = 8

	// directTextThreshold is the minimum trimmed text-layer length for a
	// PDF to skip rasterization entirely.
	directTextThreshold = 50

	// directExtractionConfidence is reported for text lifted straight from
	// the PDF text layer, which is not an OCR estimate.
	directExtractionConfidence = 99

	// markers injected into aggregated text, page numbers are 1-based
	pageHeaderFormat  = "\n--- Page %d ---\n%s\n"
	pageFailureFormat = "\n--- Page %d ---\n[OCR FAILED: %s]\n"

	maxMarkerErrorChars = 100
)

// OCRService turns PDFs and scanned images into text. PDFs with a usable
// text layer are read directly; everything else is rasterized and
// recognized page by page on the shared worker pool, with a per-document
// semaphore as the second backpressure level above the pool itself.
type OCRService struct {
	converter PDFConverter
	engine    OCREngine
	pool      *WorkerPool
	metrics   *MetricsService
	logger    *slog.Logger

	languages          []string
	maxConcurrentPages int
	rasterDPI          int
	pageTimeout        time.Duration
}

// OCROptions tunes the pipeline; zero values select the package defaults.
type OCROptions struct {
	Languages          []string
	MaxConcurrentPages int
	RasterDPI          int
	PageTimeout        time.Duration
}

func NewOCRService(converter PDFConverter, engine OCREngine, pool *WorkerPool, metrics *MetricsService, logger *slog.Logger, opts OCROptions) *OCRService {
	if opts.MaxConcurrentPages <= 0 {
		opts.MaxConcurrentPages = DefaultMaxConcurrentPages
	}
	if opts.RasterDPI <= 0 {
		opts.RasterDPI = DefaultRasterDPI
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRService{
		converter:          converter,
		engine:             engine,
		pool:               pool,
		metrics:            metrics,
		logger:             logger,
		languages:          opts.Languages,
		maxConcurrentPages: opts.MaxConcurrentPages,
		rasterDPI:          opts.RasterDPI,
		pageTimeout:        opts.PageTimeout,
	}
}

// ProcessDocument routes a file to the extraction strategy its format
// needs. Unknown extensions fail with UnsupportedFormatError before any
// work is queued.
func (s *OCRService) ProcessDocument(ctx context.Context, path string) (*types.OCRResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return s.processPDF(ctx, path)
	case utils.IsImageExt(ext):
		return s.processImage(ctx, path)
	default:
		return nil, &types.UnsupportedFormatError{Path: path, Ext: ext}
	}
}

func (s *OCRService) processPDF(ctx context.Context, path string) (*types.OCRResult, error) {
	pageCount, err := s.converter.PageCount(path)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	layer, err := s.converter.ExtractTextLayer(ctx, path)
	if err == nil {
		layer = cleanExtractedText(layer)
		if len(layer) > directTextThreshold {
			s.metrics.RecordLatency(types.OpOCRDirect, time.Since(start), nil)
			s.logger.Info("pdf has text layer, skipping OCR",
				"file", filepath.Base(path), "pages", pageCount, "chars", len(layer))
			return &types.OCRResult{
				Text:            layer,
				Confidence:      directExtractionConfidence,
				Language:        s.primaryLanguage(),
				PagesProcessed:  pageCount,
				SuccessfulPages: pageCount,
				Method:          types.MethodDirectExtraction,
			}, nil
		}
	} else {
		s.logger.Debug("text layer extraction failed, falling back to OCR",
			"file", filepath.Base(path), "error", err)
	}

	return s.ocrAllPages(ctx, path, pageCount)
}

// ocrAllPages rasterizes the document and recognizes every page
// concurrently. Page tasks run on the shared pool; the semaphore caps this
// document's share of it. Results land in a slice indexed by page so
// aggregation order never depends on completion order.
func (s *OCRService) ocrAllPages(ctx context.Context, path string, pageCount int) (*types.OCRResult, error) {
	start := time.Now()
	images, cleanup, err := s.converter.RasterizePages(ctx, path, s.rasterDPI)
	if err != nil {
		s.metrics.RecordLatency(types.OpOCRParallel, time.Since(start), err)
		return nil, err
	}
	defer cleanup()

	if pageCount != len(images) {
		s.logger.Warn("page count mismatch, trusting rendered pages",
			"file", filepath.Base(path), "reported", pageCount, "rendered", len(images))
	}

	results := make([]types.PageResult, len(images))
	sem := semaphore.NewWeighted(int64(s.maxConcurrentPages))
	var wg sync.WaitGroup

	for i, img := range images {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(images); j++ {
				results[j] = types.PageResult{Index: j, Err: err}
			}
			break
		}
		idx, imagePath := i, img
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = s.recognizePage(ctx, idx, imagePath)
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			sem.Release(1)
			results[idx] = types.PageResult{Index: idx, Err: err}
		}
	}
	wg.Wait()

	res, err := s.aggregatePages(path, results)
	s.metrics.RecordLatency(types.OpOCRParallel, time.Since(start), err)
	return res, err
}

func (s *OCRService) recognizePage(ctx context.Context, idx int, imagePath string) types.PageResult {
	pageCtx := ctx
	if s.pageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, s.pageTimeout)
		defer cancel()
	}

	rec, err := s.engine.Recognize(pageCtx, imagePath, s.languages)
	if err != nil {
		s.logger.Warn("page OCR failed", "page", idx+1, "error", err)
		return types.PageResult{Index: idx, Err: &types.PageRecognitionError{Page: idx + 1, Err: err}}
	}
	return types.PageResult{
		Index:      idx,
		Text:       cleanExtractedText(rec.Text),
		Confidence: rec.MeanConfidence,
	}
}

// aggregatePages joins per-page results in page order. A failed page leaves
// a visible marker in the text so page positions survive downstream
// chunking; document confidence is the mean over successful pages only.
func (s *OCRService) aggregatePages(path string, results []types.PageResult) (*types.OCRResult, error) {
	var (
		b          strings.Builder
		confSum    float64
		successful int
		failed     []int
		firstErr   error
	)
	for _, pr := range results {
		page := pr.Index + 1
		if pr.OK() {
			successful++
			confSum += pr.Confidence
			fmt.Fprintf(&b, pageHeaderFormat, page, pr.Text)
			continue
		}
		failed = append(failed, page)
		if firstErr == nil {
			firstErr = pr.Err
		}
		fmt.Fprintf(&b, pageFailureFormat, page, utils.TruncateString(pr.Err.Error(), maxMarkerErrorChars))
	}

	if successful == 0 {
		return nil, &types.AllPagesFailedError{
			DocumentID: filepath.Base(path),
			PageCount:  len(results),
			FirstErr:   firstErr,
		}
	}

	if len(failed) > 0 {
		s.logger.Warn("document OCR completed with failed pages",
			"file", filepath.Base(path), "failed_pages", failed,
			"successful", successful, "total", len(results))
	}
	return &types.OCRResult{
		Text:            strings.TrimSpace(b.String()),
		Confidence:      confSum / float64(successful),
		Language:        s.primaryLanguage(),
		PagesProcessed:  len(results),
		SuccessfulPages: successful,
		FailedPages:     failed,
		Method:          types.MethodParallelOCR,
	}, nil
}

func (s *OCRService) processImage(ctx context.Context, path string) (*types.OCRResult, error) {
	start := time.Now()
	rec, err := s.engine.Recognize(ctx, path, s.languages)
	s.metrics.RecordLatency(types.OpOCRImage, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("image OCR %s: %w", filepath.Base(path), err)
	}
	return &types.OCRResult{
		Text:            cleanExtractedText(rec.Text),
		Confidence:      rec.MeanConfidence,
		Language:        s.primaryLanguage(),
		PagesProcessed:  1,
		SuccessfulPages: 1,
		Method:          types.MethodImageOCR,
	}, nil
}

// ProcessBatch OCRs several documents concurrently and returns one outcome
// per input, in input order. Page tasks from all documents share the pool,
// so total CPU stays bounded no matter the batch size.
func (s *OCRService) ProcessBatch(ctx context.Context, paths []string) []types.DocumentOutcome {
	outcomes := make([]types.DocumentOutcome, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			res, err := s.ProcessDocument(ctx, p)
			outcomes[idx] = types.DocumentOutcome{Path: p, Result: res, Err: err}
		}(i, path)
	}
	wg.Wait()
	return outcomes
}

func (s *OCRService) primaryLanguage() string {
	if len(s.languages) > 0 {
		return s.languages[0]
	}
	return "eng"
}
