package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/types"
	"github.com/casefile-ai/docproc-be/utils"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultJobLease     = 10 * time.Minute

	baseRetryBackoff = time.Minute
)

// PipelineService owns the document lifecycle: ingest, queue, OCR, embed,
// classify. Jobs are claimed with a lease so a crashed worker's documents
// are picked up again once the lease expires.
type PipelineService struct {
	documents  database.DocumentStore
	jobs       database.JobQueue
	ocr        *OCRService
	embeddings *EmbeddingService
	classifier *ClassificationService
	logger     *slog.Logger

	uploadDir    string
	pollInterval time.Duration
	lease        time.Duration
}

// NewPipelineService wires the pipeline. classifier may be nil, which
// disables AI classification.
func NewPipelineService(documents database.DocumentStore, jobs database.JobQueue, ocr *OCRService, embeddings *EmbeddingService, classifier *ClassificationService, logger *slog.Logger, uploadDir string, pollInterval, lease time.Duration) *PipelineService {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if lease <= 0 {
		lease = DefaultJobLease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineService{
		documents:    documents,
		jobs:         jobs,
		ocr:          ocr,
		embeddings:   embeddings,
		classifier:   classifier,
		logger:       logger,
		uploadDir:    uploadDir,
		pollInterval: pollInterval,
		lease:        lease,
	}
}

// EnqueueDocument copies a file into the firm's upload area, registers the
// document and queues it for processing. PDFs are validated and optimized
// on the way in so broken uploads fail here, not in a worker.
func (s *PipelineService) EnqueueDocument(ctx context.Context, firmID, sourcePath, caseID, uploadedBy string) (*types.Document, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if !utils.IsSupportedExt(ext) {
		return nil, &types.UnsupportedFormatError{Path: sourcePath, Ext: ext}
	}

	storedPath, err := utils.CopyFileWithTimestamp(sourcePath, filepath.Join(s.uploadDir, firmID))
	if err != nil {
		return nil, err
	}
	if ext == ".pdf" {
		if err := ValidatePDF(storedPath); err != nil {
			os.Remove(storedPath)
			return nil, err
		}
		if err := OptimizePDF(storedPath, ""); err != nil {
			s.logger.Warn("pdf optimization failed", "file", storedPath, "error", err)
		}
	}

	info, err := os.Stat(storedPath)
	if err != nil {
		return nil, fmt.Errorf("stat stored file: %w", err)
	}
	hash, err := utils.FileSHA256(storedPath)
	if err != nil {
		return nil, err
	}

	doc := &types.Document{
		ID:         uuid.NewString(),
		FirmID:     firmID,
		Filename:   filepath.Base(sourcePath),
		FilePath:   storedPath,
		FileSize:   info.Size(),
		FileSHA256: hash,
		MimeType:   mime.TypeByExtension(ext),
		CaseID:     caseID,
		UploadedBy: uploadedBy,
		Status:     types.StatusUnprocessed,
	}
	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	job := &types.OCRJob{
		ID:         uuid.NewString(),
		FirmID:     firmID,
		DocumentID: doc.ID,
		FilePath:   storedPath,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("document enqueued", "document_id", doc.ID, "firm_id", firmID, "file", doc.Filename)
	return doc, nil
}

// EnqueueDirectory queues every supported file under dir for the firm.
// Unsupported files are skipped with a warning rather than aborting the
// batch.
func (s *PipelineService) EnqueueDirectory(ctx context.Context, firmID, dir, caseID, uploadedBy string) ([]*types.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var docs []*types.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !utils.IsSupportedExt(filepath.Ext(entry.Name())) {
			s.logger.Warn("skipping unsupported file", "file", entry.Name())
			continue
		}
		doc, err := s.EnqueueDocument(ctx, firmID, path, caseID, uploadedBy)
		if err != nil {
			s.logger.Error("enqueue failed", "file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Run claims and processes jobs until ctx is canceled. Start several Run
// goroutines to raise document-level parallelism; page work still shares
// the one pool.
func (s *PipelineService) Run(ctx context.Context) {
	for {
		handled, err := s.ProcessOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("claim job", "error", err)
		}
		if !handled {
			select {
			case <-time.After(s.pollInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// ProcessOne claims and handles at most one pending job, reporting whether
// one was handled.
func (s *PipelineService) ProcessOne(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNext(ctx, s.lease)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.handleJob(ctx, job)
	return true, nil
}

func (s *PipelineService) handleJob(ctx context.Context, job *types.OCRJob) {
	logger := s.logger.With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempts)
	logger.Info("processing document")

	doc, err := s.documents.GetDocument(ctx, job.FirmID, job.DocumentID)
	if err != nil {
		logger.Error("load document", "error", err)
		s.failJob(ctx, job, err, errors.Is(err, database.ErrNotFound))
		return
	}

	if err := s.documents.UpdateStatus(ctx, job.FirmID, doc.ID, types.StatusProcessing); err != nil {
		logger.Warn("mark processing", "error", err)
	}

	res, err := s.ocr.ProcessDocument(ctx, doc.FilePath)
	if err != nil {
		fatal := types.IsUnsupportedFormat(err) || types.IsAllPagesFailed(err)
		if markErr := s.documents.MarkFailed(ctx, job.FirmID, doc.ID, err.Error()); markErr != nil {
			logger.Warn("mark failed", "error", markErr)
		}
		s.failJob(ctx, job, err, fatal)
		return
	}

	if err := s.documents.UpdateOCRResult(ctx, job.FirmID, doc.ID, res); err != nil {
		logger.Error("store OCR result", "error", err)
		s.failJob(ctx, job, err, false)
		return
	}
	logger.Info("OCR complete", "method", res.Method, "pages", res.PagesProcessed,
		"successful", res.SuccessfulPages, "confidence", res.Confidence)

	doc.OCRText = res.Text
	if res.SuccessfulPages > 0 && len(strings.TrimSpace(res.Text)) >= minEmbeddableChars {
		if _, err := s.embeddings.EmbedDocument(ctx, doc, false); err != nil {
			// the recognized text is already stored; embedding retries
			// with the job
			logger.Error("embed document", "error", err)
			s.failJob(ctx, job, err, false)
			return
		}
	} else {
		logger.Info("too little text to embed", "chars", len(res.Text))
	}

	if s.classifier != nil {
		if _, err := s.classifier.ClassifyDocument(ctx, doc, false); err != nil {
			if types.IsRateLimit(err) {
				// stored vectors survive the retry, only the verdict is
				// outstanding
				logger.Warn("classification rate limited, retrying job", "error", err)
				s.failJob(ctx, job, err, false)
				return
			}
			// any other classification failure never blocks completion
			logger.Warn("classify document", "error", err)
		}
	}

	if err := s.jobs.Complete(ctx, job.ID); err != nil {
		logger.Error("complete job", "error", err)
		return
	}
	logger.Info("document processed")
}

// failJob releases or retires the job. Fatal errors and exhausted attempts
// retire it; anything else goes back to pending with exponential backoff,
// floored at the provider's retry-after when rate limited.
func (s *PipelineService) failJob(ctx context.Context, job *types.OCRJob, cause error, fatal bool) {
	if fatal || job.Attempts >= job.MaxAttempts {
		if err := s.jobs.Fail(ctx, job.ID, cause.Error(), -1); err != nil {
			s.logger.Error("retire job", "job_id", job.ID, "error", err)
		}
		return
	}

	backoff := retryBackoff(job.Attempts)
	var rl *types.RateLimitError
	if errors.As(cause, &rl) && rl.RetryAfter > backoff {
		backoff = rl.RetryAfter
	}
	if err := s.jobs.Fail(ctx, job.ID, cause.Error(), backoff); err != nil {
		s.logger.Error("release job", "job_id", job.ID, "error", err)
	}
}

// retryBackoff doubles per attempt: 1m, 2m, 4m...
func retryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return baseRetryBackoff << (attempts - 1)
}
