package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/types"
)

// memJobQueue mirrors the mongo job repository's lease semantics in memory.
type memJobQueue struct {
	mu          sync.Mutex
	jobs        map[string]*types.OCRJob
	order       []string
	maxAttempts int
}

func newMemJobQueue(maxAttempts int) *memJobQueue {
	return &memJobQueue{jobs: make(map[string]*types.OCRJob), maxAttempts: maxAttempts}
}

func (q *memJobQueue) Enqueue(ctx context.Context, job *types.OCRJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().Unix()
	job.Status = types.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.maxAttempts
	}
	cp := *job
	q.jobs[job.ID] = &cp
	q.order = append(q.order, job.ID)
	return nil
}

func (q *memJobQueue) ClaimNext(ctx context.Context, lease time.Duration) (*types.OCRJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().Unix()
	for _, id := range q.order {
		job := q.jobs[id]
		claimable := (job.Status == types.JobStatusPending || job.Status == types.JobStatusProcessing) &&
			job.LeaseUntil <= now && job.Attempts < job.MaxAttempts
		if !claimable {
			continue
		}
		job.Status = types.JobStatusProcessing
		job.Attempts++
		job.LeaseUntil = now + int64(lease/time.Second)
		job.UpdatedAt = now
		cp := *job
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (q *memJobQueue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	job.Status = types.JobStatusCompleted
	job.LastError = ""
	return nil
}

func (q *memJobQueue) Fail(ctx context.Context, id string, cause string, retryIn time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	job.LastError = cause
	if retryIn < 0 {
		job.Status = types.JobStatusFailed
		return nil
	}
	job.Status = types.JobStatusPending
	job.LeaseUntil = time.Now().Unix() + int64(retryIn/time.Second)
	return nil
}

func (q *memJobQueue) get(id string) types.OCRJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.jobs[id]
}

func (q *memJobQueue) only() types.OCRJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) != 1 {
		panic("queue does not hold exactly one job")
	}
	return *q.jobs[q.order[0]]
}

func (q *memJobQueue) expireLease(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[id].LeaseUntil = 0
}

type pipelineFixture struct {
	pipeline *PipelineService
	docs     *memDocStore
	jobs     *memJobQueue
	engine   *fakeEngine
	embedder *fakeEmbedder
	vectors  *memVectorStore
	class    *fakeClassifier
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	docs := newMemDocStore()
	jobs := newMemJobQueue(3)
	engine := &fakeEngine{fallback: &fakePage{
		text: "poder notarial otorgado ante notario publico por el representante legal de la sociedad, folio 123 del registro.",
		conf: 88,
	}}
	embedder := &fakeEmbedder{}
	vectors := &memVectorStore{}
	class := &fakeClassifier{result: types.Classification{Category: "contract", Summary: "power of attorney", Confidence: 0.9}}

	pool := NewWorkerPool(4)
	t.Cleanup(pool.Shutdown)
	metrics := NewMetricsService(0)
	cache := NewCacheService(time.Minute, 100, 100)

	ocr := NewOCRService(&fakeConverter{}, engine, pool, metrics, testLogger(), OCROptions{})
	emb := NewEmbeddingService(embedder, vectors, NewTextChunker(500, 50), cache, metrics, testLogger(), 4)
	cls := NewClassificationService(class, docs, cache, metrics, testLogger(), "gpt-4o")

	pipeline := NewPipelineService(docs, jobs, ocr, emb, cls, testLogger(),
		filepath.Join(t.TempDir(), "uploads"), time.Millisecond, time.Minute)

	return &pipelineFixture{
		pipeline: pipeline,
		docs:     docs,
		jobs:     jobs,
		engine:   engine,
		embedder: embedder,
		vectors:  vectors,
		class:    class,
	}
}

func writeTempImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not a real png"), 0644))
	return path
}

func TestPipelineProcessesImageEndToEnd(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	doc, err := fix.pipeline.EnqueueDocument(ctx, "firm-1", writeTempImage(t, "scan.png"), "case-7", "ana")
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnprocessed, doc.Status)
	assert.Equal(t, "scan.png", doc.Filename)
	assert.Equal(t, "image/png", doc.MimeType)
	assert.Len(t, doc.FileSHA256, 64, "stored uploads are content-hashed")
	assert.FileExists(t, doc.FilePath)

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	stored, err := fix.docs.GetDocument(ctx, "firm-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, stored.Status)
	assert.True(t, stored.OCRProcessed)
	assert.Equal(t, types.MethodImageOCR, stored.OCRMethod)
	assert.True(t, stored.IsSearchable)
	assert.Equal(t, 1, stored.PagesProcessed)
	assert.Contains(t, stored.OCRText, "poder notarial")

	assert.True(t, stored.AIProcessed)
	assert.Equal(t, "contract", stored.AICategory)
	assert.Equal(t, 1, fix.vectors.count(), "recognized text must be embedded")

	job := fix.jobs.only()
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)

	handled, err = fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, handled, "queue must be drained")
}

func TestPipelineRetryableFailureBacksOff(t *testing.T) {
	fix := newPipelineFixture(t)
	fix.engine.fallback = &fakePage{err: errors.New("engine crashed")}
	ctx := context.Background()

	doc, err := fix.pipeline.EnqueueDocument(ctx, "firm-1", writeTempImage(t, "scan.png"), "", "")
	require.NoError(t, err)

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	job := fix.jobs.only()
	assert.Equal(t, types.JobStatusPending, job.Status, "retryable failure releases the job")
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "engine crashed")

	now := time.Now().Unix()
	assert.Greater(t, job.LeaseUntil, now+50, "first retry waits about a minute")
	assert.LessOrEqual(t, job.LeaseUntil, now+70)

	stored, err := fix.docs.GetDocument(ctx, "firm-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.Contains(t, stored.OCRError, "engine crashed")

	handled, err = fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, handled, "leased job must stay invisible until the backoff passes")
}

func TestPipelineRateLimitFloorsBackoff(t *testing.T) {
	fix := newPipelineFixture(t)
	fix.embedder.failAll = &types.RateLimitError{Service: "openai", RetryAfter: 5 * time.Minute, Err: errors.New("429")}
	ctx := context.Background()

	doc, err := fix.pipeline.EnqueueDocument(ctx, "firm-1", writeTempImage(t, "scan.png"), "", "")
	require.NoError(t, err)

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	// OCR result is already durable even though embedding was throttled
	stored, err := fix.docs.GetDocument(ctx, "firm-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, stored.Status)
	assert.NotEmpty(t, stored.OCRText)

	job := fix.jobs.only()
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Greater(t, job.LeaseUntil, time.Now().Unix()+290, "retry-after must override the shorter exponential backoff")
}

func TestPipelineClassificationRateLimitRetriesJob(t *testing.T) {
	fix := newPipelineFixture(t)
	fix.class.err = &types.RateLimitError{Service: "openai", RetryAfter: 3 * time.Minute, Err: errors.New("429")}
	ctx := context.Background()

	doc, err := fix.pipeline.EnqueueDocument(ctx, "firm-1", writeTempImage(t, "scan.png"), "", "")
	require.NoError(t, err)

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	// text and vectors are durable; only the verdict is outstanding
	stored, err := fix.docs.GetDocument(ctx, "firm-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, stored.Status)
	assert.False(t, stored.AIProcessed)
	assert.Contains(t, stored.AIError, "rate limited")
	assert.Equal(t, 1, fix.vectors.count())

	job := fix.jobs.only()
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Greater(t, job.LeaseUntil, time.Now().Unix()+170, "retry-after floors the backoff")

	// once the provider recovers, the retry completes without re-embedding
	fix.class.err = nil
	embedCalls := fix.embedder.callCount()
	fix.jobs.expireLease(job.ID)

	handled, err = fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	stored, err = fix.docs.GetDocument(ctx, "firm-1", doc.ID)
	require.NoError(t, err)
	assert.True(t, stored.AIProcessed)
	assert.Equal(t, "contract", stored.AICategory)
	assert.Empty(t, stored.AIError)
	assert.Equal(t, embedCalls, fix.embedder.callCount(), "existing vectors must not be regenerated")
	assert.Equal(t, types.JobStatusCompleted, fix.jobs.only().Status)
}

func TestPipelineClassificationFailureDoesNotBlockCompletion(t *testing.T) {
	fix := newPipelineFixture(t)
	fix.class.err = errors.New("model unavailable")
	ctx := context.Background()

	doc, err := fix.pipeline.EnqueueDocument(ctx, "firm-1", writeTempImage(t, "scan.png"), "", "")
	require.NoError(t, err)

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	stored, err := fix.docs.GetDocument(ctx, "firm-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, stored.Status)
	assert.False(t, stored.AIProcessed)
	assert.Equal(t, "model unavailable", stored.AIError)

	assert.Equal(t, types.JobStatusCompleted, fix.jobs.only().Status,
		"a broken classifier must not hold OCR and embedding hostage")
}

func TestPipelineFatalErrorRetiresJob(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	// a job pointing at an unsupported file can only come from a stale queue
	// entry; the worker must retire it instead of retrying forever
	doc := &types.Document{ID: "doc-1", FirmID: "firm-1", Filename: "notes.docx", FilePath: "notes.docx"}
	require.NoError(t, fix.docs.CreateDocument(ctx, doc))
	require.NoError(t, fix.jobs.Enqueue(ctx, &types.OCRJob{ID: "job-1", FirmID: "firm-1", DocumentID: "doc-1", FilePath: "notes.docx"}))

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	job := fix.jobs.get("job-1")
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "fatal errors must not burn retries")

	stored, err := fix.docs.GetDocument(ctx, "firm-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)

	handled, err = fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestPipelineMissingDocumentIsFatal(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, fix.jobs.Enqueue(ctx, &types.OCRJob{ID: "job-1", FirmID: "firm-1", DocumentID: "ghost"}))

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	assert.Equal(t, types.JobStatusFailed, fix.jobs.get("job-1").Status)
}

func TestPipelineExhaustedAttemptsRetire(t *testing.T) {
	fix := newPipelineFixture(t)
	fix.engine.fallback = &fakePage{err: errors.New("engine crashed")}
	ctx := context.Background()

	_, err := fix.pipeline.EnqueueDocument(ctx, "firm-1", writeTempImage(t, "scan.png"), "", "")
	require.NoError(t, err)
	jobID := fix.jobs.only().ID

	for attempt := 1; attempt <= 3; attempt++ {
		handled, err := fix.pipeline.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, handled, "attempt %d", attempt)
		fix.jobs.expireLease(jobID)
	}

	job := fix.jobs.get(jobID)
	assert.Equal(t, types.JobStatusFailed, job.Status, "third failure exhausts the attempt budget")
	assert.Equal(t, 3, job.Attempts)

	handled, err := fix.pipeline.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestEnqueueDocumentRejectsUnsupported(t *testing.T) {
	fix := newPipelineFixture(t)

	path := filepath.Join(t.TempDir(), "notes.docx")
	require.NoError(t, os.WriteFile(path, []byte("word doc"), 0644))

	_, err := fix.pipeline.EnqueueDocument(context.Background(), "firm-1", path, "", "")
	assert.True(t, types.IsUnsupportedFormat(err))
}

func TestEnqueueDirectorySkipsUnsupported(t *testing.T) {
	fix := newPipelineFixture(t)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.docx"), []byte("doc"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	docs, err := fix.pipeline.EnqueueDirectory(ctx, "firm-1", dir, "case-1", "ana")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "scan.png", docs[0].Filename)
	assert.Equal(t, "case-1", docs[0].CaseID)
}

func TestPipelineRunStopsOnCancel(t *testing.T) {
	fix := newPipelineFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fix.pipeline.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	assert.Equal(t, time.Minute, retryBackoff(0))
	assert.Equal(t, time.Minute, retryBackoff(1))
	assert.Equal(t, 2*time.Minute, retryBackoff(2))
	assert.Equal(t, 4*time.Minute, retryBackoff(3))
}
