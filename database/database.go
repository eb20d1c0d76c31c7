package database

import (
	"context"
	"errors"
	"time"

	"github.com/casefile-ai/docproc-be/types"
)

// ErrNotFound is returned by store lookups when no row matches. Callers use
// errors.Is; it is never wrapped in a typed pipeline error.
var ErrNotFound = errors.New("not found")

// DocumentStore persists Document rows. Every call carries the firm id:
// tenant isolation is enforced by filtering, never by trusting the caller.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, firmID, id string) (*types.Document, error)
	UpdateStatus(ctx context.Context, firmID, id string, status types.DocumentStatus) error
	UpdateOCRResult(ctx context.Context, firmID, id string, res *types.OCRResult) error
	MarkFailed(ctx context.Context, firmID, id string, cause string) error
	UpdateClassification(ctx context.Context, firmID, id string, c *types.Classification) error
	ClearClassification(ctx context.Context, firmID, id string) error
	SetClassificationError(ctx context.Context, firmID, id string, cause string) error
}

// VectorStore persists chunk embeddings and answers similarity queries.
type VectorStore interface {
	InsertChunks(ctx context.Context, chunks []types.ChunkEmbedding) error
	DeleteByDocument(ctx context.Context, firmID, documentID string) error
	CountByDocument(ctx context.Context, firmID, documentID string) (int, error)
	SearchSimilar(ctx context.Context, firmID string, vector []float32, limit int) ([]types.ChunkMatch, error)
}

// JobQueue hands out at-least-once pipeline jobs. ClaimNext must be atomic:
// a claimed job is invisible to other workers until its lease expires.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.OCRJob) error
	ClaimNext(ctx context.Context, lease time.Duration) (*types.OCRJob, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause string, retryIn time.Duration) error
}
