package types

import "time"

// OperationType identifies one instrumented pipeline stage.
type OperationType string

const (
	OpOCRDirect      OperationType = "ocr_direct"
	OpOCRParallel    OperationType = "ocr_parallel"
	OpOCRImage       OperationType = "ocr_image"
	OpEmbedding      OperationType = "embedding"
	OpEmbeddingBatch OperationType = "embedding_batch"
	OpClassification OperationType = "ai_classification"
	OpCacheHit       OperationType = "cache_hit"
	OpCacheMiss      OperationType = "cache_miss"
)

// LatencyStats are latency aggregates in seconds.
type LatencyStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// MetricsSnapshot is a point-in-time view of one operation type.
type MetricsSnapshot struct {
	Operation       OperationType     `json:"operation"`
	TotalCalls      uint64            `json:"total_calls"`
	SuccessfulCalls uint64            `json:"successful_calls"`
	FailedCalls     uint64            `json:"failed_calls"`
	SuccessRate     float64           `json:"success_rate_percent"`
	Latency         LatencyStats      `json:"latency_seconds"`
	ErrorCounts     map[string]uint64 `json:"error_distribution,omitempty"`
	ReservoirSize   int               `json:"reservoir_samples"`
}

// RateLimitEvent records one upstream 429 for backoff diagnostics.
type RateLimitEvent struct {
	Timestamp  time.Time     `json:"timestamp"`
	Service    string        `json:"service"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// CacheStats reports per-partition occupancy.
type CacheStats struct {
	EmbeddingEntries       int `json:"embedding_cache_size"`
	EmbeddingCapacity      int `json:"embedding_cache_max"`
	ClassificationEntries  int `json:"classification_cache_size"`
	ClassificationCapacity int `json:"classification_cache_max"`
}
