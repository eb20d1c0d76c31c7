package service

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/casefile-ai/docproc-be/types"
)

const (
	DefaultReservoirSize = 1000
	maxRateLimitEvents   = 1000
)

// metricShard aggregates one operation type under its own lock, so
// recording an OCR page never contends with recording an embedding call.
type metricShard struct {
	mu        sync.Mutex
	limit     int
	total     uint64
	success   uint64
	failed    uint64
	sum       float64 // seconds, over all calls
	min       float64
	max       float64
	reservoir []float64 // successful-call latencies, seconds
	errCounts map[string]uint64

	p50, p95, p99 float64
	dirty         bool
}

// MetricsService aggregates per-operation latency and outcome counters in
// bounded memory: O(1) counters plus a fixed-size random-replacement
// reservoir of successful latencies per operation. Percentiles are computed
// lazily, on snapshot, and cached behind a dirty flag.
type MetricsService struct {
	mu            sync.RWMutex
	shards        map[types.OperationType]*metricShard
	reservoirSize int

	rlMu     sync.Mutex
	rlEvents []types.RateLimitEvent
}

func NewMetricsService(reservoirSize int) *MetricsService {
	if reservoirSize <= 0 {
		reservoirSize = DefaultReservoirSize
	}
	return &MetricsService{
		shards:        make(map[types.OperationType]*metricShard),
		reservoirSize: reservoirSize,
	}
}

func (m *MetricsService) shard(op types.OperationType) *metricShard {
	m.mu.RLock()
	s, ok := m.shards[op]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.shards[op]; ok {
		return s
	}
	s = &metricShard{
		limit:     m.reservoirSize,
		min:       math.Inf(1),
		reservoir: make([]float64, 0, m.reservoirSize),
		errCounts: make(map[string]uint64),
	}
	m.shards[op] = s
	return s
}

// RecordLatency records one call of the given operation type. Sum, min and
// max cover every call; only successful latencies enter the reservoir. Once
// the reservoir is full, a new sample overwrites a uniformly random slot.
func (m *MetricsService) RecordLatency(op types.OperationType, d time.Duration, err error) {
	s := m.shard(op)
	secs := d.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.sum += secs
	if secs < s.min {
		s.min = secs
	}
	if secs > s.max {
		s.max = secs
	}
	if err != nil {
		s.failed++
		s.errCounts[types.ErrorKind(err)]++
		return
	}
	s.success++
	if len(s.reservoir) < s.limit {
		s.reservoir = append(s.reservoir, secs)
	} else {
		s.reservoir[rand.Intn(s.limit)] = secs
	}
	s.dirty = true
}

// Measure runs fn and records its duration under op.
func (m *MetricsService) Measure(op types.OperationType, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordLatency(op, time.Since(start), err)
	return err
}

func (m *MetricsService) RecordCacheHit()  { m.RecordLatency(types.OpCacheHit, 0, nil) }
func (m *MetricsService) RecordCacheMiss() { m.RecordLatency(types.OpCacheMiss, 0, nil) }

// RecordRateLimitEvent keeps a rolling window of the most recent rate-limit
// responses from upstream providers.
func (m *MetricsService) RecordRateLimitEvent(service, message string, retryAfter time.Duration) {
	m.rlMu.Lock()
	defer m.rlMu.Unlock()
	m.rlEvents = append(m.rlEvents, types.RateLimitEvent{
		Timestamp:  time.Now(),
		Service:    service,
		Message:    message,
		RetryAfter: retryAfter,
	})
	if len(m.rlEvents) > maxRateLimitEvents {
		m.rlEvents = m.rlEvents[len(m.rlEvents)-maxRateLimitEvents:]
	}
}

// RateLimitEvents returns events recorded at or after since, oldest first.
// A positive limit keeps only the most recent limit events; limit <= 0
// returns everything in the window.
func (m *MetricsService) RateLimitEvents(since time.Time, limit int) []types.RateLimitEvent {
	m.rlMu.Lock()
	defer m.rlMu.Unlock()
	out := make([]types.RateLimitEvent, 0, len(m.rlEvents))
	for _, ev := range m.rlEvents {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Snapshot returns the current aggregate for one operation type.
func (m *MetricsService) Snapshot(op types.OperationType) *types.MetricsSnapshot {
	m.mu.RLock()
	s, ok := m.shards[op]
	m.mu.RUnlock()
	if !ok {
		return &types.MetricsSnapshot{Operation: op}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(op)
}

// SnapshotAll returns aggregates for every recorded operation type, ordered
// by operation name so exports are stable.
func (m *MetricsService) SnapshotAll() []*types.MetricsSnapshot {
	m.mu.RLock()
	ops := make([]types.OperationType, 0, len(m.shards))
	for op := range m.shards {
		ops = append(ops, op)
	}
	m.mu.RUnlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	snaps := make([]*types.MetricsSnapshot, 0, len(ops))
	for _, op := range ops {
		snaps = append(snaps, m.Snapshot(op))
	}
	return snaps
}

func (s *metricShard) snapshotLocked(op types.OperationType) *types.MetricsSnapshot {
	s.recomputePercentiles()
	snap := &types.MetricsSnapshot{
		Operation:       op,
		TotalCalls:      s.total,
		SuccessfulCalls: s.success,
		FailedCalls:     s.failed,
		ReservoirSize:   len(s.reservoir),
	}
	if s.total > 0 {
		snap.SuccessRate = round2(float64(s.success) / float64(s.total) * 100)
		min := s.min
		if math.IsInf(min, 1) {
			min = 0
		}
		snap.Latency = types.LatencyStats{
			Avg: round3(s.sum / float64(s.total)),
			Min: round3(min),
			Max: round3(s.max),
			P50: round3(s.p50),
			P95: round3(s.p95),
			P99: round3(s.p99),
		}
	}
	if len(s.errCounts) > 0 {
		snap.ErrorCounts = make(map[string]uint64, len(s.errCounts))
		for k, v := range s.errCounts {
			snap.ErrorCounts[k] = v
		}
	}
	return snap
}

func (s *metricShard) recomputePercentiles() {
	if !s.dirty {
		return
	}
	n := len(s.reservoir)
	if n == 0 {
		s.p50, s.p95, s.p99 = 0, 0, 0
		s.dirty = false
		return
	}
	sorted := make([]float64, n)
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)
	s.p50 = sorted[percentileIndex(n, 0.50)]
	s.p95 = sorted[percentileIndex(n, 0.95)]
	s.p99 = sorted[percentileIndex(n, 0.99)]
	s.dirty = false
}

func percentileIndex(n int, q float64) int {
	idx := int(float64(n) * q)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// CompareLatency returns avg(b)/avg(a): how many times faster operation a
// runs than operation b. Zero when either side has no calls yet.
func (m *MetricsService) CompareLatency(a, b types.OperationType) float64 {
	sa, sb := m.Snapshot(a), m.Snapshot(b)
	if sa.TotalCalls == 0 || sb.TotalCalls == 0 || sa.Latency.Avg == 0 {
		return 0
	}
	return round2(sb.Latency.Avg / sa.Latency.Avg)
}

// Reset discards all state for one operation type.
func (m *MetricsService) Reset(op types.OperationType) {
	m.mu.Lock()
	delete(m.shards, op)
	m.mu.Unlock()
}

// ResetAll discards every shard and the rate-limit window.
func (m *MetricsService) ResetAll() {
	m.mu.Lock()
	m.shards = make(map[types.OperationType]*metricShard)
	m.mu.Unlock()

	m.rlMu.Lock()
	m.rlEvents = nil
	m.rlMu.Unlock()
}

// ExportFlatFormat renders every operation type as flat Prometheus-style
// text with millisecond timestamps, for file export or scraping.
func (m *MetricsService) ExportFlatFormat() string {
	snaps := m.SnapshotAll()
	ts := time.Now().UnixMilli()

	var b strings.Builder
	for _, snap := range snaps {
		prefix := "docproc_" + string(snap.Operation)
		fmt.Fprintf(&b, "# TYPE %s_calls counter\n", prefix)
		fmt.Fprintf(&b, "%s_calls_total %d %d\n", prefix, snap.TotalCalls, ts)
		fmt.Fprintf(&b, "%s_calls_success %d %d\n", prefix, snap.SuccessfulCalls, ts)
		fmt.Fprintf(&b, "%s_calls_failed %d %d\n", prefix, snap.FailedCalls, ts)
		if snap.TotalCalls > 0 {
			fmt.Fprintf(&b, "%s_latency_seconds_avg %.3f %d\n", prefix, snap.Latency.Avg, ts)
			fmt.Fprintf(&b, "%s_latency_seconds{quantile=\"0.5\"} %.3f %d\n", prefix, snap.Latency.P50, ts)
			fmt.Fprintf(&b, "%s_latency_seconds{quantile=\"0.95\"} %.3f %d\n", prefix, snap.Latency.P95, ts)
			fmt.Fprintf(&b, "%s_latency_seconds{quantile=\"0.99\"} %.3f %d\n", prefix, snap.Latency.P99, ts)
		}
	}
	return b.String()
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
