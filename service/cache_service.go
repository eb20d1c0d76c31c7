package service

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/casefile-ai/docproc-be/types"
)

// Cache sizing defaults. Embeddings dominate traffic, classifications are
// one per document.
const (
	DefaultCacheTTL                   = time.Hour
	DefaultEmbeddingCacheEntries      = 10000
	DefaultClassificationCacheEntries = 5000
)

// CacheKey hashes (model, text) so identical text under one model maps to a
// single fixed-size key regardless of text length.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// cachePartition is one LRU region with per-entry TTL, guarded by its own
// lock so embedding and classification traffic never contend. Expired
// entries are removed lazily on lookup. Both reads and writes refresh
// recency.
type cachePartition struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	ll    *list.List // front = most recently used
	items map[string]*list.Element
}

func newCachePartition(ttl time.Duration, max int) *cachePartition {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if max <= 0 {
		max = DefaultEmbeddingCacheEntries
	}
	return &cachePartition{
		ttl:   ttl,
		max:   max,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (p *cachePartition) get(key string) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		p.removeElement(el)
		return nil, false
	}
	p.ll.MoveToFront(el)
	return entry.value, true
}

func (p *cachePartition) set(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(p.ttl)
		p.ll.MoveToFront(el)
		return
	}
	for p.ll.Len() >= p.max {
		oldest := p.ll.Back()
		if oldest == nil {
			break
		}
		p.removeElement(oldest)
	}
	el := p.ll.PushFront(&cacheEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(p.ttl),
	})
	p.items[key] = el
}

func (p *cachePartition) invalidate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.items[key]; ok {
		p.removeElement(el)
	}
}

func (p *cachePartition) removeElement(el *list.Element) {
	p.ll.Remove(el)
	delete(p.items, el.Value.(*cacheEntry).key)
}

func (p *cachePartition) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ll.Len()
}

func (p *cachePartition) clearExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	removed := 0
	for el := p.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*cacheEntry).expiresAt) {
			p.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// CacheService holds embedding vectors and document classifications in two
// independent partitions. A miss is ordinary control flow, never an error;
// the durable stores stay the source of truth.
type CacheService struct {
	embeddings      *cachePartition
	classifications *cachePartition
}

func NewCacheService(ttl time.Duration, maxEmbeddings, maxClassifications int) *CacheService {
	if maxClassifications <= 0 {
		maxClassifications = DefaultClassificationCacheEntries
	}
	return &CacheService{
		embeddings:      newCachePartition(ttl, maxEmbeddings),
		classifications: newCachePartition(ttl, maxClassifications),
	}
}

// GetEmbedding returns the cached vector for (model, text), refreshing its
// recency.
func (s *CacheService) GetEmbedding(model, text string) ([]float32, bool) {
	v, ok := s.embeddings.get(CacheKey(model, text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (s *CacheService) SetEmbedding(model, text string, vector []float32) {
	s.embeddings.set(CacheKey(model, text), vector)
}

// GetClassification returns the cached classification for a document key,
// usually the document ID.
func (s *CacheService) GetClassification(model, documentKey string) (*types.Classification, bool) {
	v, ok := s.classifications.get(CacheKey(model, documentKey))
	if !ok {
		return nil, false
	}
	c, ok := v.(*types.Classification)
	return c, ok
}

func (s *CacheService) SetClassification(model, documentKey string, c *types.Classification) {
	s.classifications.set(CacheKey(model, documentKey), c)
}

func (s *CacheService) InvalidateClassification(model, documentKey string) {
	s.classifications.invalidate(CacheKey(model, documentKey))
}

// ClearExpired sweeps both partitions and reports how many entries it
// evicted. Lookup already expires lazily; this exists for periodic
// housekeeping.
func (s *CacheService) ClearExpired() int {
	return s.embeddings.clearExpired() + s.classifications.clearExpired()
}

func (s *CacheService) Stats() types.CacheStats {
	return types.CacheStats{
		EmbeddingEntries:       s.embeddings.len(),
		EmbeddingCapacity:      s.embeddings.max,
		ClassificationEntries:  s.classifications.len(),
		ClassificationCapacity: s.classifications.max,
	}
}
