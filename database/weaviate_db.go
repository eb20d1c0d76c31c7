package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casefile-ai/docproc-be/config"
	"github.com/casefile-ai/docproc-be/types"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const BATCH_SIZE = 200

var (
	CHUNK_CLASS        = "DocumentChunk"
	CHUNK_CLASS_OBJECT = &models.Class{
		Class: CHUNK_CLASS,
		Properties: []*models.Property{
			{Name: "firmId", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "model", DataType: []string{"text"}},
			{Name: "createdAt", DataType: []string{"int"}},
		},
		// Vectors are computed by the embedding pipeline, not by Weaviate.
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
	}
)

// WeaviateStore implements VectorStore on a Weaviate instance.
type WeaviateStore struct {
	client *weaviate.Client
}

func NewWeaviateStore(cfg config.WeaviateConfig) (*WeaviateStore, error) {
	var scheme string
	if strings.Contains(cfg.Host, "https") {
		scheme = "https"
	} else {
		scheme = "http"
	}
	host := strings.TrimPrefix(cfg.Host, scheme+"://")
	wcfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{
			Value: cfg.APIKey,
		}
		wcfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     cfg.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	schema, err := client.Schema().Getter().Do(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	hasChunkClass := false
	for _, class := range schema.Classes {
		if class.Class == CHUNK_CLASS {
			hasChunkClass = true
			break
		}
	}
	if !hasChunkClass {
		err = client.Schema().ClassCreator().WithClass(CHUNK_CLASS_OBJECT).Do(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to create %s class: %w", CHUNK_CLASS, err)
		}
	}
	return &WeaviateStore{
		client: client,
	}, nil
}

// ReInit drops and recreates the chunk class. All stored vectors are lost.
func (s *WeaviateStore) ReInit() error {
	err := s.client.Schema().ClassDeleter().WithClassName(CHUNK_CLASS).Do(context.Background())
	if err != nil {
		return fmt.Errorf("failed to delete %s class: %w", CHUNK_CLASS, err)
	}

	err = s.client.Schema().ClassCreator().WithClass(CHUNK_CLASS_OBJECT).Do(context.Background())
	if err != nil {
		return fmt.Errorf("failed to create %s class: %w", CHUNK_CLASS, err)
	}
	return nil
}

func chunkProperties(c *types.ChunkEmbedding) map[string]interface{} {
	return map[string]interface{}{
		"firmId":     c.FirmID,
		"documentId": c.DocumentID,
		"chunkIndex": c.ChunkIndex,
		"content":    c.Content,
		"model":      c.Model,
		"createdAt":  c.CreatedAt,
	}
}

func (s *WeaviateStore) InsertChunks(ctx context.Context, chunks []types.ChunkEmbedding) error {
	total := len(chunks)
	for i := 0; i < total; i += BATCH_SIZE {
		end := i + BATCH_SIZE
		if end > total {
			end = total
		}

		batcher := s.client.Batch().ObjectsBatcher()
		for j := i; j < end; j++ {
			batcher = batcher.WithObjects(&models.Object{
				Class:      CHUNK_CLASS,
				Properties: chunkProperties(&chunks[j]),
				Vector:     chunks[j].Vector,
			})
		}

		if _, err := batcher.Do(ctx); err != nil {
			return fmt.Errorf("failed to insert chunk batch %d-%d: %w", i, end, err)
		}
		slog.Debug("inserted chunk batch", "from", i, "to", end, "total", total)
	}
	return nil
}

func documentFilter(firmID, documentID string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"firmId"}).WithOperator(filters.Equal).WithValueText(firmID),
			filters.Where().WithPath([]string{"documentId"}).WithOperator(filters.Equal).WithValueText(documentID),
		})
}

func (s *WeaviateStore) DeleteByDocument(ctx context.Context, firmID, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(CHUNK_CLASS).
		WithWhere(documentFilter(firmID, documentID)).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

func (s *WeaviateStore) CountByDocument(ctx context.Context, firmID, documentID string) (int, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(CHUNK_CLASS).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		WithWhere(documentFilter(firmID, documentID)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for document %s: %w", documentID, err)
	}
	if result.Errors != nil {
		return 0, fmt.Errorf("chunk count failed: %v", result.Errors[0].Message)
	}

	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	entries, ok := agg[CHUNK_CLASS].([]interface{})
	if !ok || len(entries) == 0 {
		return 0, nil
	}
	entry, ok := entries[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := entry["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, ok := meta["count"].(float64)
	if !ok {
		return 0, nil
	}
	return int(count), nil
}

func (s *WeaviateStore) SearchSimilar(ctx context.Context, firmID string, vector []float32, limit int) ([]types.ChunkMatch, error) {
	fields := []graphql.Field{
		{Name: "firmId"},
		{Name: "documentId"},
		{Name: "chunkIndex"},
		{Name: "content"},
		{Name: "model"},
		{Name: "createdAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	where := filters.Where().
		WithPath([]string{"firmId"}).
		WithOperator(filters.Equal).
		WithValueText(firmID)

	getBuilder := s.client.GraphQL().Get().
		WithClassName(CHUNK_CLASS).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithWhere(where)
	if limit > 0 {
		getBuilder = getBuilder.WithLimit(limit)
	}

	result, err := getBuilder.Do(ctx)
	if err != nil {
		return nil, err
	}
	if result.Errors != nil {
		return nil, fmt.Errorf("search failed: %v", result.Errors[0].Message)
	}

	var matches []types.ChunkMatch
	if data, ok := result.Data["Get"].(map[string]interface{})[CHUNK_CLASS].([]interface{}); ok {
		for _, item := range data {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			match := types.ChunkMatch{
				ChunkEmbedding: types.ChunkEmbedding{
					FirmID:     asString(obj["firmId"]),
					DocumentID: asString(obj["documentId"]),
					ChunkIndex: int(asFloat(obj["chunkIndex"])),
					Content:    asString(obj["content"]),
					Model:      asString(obj["model"]),
					CreatedAt:  int64(asFloat(obj["createdAt"])),
				},
			}
			if additional, ok := obj["_additional"].(map[string]interface{}); ok {
				match.Distance = asFloat(additional["distance"])
			}
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
