package service

import (
	"context"

	"github.com/casefile-ai/docproc-be/types"
)

// EmbeddingClient is the provider boundary for embedding generation. One
// call embeds one text; batching and caching live above the client.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}

// DocumentClassifier assigns a legal-document category and summary from
// recognized text.
type DocumentClassifier interface {
	Classify(ctx context.Context, text string) (*types.Classification, error)
}
