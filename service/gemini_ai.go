package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/casefile-ai/docproc-be/types"
)

// GeminiService generates embeddings through Google AI. Free-tier keys are
// rate limited aggressively, so the service holds several keys and rotates
// to the next on failure, retrying the call once.
type GeminiService struct {
	apiKeys    []string
	currentKey int
	client     *genai.Client
	modelName  string
	dimensions int
	mu         sync.Mutex
}

func NewGeminiService(apiKeys []string, modelName string, dimensions int) (*GeminiService, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("no API keys provided")
	}

	s := &GeminiService{
		apiKeys:    apiKeys,
		modelName:  modelName,
		dimensions: dimensions,
	}
	if err := s.initClient(); err != nil {
		return nil, err
	}
	return s, nil
}

// initClient connects with the current key. Callers hold s.mu when the
// service is already shared.
func (s *GeminiService) initClient() error {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(s.apiKeys[s.currentKey]))
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

func (s *GeminiService) rotateAPIKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentKey = (s.currentKey + 1) % len(s.apiKeys)
	if err := s.client.Close(); err != nil {
		return err
	}
	return s.initClient()
}

func (s *GeminiService) Model() string   { return s.modelName }
func (s *GeminiService) Dimensions() int { return s.dimensions }

// Embed generates one embedding vector for text. On failure the key is
// rotated and the call retried once before the error surfaces.
func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedOnce(ctx, text)
	if err == nil {
		return vec, nil
	}
	if rotErr := s.rotateAPIKey(); rotErr != nil {
		return nil, rotErr
	}
	vec, err = s.embedOnce(ctx, text)
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	return vec, nil
}

func (s *GeminiService) embedOnce(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	em := s.client.EmbeddingModel(s.modelName)
	s.mu.Unlock()

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("gemini returned no embedding values")
	}
	return res.Embedding.Values, nil
}

// Close releases the underlying client.
func (s *GeminiService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func wrapGeminiError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return &types.RateLimitError{Service: "gemini", RetryAfter: defaultRetryAfter, Err: err}
	}
	return fmt.Errorf("gemini embeddings: %w", err)
}
