package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/casefile-ai/docproc-be/types"
)

// classificationExcerptChars caps how much recognized text goes to the chat
// model; the opening pages identify a legal document reliably.
const classificationExcerptChars = 10000

// defaultRetryAfter is used when a provider rate-limits us without saying
// for how long.
const defaultRetryAfter = 30 * time.Second

var systemMessageClassifier = openai.ChatCompletionMessage{
	Role: openai.ChatMessageRoleSystem,
	Content: "You are a legal document analyst. Classify the document into exactly one category from: " +
		strings.Join(types.DocumentCategories, ", ") +
		". Respond with a single JSON object {\"category\": string, \"summary\": string, \"confidence\": number in [0,1]} and nothing else. Keep the summary under two sentences, in the document's language.",
}

// OpenAIService provides embeddings and document classification through an
// OpenAI-compatible endpoint. BaseURL may point at any server speaking the
// same API.
type OpenAIService struct {
	client     *openai.Client
	model      string
	chatModel  string
	dimensions int
}

func NewOpenAIService(baseURL, apiKey, model, chatModel string, dimensions int) *OpenAIService {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIService{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		chatModel:  chatModel,
		dimensions: dimensions,
	}
}

func (s *OpenAIService) Model() string   { return s.model }
func (s *OpenAIService) Dimensions() int { return s.dimensions }

// Embed generates one embedding vector for text.
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	})
	if err != nil {
		return nil, wrapOpenAIError("openai embeddings", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// Classify sends the opening excerpt to the chat model and parses the JSON
// verdict.
func (s *OpenAIService) Classify(ctx context.Context, text string) (*types.Classification, error) {
	excerpt := text
	if len(excerpt) > classificationExcerptChars {
		excerpt = excerpt[:classificationExcerptChars]
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.chatModel,
		Messages: []openai.ChatCompletionMessage{
			systemMessageClassifier,
			{Role: openai.ChatMessageRoleUser, Content: excerpt},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, wrapOpenAIError("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no classification generated")
	}

	var c types.Classification
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &c); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if c.Category == "" {
		return nil, errors.New("classification missing category")
	}
	return &c, nil
}

// wrapOpenAIError maps provider 429s onto RateLimitError so callers can
// back off without knowing the client library.
func wrapOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &types.RateLimitError{Service: "openai", RetryAfter: defaultRetryAfter, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
