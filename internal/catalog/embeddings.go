package catalog

import (
	"context"
	"fmt"
	"time"

	openailib "github.com/sashabaranov/go-openai"

	"mcpmux/pkg/logging"
)

// EmbeddingsProvider produces a query embedding vector compatible with the
// catalog's stored embeddings (ada-002 class, fixed length).
type EmbeddingsProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// maxEmbeddingRetries bounds the retry loop on transient embeddings-API
// failures (rate limits, brief outages).
const maxEmbeddingRetries = 2

// OpenAIEmbeddings calls the OpenAI embeddings API for query vectors.
type OpenAIEmbeddings struct {
	client *openailib.Client
	model  openailib.EmbeddingModel
}

// NewOpenAIEmbeddings creates a provider using apiKey. Returns nil if apiKey
// is empty, signaling callers to fall back to keyword scoring.
func NewOpenAIEmbeddings(apiKey string) *OpenAIEmbeddings {
	if apiKey == "" {
		return nil
	}
	return &OpenAIEmbeddings{
		client: openailib.NewClient(apiKey),
		model:  openailib.AdaEmbeddingV2,
	}
}

// Embed returns the embedding vector for text, retrying transient failures
// with linear backoff before surfacing an error (which triggers the
// keyword-fallback search path upstream).
func (o *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= maxEmbeddingRetries; attempt++ {
		resp, err := o.client.CreateEmbeddings(ctx, openailib.EmbeddingRequest{
			Input: []string{text},
			Model: o.model,
		})
		if err == nil && len(resp.Data) > 0 {
			return resp.Data[0].Embedding, nil
		}

		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("embeddings API returned no data")
		}
		logging.Warn("catalog", "embedding attempt %d failed: %v", attempt+1, lastErr)

		if attempt == maxEmbeddingRetries {
			break
		}

		wait := time.Duration(attempt+1) * time.Second
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embed query: %w", lastErr)
}
