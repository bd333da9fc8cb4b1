// Package imagegen turns IMAGE_PROMPT stimuli into generated images, either
// one request at a time or through a deferred batch job.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/abhisek/apgen/internal/llm"
)

// DefaultModel is the image model used for realtime generation.
const DefaultModel = "gemini-2.5-flash-image"

// ErrNoImage is returned when the model answered without any image part.
var ErrNoImage = errors.New("response contained no image")

// Generator produces image bytes for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, error)
}

// GeminiGenerator generates images with a Gemini image model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini image generator. An empty model
// selects DefaultModel.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	}
	if aspectRatio != "" {
		config.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return nil, llm.ClassifyGeminiError(err)
	}

	for _, cand := range result.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, ErrNoImage
}

// Limited bounds a Generator with a concurrency cap, a fixed spacing
// between request starts, and the shared retry policy.
type Limited struct {
	inner   Generator
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	retry   llm.RetryConfig
}

// DefaultRetry is the image retry policy: 3 attempts, 1s doubling.
func DefaultRetry() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Second,
		MaxWait:     8 * time.Second,
		Multiplier:  2,
	}
}

// NewLimited wraps inner. concurrency <= 0 means 1; spacing <= 0 disables
// the inter-request delay.
func NewLimited(inner Generator, concurrency int, spacing time.Duration, retry llm.RetryConfig) *Limited {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Limited{
		inner:   inner,
		sem:     semaphore.NewWeighted(int64(max(concurrency, 1))),
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
	}
}

func (l *Limited) Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	var data []byte
	err := llm.Retry(ctx, l.retry, func(ctx context.Context) error {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		data, err = l.inner.Generate(ctx, prompt, aspectRatio)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
