package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the text model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// geminiModels maps friendly names to Gemini model IDs.
var geminiModels = map[string]string{
	"gemini-flash": "gemini-2.5-flash",
	"gemini-pro":   "gemini-2.5-pro",
	"gemini-lite":  "gemini-2.5-flash-lite",
}

// GeminiProvider implements Provider using the Google Gemini SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{client: client, model: resolveModel(model, geminiModels)}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), geminiConfig(req))
	if err != nil {
		return nil, mapGeminiError(err)
	}
	return geminiResponse(p.model, result)
}

func (p *GeminiProvider) ModelID() string {
	return p.model
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return config
}

// geminiResponse converts a GenerateContent result. A blocked prompt or a
// safety stop becomes ErrBlocked; a reply with no text becomes
// ErrEmptyResponse.
func geminiResponse(model string, result *genai.GenerateContentResponse) (*Response, error) {
	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, &ErrBlocked{Reason: string(fb.BlockReason)}
	}

	stop := StopEnd
	if len(result.Candidates) > 0 {
		switch result.Candidates[0].FinishReason {
		case genai.FinishReasonMaxTokens:
			stop = StopMaxTokens
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			stop = StopFiltered
		}
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		if stop == StopFiltered {
			return nil, &ErrBlocked{Reason: string(result.Candidates[0].FinishReason)}
		}
		return nil, &ErrEmptyResponse{Model: model}
	}

	resp := &Response{Text: text, Model: model, StopReason: stop}
	if result.ModelVersion != "" {
		resp.Model = result.ModelVersion
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return resp, nil
}

func mapGeminiError(err error) error {
	// The SDK returns APIError by value; older paths wrapped a pointer.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(apiErrPtr.Code, err)
	}
	return &ErrProviderUnavailable{Err: err}
}

// ClassifyGeminiError maps a genai error onto the typed provider errors.
// Image and batch callers use it so they share the retry classification.
func ClassifyGeminiError(err error) error {
	if err == nil {
		return nil
	}
	return mapGeminiError(err)
}
