package imagegen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/llm"
	"github.com/abhisek/apgen/internal/problemgen"
)

// DefaultBatchModel is the image model used for deferred batch jobs.
const DefaultBatchModel = "gemini-3-pro-image-preview"

// ItemRequest is one image request of a batch job, tied back to the item
// it belongs to within its set.
type ItemRequest struct {
	Key       string `json:"key"`
	Prompt    string `json:"prompt"`
	ItemIndex int    `json:"item_index"`
}

// RequestKey is the batch key of item q (0-based) in set setIndex (0-based).
// Keys are unique within one unit.
func RequestKey(unit course.Unit, setIndex, q int) string {
	return fmt.Sprintf("u%d_s%d_q%d", unit.Number(), setIndex+1, q+1)
}

// Collect builds the image requests for every item of a set whose stimulus
// needs an image.
func Collect(unit course.Unit, setIndex int, items []problemgen.Item) []ItemRequest {
	var reqs []ItemRequest
	for i, it := range items {
		if !it.Base().Stimulus.NeedsImage() {
			continue
		}
		reqs = append(reqs, ItemRequest{
			Key:       RequestKey(unit, setIndex, i),
			Prompt:    EnhancePrompt(unit.CourseName, it),
			ItemIndex: i,
		})
	}
	return reqs
}

// JobState is the provider-reported state of a batch job.
type JobState string

const (
	JobPending   JobState = "JOB_STATE_PENDING"
	JobRunning   JobState = "JOB_STATE_RUNNING"
	JobSucceeded JobState = "JOB_STATE_SUCCEEDED"
	JobFailed    JobState = "JOB_STATE_FAILED"
	JobCancelled JobState = "JOB_STATE_CANCELLED"
	JobExpired   JobState = "JOB_STATE_EXPIRED"
)

// Terminal reports whether the job will not change state again.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// Submission identifies a submitted batch job and its input artifacts.
type Submission struct {
	JobName      string
	UploadedFile string
	JSONLPath    string
}

// BatchClient submits and tracks deferred image jobs.
type BatchClient interface {
	Submit(ctx context.Context, label string, reqs []ItemRequest) (Submission, error)
	State(ctx context.Context, jobName string) (JobState, error)

	// Results downloads a succeeded job's output and maps request key to
	// image bytes. Keys without an image are absent.
	Results(ctx context.Context, jobName string) (map[string][]byte, error)
}

// GeminiBatch runs image batch jobs on the Gemini Batch API.
type GeminiBatch struct {
	client   *genai.Client
	model    string
	jsonlDir string
	logger   *zap.Logger
}

// NewGeminiBatch creates a batch client. JSONL request files are written
// to jsonlDir before upload.
func NewGeminiBatch(ctx context.Context, apiKey, model, jsonlDir string, logger *zap.Logger) (*GeminiBatch, error) {
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
		model = DefaultBatchModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiBatch{client: client, model: model, jsonlDir: jsonlDir, logger: logger}, nil
}

func (b *GeminiBatch) Submit(ctx context.Context, label string, reqs []ItemRequest) (Submission, error) {
	path := filepath.Join(b.jsonlDir, label+".jsonl")
	if err := WriteJSONL(path, reqs); err != nil {
		return Submission{}, err
	}

	file, err := b.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		DisplayName: label + "-batch-requests",
		MIMEType:    "application/jsonl",
	})
	if err != nil {
		return Submission{}, fmt.Errorf("upload batch requests: %w", llm.ClassifyGeminiError(err))
	}

	job, err := b.client.Batches.Create(ctx, "models/"+b.model,
		&genai.BatchJobSource{FileName: file.Name},
		&genai.CreateBatchJobConfig{DisplayName: label},
	)
	if err != nil {
		return Submission{}, fmt.Errorf("create batch job: %w", llm.ClassifyGeminiError(err))
	}

	b.logger.Info("batch job submitted",
		zap.String("job", job.Name), zap.String("label", label), zap.Int("requests", len(reqs)))
	return Submission{JobName: job.Name, UploadedFile: file.Name, JSONLPath: path}, nil
}

func (b *GeminiBatch) State(ctx context.Context, jobName string) (JobState, error) {
	job, err := b.client.Batches.Get(ctx, jobName, nil)
	if err != nil {
		return "", llm.ClassifyGeminiError(err)
	}
	return JobState(job.State), nil
}

func (b *GeminiBatch) Results(ctx context.Context, jobName string) (map[string][]byte, error) {
	job, err := b.client.Batches.Get(ctx, jobName, nil)
	if err != nil {
		return nil, llm.ClassifyGeminiError(err)
	}
	if JobState(job.State) != JobSucceeded {
		return nil, fmt.Errorf("job %s not succeeded: %s", jobName, job.State)
	}
	if job.Dest == nil || job.Dest.FileName == "" {
		return nil, fmt.Errorf("job %s has no result file", jobName)
	}

	data, err := b.client.Files.Download(ctx, genai.NewDownloadURIFromFile(&genai.File{Name: job.Dest.FileName}), nil)
	if err != nil {
		return nil, fmt.Errorf("download results: %w", llm.ClassifyGeminiError(err))
	}
	return ParseResults(data, b.logger)
}

type jsonlPart struct {
	Text string `json:"text"`
}

type jsonlContent struct {
	Parts []jsonlPart `json:"parts"`
}

type jsonlGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type jsonlBody struct {
	Contents         []jsonlContent        `json:"contents"`
	GenerationConfig jsonlGenerationConfig `json:"generation_config"`
}

type jsonlRequest struct {
	Key     string    `json:"key"`
	Request jsonlBody `json:"request"`
}

// WriteJSONL writes one batch request line per item request.
func WriteJSONL(path string, reqs []ItemRequest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create jsonl dir: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range reqs {
		line := jsonlRequest{
			Key: r.Key,
			Request: jsonlBody{
				Contents:         []jsonlContent{{Parts: []jsonlPart{{Text: r.Prompt}}}},
				GenerationConfig: jsonlGenerationConfig{ResponseModalities: []string{"IMAGE"}},
			},
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode request %s: %w", r.Key, err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write jsonl: %w", err)
	}
	return nil
}

type jsonlResult struct {
	Key      string `json:"key"`
	Response *struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MIMEType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	} `json:"response"`
	Error json.RawMessage `json:"error"`
}

// ParseResults reads a batch result file. Lines that fail to parse or
// carry an error are logged and skipped.
func ParseResults(data []byte, logger *zap.Logger) (map[string][]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make(map[string][]byte)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var res jsonlResult
		if err := json.Unmarshal(line, &res); err != nil {
			logger.Warn("skip unparseable result line", zap.Error(err))
			continue
		}
		if res.Key == "" {
			continue
		}
		if res.Response == nil {
			if len(res.Error) > 0 {
				logger.Warn("batch request failed", zap.String("key", res.Key), zap.ByteString("error", res.Error))
			}
			continue
		}
		if len(res.Response.Candidates) == 0 {
			continue
		}

		for _, part := range res.Response.Candidates[0].Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			img, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				logger.Warn("bad image payload", zap.String("key", res.Key), zap.Error(err))
				break
			}
			out[res.Key] = img
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return out, nil
}
