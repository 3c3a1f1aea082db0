package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
)

// OllamaClient streams completions from an Ollama server. Prompts with images
// go to /api/chat, text-only prompts to /api/generate.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	retry      *RetryConfig
	logger     *observability.Logger
}

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is used when a prompt names none.
	Model string

	// Timeout bounds a whole request including the streamed body. Zero means
	// no limit, which suits long vision generations.
	Timeout time.Duration

	Retry  *RetryConfig
	Logger *observability.Logger
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ollamaChunk covers both chat and generate stream lines.
type ollamaChunk struct {
	Message  *ollamaMessage `json:"message,omitempty"`
	Response string         `json:"response"`
	Done     bool           `json:"done"`
	Error    string         `json:"error,omitempty"`
	Status   string         `json:"status,omitempty"`
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}

	return &OllamaClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
		logger:     cfg.Logger.WithOperation("ollama"),
	}
}

// Model returns the default model.
func (c *OllamaClient) Model() string {
	return c.model
}

// Stream sends p and writes every content chunk to out.
func (c *OllamaClient) Stream(ctx context.Context, p Prompt, out chan<- string) error {
	model := p.Model
	if model == "" {
		model = c.model
	}

	var (
		path string
		body any
	)
	if len(p.Images) > 0 {
		path = "/api/chat"
		body = c.chatRequest(model, p)
	} else {
		path = "/api/generate"
		body = ollamaGenerateRequest{Model: model, Prompt: p.Text, System: p.System, Stream: true}
	}

	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return domain.APIError("failed to decode ollama stream", err)
		}
		if chunk.Error != "" {
			return domain.APIError(fmt.Sprintf("ollama error: %s", chunk.Error), nil)
		}

		content := chunk.Response
		if chunk.Message != nil {
			content = chunk.Message.Content
		}
		if content != "" {
			if err := send(ctx, out, content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

// Generate returns the whole completion for p.
func (c *OllamaClient) Generate(ctx context.Context, p Prompt) (string, error) {
	return Collect(ctx, c, p, nil)
}

// Pull downloads model onto the Ollama server and waits for completion.
func (c *OllamaClient) Pull(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return domain.ValidationError("model is required", nil)
	}

	resp, err := c.post(ctx, "/api/pull", ollamaPullRequest{Model: model, Stream: false})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var status ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return domain.APIError("failed to decode pull response", err)
	}
	if status.Error != "" {
		return domain.APIError(fmt.Sprintf("ollama pull %s: %s", model, status.Error), nil)
	}

	c.logger.Info().Str("model", model).Str("status", status.Status).Msg("Model pulled")
	return nil
}

func (c *OllamaClient) chatRequest(model string, p Prompt) ollamaChatRequest {
	var messages []ollamaMessage
	if p.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: p.System})
	}

	images := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, base64.StdEncoding.EncodeToString(img))
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: p.Text, Images: images})

	return ollamaChatRequest{Model: model, Messages: messages, Stream: true}
}

func (c *OllamaClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.APIError("failed to marshal request", err)
	}

	resp, err := retryWithBackoff(ctx, c.retry, c.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, domain.APIError(fmt.Sprintf("ollama request %s failed", path), err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, domain.APIError(fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))), nil)
	}
	return resp, nil
}
