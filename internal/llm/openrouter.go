package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultOpenRouterModel = "google/gemini-2.5-flash-preview-09-2025"
)

// OpenRouterClient handles communication with the OpenRouter chat API.
type OpenRouterClient struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	retry      *RetryConfig
	logger     *observability.Logger
}

// OpenRouterConfig configures an OpenRouterClient.
type OpenRouterConfig struct {
	APIKey  string
	Model   string
	URL     string
	Timeout time.Duration
	Retry   *RetryConfig
	Logger  *observability.Logger
}

type openRouterMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type openRouterRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type openRouterResponse struct {
	ID      string             `json:"id"`
	Choices []openRouterChoice `json:"choices"`
}

type openRouterChoice struct {
	Delta        openRouterDelta `json:"delta"`
	Message      openRouterDelta `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type openRouterDelta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewOpenRouterClient fails without an API key.
func NewOpenRouterClient(cfg OpenRouterConfig) (*OpenRouterClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ConfigError("OPENROUTER_API_KEY is not set", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOpenRouterURL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}

	return &OpenRouterClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
		logger:     cfg.Logger.WithOperation("openrouter"),
	}, nil
}

// Model returns the default model.
func (c *OpenRouterClient) Model() string {
	return c.model
}

// Stream sends p and writes every content delta to out.
func (c *OpenRouterClient) Stream(ctx context.Context, p Prompt, out chan<- string) error {
	body, err := json.Marshal(c.buildRequest(p))
	if err != nil {
		return domain.APIError("failed to marshal request", err)
	}

	resp, err := retryWithBackoff(ctx, c.retry, c.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://github.com/spherical/text-extractor")
		req.Header.Set("X-Title", "Text Extractor")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return domain.APIError("failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	parser := NewStreamParser(resp.Body)
	if err := parser.ParseAll(func(chunk string) error {
		return send(ctx, out, chunk)
	}); err != nil {
		return domain.APIError("failed to parse stream", err)
	}
	return nil
}

// buildRequest puts the text part first, then one image part per image.
func (c *OpenRouterClient) buildRequest(p Prompt) *openRouterRequest {
	model := p.Model
	if model == "" {
		model = c.model
	}

	var messages []openRouterMessage
	if p.System != "" {
		messages = append(messages, openRouterMessage{
			Role:    "system",
			Content: []contentPart{{Type: "text", Text: p.System}},
		})
	}

	parts := []contentPart{{Type: "text", Text: p.Text}}
	for _, img := range p.Images {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)},
		})
	}
	messages = append(messages, openRouterMessage{Role: "user", Content: parts})

	return &openRouterRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
}
