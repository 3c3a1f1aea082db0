// Package extractor is a Go client for the text extractor API.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spherical/text-extractor/internal/domain"
)

// DefaultBaseURL is used when TEXT_EXTRACTOR_URL is unset.
const DefaultBaseURL = "http://localhost:8000"

// Job states reported by Result.
const (
	StatePending  = string(domain.StatePending)
	StateProgress = string(domain.StateProgress)
	StateSuccess  = string(domain.StateSuccess)
	StateFailure  = string(domain.StateFailure)
)

// ErrorType re-exports the error classification carried by API errors.
type ErrorType = domain.ErrorType

// Client talks to a running text extractor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration options for the client
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration // ignored when HTTPClient is set
}

// Options are the per-document extraction settings.
type Options struct {
	Strategy        string
	Prompt          string
	Model           string
	Language        string
	Cache           bool
	StorageProfile  string
	StorageFilename string
}

// Progress is the in-flight part of a PROGRESS result.
type Progress struct {
	Progress      int       `json:"progress"`
	Status        string    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	ElapsedTime   float64   `json:"elapsed_time"`
	ExtractedText string    `json:"extracted_text,omitempty"`
}

// Result is one poll of a task.
type Result struct {
	State     string    `json:"state"`
	Status    string    `json:"status"`
	Info      *Progress `json:"info,omitempty"`
	Result    *string   `json:"result,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
}

// Done reports whether the task reached SUCCESS or FAILURE.
func (r *Result) Done() bool {
	return r.State == StateSuccess || r.State == StateFailure
}

// Text returns the final result, or "" before SUCCESS.
func (r *Result) Text() string {
	if r.Result == nil {
		return ""
	}
	return *r.Result
}

// HTTPError carries the status and detail of a non-2xx response. It is
// wrapped in a domain error typed after the response's error_type.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

type errorBody struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Detail    string `json:"detail"`
}

// NewClient creates a client for TEXT_EXTRACTOR_URL, reading .env first.
func NewClient() (*Client, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	baseURL := os.Getenv("TEXT_EXTRACTOR_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return NewClientWithConfig(&Config{BaseURL: baseURL})
}

// NewClientWithConfig creates a client with custom configuration
func NewClientWithConfig(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, domain.ConfigError("base URL is required", nil)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.ConfigError(fmt.Sprintf("invalid base URL: %s", cfg.BaseURL), err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
	}, nil
}

// Upload submits the file at path as multipart form data and returns the
// task id.
func (c *Client) Upload(ctx context.Context, path string, opts Options) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", domain.IOError("open "+path, err)
	}
	defer f.Close()
	return c.UploadReader(ctx, filepath.Base(path), f, opts)
}

// UploadReader submits the content of r under filename.
func (c *Client) UploadReader(ctx context.Context, filename string, r io.Reader, opts Options) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", domain.IOError("build form", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", domain.IOError("read "+filename, err)
	}

	fields := map[string]string{
		"strategy":         opts.Strategy,
		"prompt":           opts.Prompt,
		"model":            opts.Model,
		"language":         opts.Language,
		"ocr_cache":        strconv.FormatBool(opts.Cache),
		"storage_profile":  opts.StorageProfile,
		"storage_filename": opts.StorageFilename,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", domain.IOError("build form", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", domain.IOError("build form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/upload", &buf)
	if err != nil {
		return "", domain.APIError("build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Request submits content as base64 JSON and returns the task id.
func (c *Client) Request(ctx context.Context, filename string, content []byte, opts Options) (string, error) {
	body := map[string]any{
		"file":             base64.StdEncoding.EncodeToString(content),
		"filename":         filename,
		"strategy":         opts.Strategy,
		"prompt":           opts.Prompt,
		"model":            opts.Model,
		"language":         opts.Language,
		"ocr_cache":        opts.Cache,
		"storage_profile":  opts.StorageProfile,
		"storage_filename": opts.StorageFilename,
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.postJSON(ctx, "/ocr/request", body, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Result fetches the current state of a task.
func (c *Client) Result(ctx context.Context, taskID string) (*Result, error) {
	if taskID == "" {
		return nil, domain.ValidationError("task id is required", nil)
	}
	var out Result
	if err := c.get(ctx, "/ocr/result/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wait polls a task every interval until it finishes or ctx ends. onUpdate,
// when set, sees every poll.
func (c *Client) Wait(ctx context.Context, taskID string, interval time.Duration, onUpdate func(*Result)) (*Result, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := c.Result(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(res)
		}
		if res.Done() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ClearCache drops every cached extraction on the server.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.postJSON(ctx, "/ocr/clear_cache", nil, nil)
}

// ListFiles lists the files stored under profile.
func (c *Client) ListFiles(ctx context.Context, profile string) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	if err := c.get(ctx, "/storage/list", profileQuery(profile, ""), &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// LoadFile returns the content of a stored file.
func (c *Client) LoadFile(ctx context.Context, profile, name string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.get(ctx, "/storage/load", profileQuery(profile, name), &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// DeleteFile removes a stored file.
func (c *Client) DeleteFile(ctx context.Context, profile, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/storage/delete?"+profileQuery(profile, name).Encode(), nil)
	if err != nil {
		return domain.APIError("build request", err)
	}
	return c.do(req, nil)
}

// PullModel asks the server to download a model into its local LLM.
func (c *Client) PullModel(ctx context.Context, model string) error {
	return c.postJSON(ctx, "/llm/pull", map[string]string{"model": model}, nil)
}

// Generate runs a plain prompt on the server's local LLM.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	var out struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := c.postJSON(ctx, "/llm/generate", map[string]string{"model": model, "prompt": prompt}, &out); err != nil {
		return "", err
	}
	return out.GeneratedText, nil
}

func profileQuery(profile, name string) url.Values {
	q := url.Values{}
	if profile != "" {
		q.Set("storage_profile", profile)
	}
	if name != "" {
		q.Set("file_name", name)
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.APIError("build request", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.APIError("encode request", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return domain.APIError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.APIError(fmt.Sprintf("%s %s", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.APIError("read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.APIError("decode response", err)
	}
	return nil
}

func responseError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return domain.APIError("unexpected response", &HTTPError{StatusCode: status, Detail: strings.TrimSpace(string(data))})
	}

	errType := domain.ErrorType(body.ErrorType)
	if errType == "" {
		errType = domain.ErrorTypeAPI
		if status == http.StatusNotFound {
			errType = domain.ErrorTypeNotFound
		}
	}
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return domain.NewError(errType, msg, &HTTPError{StatusCode: status, Detail: body.Detail})
}
