package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/fileformat"
)

// RemoteStrategy posts the document as a PDF to a marker-compatible HTTP
// API and returns its "output" field.
type RemoteStrategy struct {
	name       string
	url        string
	httpClient *http.Client
}

type remoteResponse struct {
	Output string `json:"output"`
}

func newRemoteStrategy(name string, cfg StrategyConfig, b Backends) (Strategy, error) {
	url := b.RemoteURL
	if url == "" {
		url = cfg.URL
	}

	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	return &RemoteStrategy{name: name, url: url, httpClient: client}, nil
}

func (s *RemoteStrategy) Name() string {
	return s.name
}

func (s *RemoteStrategy) Extract(ctx context.Context, f *fileformat.FileFormat, opts Options) (string, error) {
	if f.Kind() != fileformat.KindPDF && !f.CanConvertTo(fileformat.KindPDF) {
		return "", domain.UnsupportedFormat(s.name, f.MIMEType())
	}

	pdfs, err := f.ConvertTo(ctx, fileformat.KindPDF)
	if err != nil {
		return "", err
	}
	if len(pdfs) != 1 {
		return "", domain.ExtractionFailed("remote", s.name, fmt.Errorf("expected one PDF, conversion produced %d", len(pdfs)))
	}

	if s.url == "" {
		return "", domain.ExtractionFailed("remote", s.name,
			domain.ConfigError("REMOTE_API_URL is not set", nil))
	}

	body, contentType, err := s.buildForm(pdfs[0].Binary(), opts.Language)
	if err != nil {
		return "", domain.ExtractionFailed("remote", s.name, err)
	}

	opts.report(30, "OCR Processing")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return "", domain.ExtractionFailed("remote", s.name, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", domain.ExtractionFailed("remote", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.ExtractionFailed("remote", s.name,
			fmt.Errorf("remote API returned status %d: %s", resp.StatusCode, string(msg)))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.ExtractionFailed("remote", s.name, fmt.Errorf("decode response: %w", err))
	}
	return out.Output, nil
}

func (s *RemoteStrategy) buildForm(pdfData []byte, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="document.pdf"`)
	header.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(pdfData); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"languages":       language,
		"force_ocr":       "false",
		"paginate_output": "false",
		"output_format":   "markdown",
	}
	for _, k := range []string{"languages", "force_ocr", "paginate_output", "output_format"} {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
