package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/observability"
)

// JobService is the part of the orchestrator the OCR endpoints use.
type JobService interface {
	Submit(ctx context.Context, req *domain.JobRequest) (string, error)
	Process(ctx context.Context, req *domain.JobRequest) (*domain.JobRecord, error)
	Get(ctx context.Context, taskID string) (*domain.JobRecord, error)
	ClearCache(ctx context.Context) error
}

// OCRHandler handles document submission and polling.
type OCRHandler struct {
	logger    *observability.Logger
	jobs      JobService
	formats   *fileformat.Registry
	maxUpload int64
}

// NewOCRHandler creates a new OCR handler. maxUpload bounds request bodies.
func NewOCRHandler(logger *observability.Logger, jobs JobService, formats *fileformat.Registry, maxUpload int64) *OCRHandler {
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &OCRHandler{
		logger:    logger,
		jobs:      jobs,
		formats:   formats,
		maxUpload: maxUpload,
	}
}

// OCRRequestDTO is the JSON body of POST /ocr/request.
type OCRRequestDTO struct {
	File            string `json:"file"`
	Filename        string `json:"filename,omitempty"`
	MIMEType        string `json:"mime_type,omitempty"`
	Strategy        string `json:"strategy"`
	Prompt          string `json:"prompt,omitempty"`
	Model           string `json:"model,omitempty"`
	Language        string `json:"language,omitempty"`
	OCRCache        bool   `json:"ocr_cache"`
	StorageProfile  string `json:"storage_profile,omitempty"`
	StorageFilename string `json:"storage_filename,omitempty"`
	Sync            bool   `json:"sync,omitempty"`
}

// SubmitResponseDTO answers a submission.
type SubmitResponseDTO struct {
	TaskID string  `json:"task_id"`
	Text   *string `json:"text,omitempty"`
}

// ResultDTO is the polling response.
type ResultDTO struct {
	State     string           `json:"state"`
	Status    string           `json:"status"`
	Info      *ProgressInfoDTO `json:"info,omitempty"`
	Result    *string          `json:"result,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// ProgressInfoDTO carries the in-flight details of a PROGRESS record.
type ProgressInfoDTO struct {
	Progress      int       `json:"progress"`
	Status        string    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	ElapsedTime   float64   `json:"elapsed_time"`
	ExtractedText string    `json:"extracted_text,omitempty"`
}

// Upload handles POST /ocr/upload (and its alias POST /ocr) with a
// multipart form.
func (h *OCRHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file", err.Error())
		return
	}

	useCache, err := formBool(r, "ocr_cache")
	if err != nil {
		writeError(w, http.StatusBadRequest, "ocr_cache must be a boolean", err.Error())
		return
	}
	sync, err := formBool(r, "sync")
	if err != nil {
		writeError(w, http.StatusBadRequest, "sync must be a boolean", err.Error())
		return
	}

	req := &domain.JobRequest{
		Content:         content,
		Filename:        header.Filename,
		Strategy:        r.FormValue("strategy"),
		Prompt:          r.FormValue("prompt"),
		Model:           r.FormValue("model"),
		Language:        r.FormValue("language"),
		Cache:           useCache,
		StorageProfile:  r.FormValue("storage_profile"),
		StorageFilename: r.FormValue("storage_filename"),
	}
	h.submit(w, r, req, sync)
}

// Request handles POST /ocr/request with a JSON body carrying base64
// content (a data URL is accepted).
func (h *OCRHandler) Request(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var dto OCRRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	f, err := h.formats.FromBase64(dto.File, dto.Filename, dto.MIMEType)
	if err != nil {
		writeDomainError(w, h.logger, "invalid file", err)
		return
	}

	req := &domain.JobRequest{
		Content:         f.Binary(),
		Filename:        f.Filename(),
		MIMEType:        f.MIMEType(),
		Strategy:        dto.Strategy,
		Prompt:          dto.Prompt,
		Model:           dto.Model,
		Language:        dto.Language,
		Cache:           dto.OCRCache,
		StorageProfile:  dto.StorageProfile,
		StorageFilename: dto.StorageFilename,
	}
	h.submit(w, r, req, dto.Sync)
}

func (h *OCRHandler) submit(w http.ResponseWriter, r *http.Request, req *domain.JobRequest, sync bool) {
	ctx := r.Context()
	logger := h.logger.WithContext(ctx)

	logger.Info().
		Str("filename", req.Filename).
		Str("strategy", req.Strategy).
		Bool("ocr_cache", req.Cache).
		Str("storage_profile", req.StorageProfile).
		Bool("sync", sync).
		Msg("Processing document")

	if !sync {
		id, err := h.jobs.Submit(ctx, req)
		if err != nil {
			writeDomainError(w, logger, "submission rejected", err)
			return
		}
		writeJSON(w, http.StatusAccepted, SubmitResponseDTO{TaskID: id})
		return
	}

	rec, err := h.jobs.Process(ctx, req)
	if err != nil {
		writeDomainError(w, logger, "submission rejected", err)
		return
	}
	if rec.State == domain.StateFailure {
		writeJSON(w, StatusFor(rec.ErrorType), ErrorDTO{
			Error:         "extraction failed",
			Message:       "extraction failed",
			ErrorType:     string(rec.ErrorType),
			Detail:        rec.Error,
			ExtractedText: rec.ExtractedText,
		})
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponseDTO{TaskID: rec.TaskID, Text: &rec.Result})
}

// Result handles GET /ocr/result/{task_id}.
func (h *OCRHandler) Result(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	rec, err := h.jobs.Get(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, h.logger, "task lookup failed", err)
		return
	}

	writeJSON(w, http.StatusOK, resultDTO(rec))
}

func resultDTO(rec *domain.JobRecord) ResultDTO {
	resp := ResultDTO{State: string(rec.State)}
	switch rec.State {
	case domain.StatePending:
		resp.Status = domain.StatusPending
	case domain.StateProgress:
		resp.Status = rec.Status
		resp.Info = &ProgressInfoDTO{
			Progress:      rec.Progress,
			Status:        rec.Status,
			StartTime:     rec.StartTime,
			ElapsedTime:   rec.ElapsedTime,
			ExtractedText: rec.ExtractedText,
		}
	case domain.StateSuccess:
		resp.Status = "Task completed successfully."
		result := rec.Result
		resp.Result = &result
	default:
		resp.Status = rec.Error
		resp.ErrorType = string(rec.ErrorType)
		// pages extracted before the failure stay retrievable
		if rec.ExtractedText != "" {
			resp.Info = &ProgressInfoDTO{
				Progress:      rec.Progress,
				Status:        rec.Status,
				StartTime:     rec.StartTime,
				ElapsedTime:   rec.ElapsedTime,
				ExtractedText: rec.ExtractedText,
			}
		}
	}
	return resp
}

// ClearCache handles POST /ocr/clear_cache.
func (h *OCRHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.ClearCache(r.Context()); err != nil {
		writeDomainError(w, h.logger, "failed to clear cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OCR cache cleared"})
}

func formBool(r *http.Request, key string) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(key + ": " + err.Error())
	}
	return b, nil
}
