package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/spherical/text-extractor/internal/llm"
	"github.com/spherical/text-extractor/internal/observability"
)

// ModelService pulls models and runs prompts on the local LLM server.
type ModelService interface {
	Pull(ctx context.Context, model string) error
	Generate(ctx context.Context, p llm.Prompt) (string, error)
}

// LLMHandler handles the /llm endpoints.
type LLMHandler struct {
	logger *observability.Logger
	models ModelService
}

// NewLLMHandler creates a new LLM handler.
func NewLLMHandler(logger *observability.Logger, models ModelService) *LLMHandler {
	return &LLMHandler{logger: logger, models: models}
}

// PullRequestDTO is the body of POST /llm/pull.
type PullRequestDTO struct {
	Model string `json:"model"`
}

// GenerateRequestDTO is the body of POST /llm/generate.
type GenerateRequestDTO struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Pull handles POST /llm/pull.
func (h *LLMHandler) Pull(w http.ResponseWriter, r *http.Request) {
	var dto PullRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	h.logger.WithContext(r.Context()).Info().Str("model", dto.Model).Msg("Pulling model")
	if err := h.models.Pull(r.Context(), dto.Model); err != nil {
		writeDomainError(w, h.logger, "failed to pull model", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Model pulled successfully"})
}

// Generate handles POST /llm/generate.
func (h *LLMHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var dto GenerateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(dto.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "No prompt provided", "")
		return
	}

	text, err := h.models.Generate(r.Context(), llm.Prompt{Model: dto.Model, Text: dto.Prompt})
	if err != nil {
		writeDomainError(w, h.logger, "failed to generate text", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"generated_text": text})
}
