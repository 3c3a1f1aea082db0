package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

const defaultProfile = "default"

// StorageService lists, loads and deletes stored results.
type StorageService interface {
	List(ctx context.Context, profile string) ([]string, error)
	Load(ctx context.Context, profile, name string) (string, bool, error)
	Delete(ctx context.Context, profile, name string) error
}

// StorageHandler handles the /storage endpoints.
type StorageHandler struct {
	logger  *observability.Logger
	storage StorageService
}

// NewStorageHandler creates a new storage handler.
func NewStorageHandler(logger *observability.Logger, storage StorageService) *StorageHandler {
	return &StorageHandler{logger: logger, storage: storage}
}

// List handles GET /storage/list?storage_profile=.
func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	profile := profileParam(r)
	files, err := h.storage.List(r.Context(), profile)
	if err != nil {
		writeDomainError(w, h.logger, "failed to list files", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

// Load handles GET /storage/load?file_name=&storage_profile=.
func (h *StorageHandler) Load(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file_name")
	content, ok, err := h.storage.Load(r.Context(), profileParam(r), name)
	if err != nil {
		writeDomainError(w, h.logger, "failed to load file", err)
		return
	}
	if !ok {
		writeDomainError(w, h.logger, "failed to load file", domain.NotFound(fmt.Sprintf("file %s not found", name)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// Delete handles DELETE /storage/delete?file_name=&storage_profile=.
func (h *StorageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file_name")
	if err := h.storage.Delete(r.Context(), profileParam(r), name); err != nil {
		writeDomainError(w, h.logger, "failed to delete file", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": fmt.Sprintf("File %s deleted successfully", name)})
}

func profileParam(r *http.Request) string {
	if p := r.URL.Query().Get("storage_profile"); p != "" {
		return p
	}
	return defaultProfile
}
