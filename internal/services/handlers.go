package services

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/accessiblelessons/internal/auth"
	"github.com/Lllllllleong/accessiblelessons/internal/jobs"
	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
)

// multipartOverhead is allowed on top of the file size limit for headers
// and boundaries.
const multipartOverhead = 1 << 20

// HTTPHandlers exposes the upload, status and visualization functions.
type HTTPHandlers struct {
	Upload        *UploadFunction
	Status        *StatusFunction
	Visualizer    *SceneVisualizerFunction
	JWTSecret     []byte
	InternalToken string
}

func (h *HTTPHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := auth.FromRequest(r, h.JWTSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !caller.CanUpload() {
		writeError(w, http.StatusForbidden, "only teachers can upload lessons")
		return
	}
	if limit := h.Upload.config.MaxBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			writeError(w, uploadStatus(err), "could not read upload")
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		res, err := h.Upload.Process(r.Context(), caller, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			slog.Warn("Upload rejected.", "userId", caller.UserID, "error", err)
			writeError(w, uploadStatus(err), http.StatusText(uploadStatus(err)))
			return
		}
		writeJSON(w, http.StatusAccepted, res)
		return
	}
}

func uploadStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := auth.FromRequest(r, h.JWTSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.Status.Process(r.Context(), caller, r.URL.Query().Get("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "id is required")
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "upload not found")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		slog.Error("Status lookup failed.", "error", err)
		writeError(w, http.StatusInternalServerError, "status lookup failed")
	}
}

func (h *HTTPHandlers) HandleVisualize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.InternalToken != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(InternalTokenHeader)), []byte(h.InternalToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req models.VisualizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON")
		return
	}
	res, err := h.Visualizer.Process(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "text is required")
	default:
		writeError(w, http.StatusInternalServerError, "scene generation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
