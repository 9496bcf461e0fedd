package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Brownie44l1/snapclass/internal/acquire"
	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/classifier"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/permission"
	"github.com/Brownie44l1/snapclass/internal/session"
)

// maxUploadBytes bounds multipart parsing (10MB max).
const maxUploadBytes = 10 << 20

type Handler struct {
	classifier     *classifier.Classifier
	sessions       *session.Store
	previewMaxSide int
	log            *slog.Logger
}

func NewHandler(c *classifier.Classifier, sessions *session.Store, previewMaxSide int, log *slog.Logger) *Handler {
	return &Handler{
		classifier:     c,
		sessions:       sessions,
		previewMaxSide: previewMaxSide,
		log:            logging.OrModule(log, "http"),
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	Retryable bool   `json:"retryable"`
}

type acquisitionResponse struct {
	Status     acquire.Status   `json:"status"`
	URI        string           `json:"uri,omitempty"`
	Width      int              `json:"width,omitempty"`
	Height     int              `json:"height,omitempty"`
	Permission permission.State `json:"permission"`
}

type permissionResponse struct {
	Capability permission.Capability `json:"capability"`
	State      permission.State      `json:"state"`
	Pending    bool                  `json:"pending"`
}

type permissionAnswer struct {
	Granted bool `json:"granted"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := apperr.Classify(err)
	if info.Status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err, "fatal", info.Fatal)
	} else {
		h.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, info.Status, errorResponse{
		Error:     info.Message,
		Category:  string(info.Category),
		Retryable: info.Retryable,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"labels": len(h.classifier.Labels()),
	})
}

// readUpload returns the bytes of the "image" form field. A request without
// that field yields nil data and no error: the client cancelled the dialog.
func readUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return "", nil, nil
		}
		return "", nil, err
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

// PredictFromImage classifies an uploaded image without touching any session.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUpload(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}

	out, err := acquire.NewGallery(h.log).Acquire(r.Context(), acquire.UploadChooser{Name: name, Data: data})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !out.Acquired() {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}

	result, err := h.classifier.Classify(r.Context(), out.Image.Image)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessions.Create()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": ctrl.ID()})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.Get(r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) respondOutcome(w http.ResponseWriter, ctrl *session.Controller, out acquire.Outcome) {
	resp := acquisitionResponse{Status: out.Status, Permission: ctrl.Permission()}
	if out.Acquired() {
		resp.URI = out.Image.URI
		resp.Width = out.Image.Width()
		resp.Height = out.Image.Height()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SelectFromGallery takes the chosen file as the "image" form field. No
// file means the chooser was cancelled.
func (h *Handler) SelectFromGallery(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	name, data, err := readUpload(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	out, err := ctrl.SelectFromGallery(r.Context(), acquire.UploadChooser{Name: name, Data: data})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondOutcome(w, ctrl, out)
}

// CapturePhoto takes the device camera's JPEG as the "image" form field.
// With an undecided permission the call waits for an answer posted to the
// permission endpoint.
func (h *Handler) CapturePhoto(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	_, data, err := readUpload(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	out, err := ctrl.CapturePhoto(r.Context(), acquire.UploadCamera{Data: data})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondOutcome(w, ctrl, out)
}

func (h *Handler) GetPermission(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, permissionResponse{
		Capability: permission.Camera,
		State:      ctrl.Permission(),
		Pending:    ctrl.PermissionPending(),
	})
}

func (h *Handler) AnswerPermission(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	var answer permissionAnswer
	if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := ctrl.AnswerPermission(answer.Granted); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Category: string(apperr.CategoryValidation)})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ResetPermission(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	ctrl.ResetPermission()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := ctrl.Preview(h.previewMaxSide)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	result, err := ctrl.Classify(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
