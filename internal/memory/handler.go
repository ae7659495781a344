package memory

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/memos-platform/memos/internal/api"
)

// Handler serves the memory pipeline HTTP surface.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Ingest handles POST /v1/ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	resp, err := h.svc.Ingest(r.Context(), req)
	if err != nil {
		api.HandleError(w, api.ErrStorageUnavailable)
		return
	}
	api.JSON(w, http.StatusCreated, resp)
}

// Query handles POST /v1/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.svc.Retrieve(r.Context(), req)
	if err != nil {
		api.HandleError(w, api.ErrStorageUnavailable)
		return
	}
	api.JSON(w, http.StatusOK, res)
}

// Pipeline handles GET /v1/ops/pipeline.
func (h *Handler) Pipeline(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Pipeline(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, status)
}

// Stats handles GET /v1/ops/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, stats)
}

// Procedural handles GET /v1/ops/procedural.
func (h *Handler) Procedural(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, ProceduralRegistry())
}

type resetRequest struct {
	Namespace string `json:"namespace" validate:"required,min=1,max=128"`
	SessionID string `json:"session_id" validate:"required,min=1,max=128"`
}

// Reset handles POST /v1/dev/reset. Development tooling; guarded by the
// rate limiter at the router.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	deleted, err := h.svc.Reset(r.Context(), req.Namespace, req.SessionID)
	if err != nil {
		api.HandleError(w, api.ErrStorageUnavailable)
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"events_deleted": deleted})
}
