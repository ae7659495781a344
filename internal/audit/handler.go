package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/memos-platform/memos/internal/api"
)

// Handler serves the audit trail endpoint.
type Handler struct {
	repo *Repository
}

// NewHandler creates a new audit handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List returns the newest audit entries, filtered by optional namespace and
// session_id query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := ListParams{
		Namespace: r.URL.Query().Get("namespace"),
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     50,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			params.Limit = v
		}
	}

	entries, err := h.repo.List(r.Context(), params)
	if err != nil {
		slog.Error("listing audit entries", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	api.JSON(w, http.StatusOK, map[string]any{"events": entries})
}
