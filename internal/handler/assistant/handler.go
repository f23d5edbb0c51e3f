// Package assistant lists the assistants available to the caller.
package assistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

// Catalog resolves the assistants a user may see.
type Catalog interface {
	AllowedAssistants(u user.User) []assistant.Assistant
}

// Handler serves GET /assistants.
type Handler struct {
	catalog Catalog
}

// New creates an assistant handler.
func New(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes mounts the listing under an authenticated router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistants", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	u, _ := middlewarePkg.UserFromContext(r.Context())
	items := assistant.Filter(h.catalog.AllowedAssistants(u), r.URL.Query().Get("q"))
	utils.RespondJSON(w, http.StatusOK, items)
}
