package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	assistantHandler "github.com/zhouzirui/ulink/backend/internal/handler/assistant"
	"github.com/zhouzirui/ulink/backend/internal/handler/chat"
	guidedHandler "github.com/zhouzirui/ulink/backend/internal/handler/guided"
	"github.com/zhouzirui/ulink/backend/internal/handler/stream"
	userHandler "github.com/zhouzirui/ulink/backend/internal/handler/user"
	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	assistantModel "github.com/zhouzirui/ulink/backend/internal/model/assistant"
	aiService "github.com/zhouzirui/ulink/backend/internal/service/ai"
	backupService "github.com/zhouzirui/ulink/backend/internal/service/backup"
	chatService "github.com/zhouzirui/ulink/backend/internal/service/chat"
	userService "github.com/zhouzirui/ulink/backend/internal/service/user"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

// Deps are the services the router exposes. AI may be nil when no model is
// configured.
type Deps struct {
	Assistants   assistantModel.Store
	Chat         *chatService.Service
	Users        *userService.Service
	Backup       *backupService.Service
	AI           *aiService.Service
	Webhooks     *webhook.Client
	AllowOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowOrigins))

	users := userHandler.New(deps.Users)
	chatH := chat.New(deps.Chat, deps.Backup, deps.Assistants, deps.Users)
	streamH := stream.New(deps.AI, deps.Chat, deps.Assistants, deps.Users)
	guidedH := guidedHandler.New(deps.Assistants, deps.Users, deps.Webhooks, originAllowed(deps.AllowOrigins))
	assistants := assistantHandler.New(deps.Users)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		users.RegisterPublicRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireAuth(deps.Users))

			users.RegisterRoutes(authed)
			assistants.RegisterRoutes(authed)
			chatH.RegisterRoutes(authed)
			guidedH.RegisterRoutes(authed)
			authed.Method(http.MethodPost, "/chats/stream", streamH)
		})
	})

	return r
}

func originAllowed(origins []string) func(string) bool {
	return func(origin string) bool {
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
