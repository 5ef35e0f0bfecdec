package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chatty/backend/internal/handler/chat"
	"github.com/zhouzirui/chatty/backend/internal/handler/moderation"
	"github.com/zhouzirui/chatty/backend/internal/handler/stream"
	"github.com/zhouzirui/chatty/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/chatty/backend/internal/middleware"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// Health 描述运行时依赖状态，由 /api/health 返回。
type Health struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Storage  string `json:"storage"`
}

// Dependencies 汇总路由所需的服务。Submitter 和 Moderator 在未配置模型时为 nil。
type Dependencies struct {
	Store     *chatService.Store
	Submitter chatService.Submitter
	Moderator moderation.Filter
	Health    Health
	Logger    *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.With("component", "http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		chat.New(deps.Store, deps.Submitter, logger).RegisterRoutes(api)
		stream.New(deps.Store, deps.Submitter, logger).RegisterRoutes(api)
		ws.New(deps.Store, deps.Submitter, logger).RegisterRoutes(api)
		moderation.New(deps.Moderator, logger).RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":        "ok",
				"aiEnabled":     deps.Submitter != nil,
				"provider":      deps.Health.Provider,
				"model":         deps.Health.Model,
				"storage":       deps.Health.Storage,
				"conversations": len(deps.Store.List()),
			})
		})
	})

	return r
}
