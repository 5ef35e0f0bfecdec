package moderation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// Filter 内容审核能力
type Filter interface {
	FilterContent(ctx context.Context, in contract.FilterInput) (contract.FilterOutput, error)
}

// Handler 内容审核的HTTP处理器
type Handler struct {
	filter Filter
	logger *slog.Logger
}

// New 创建审核处理器。filter 为 nil 时返回 503。
func New(filter Filter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{filter: filter, logger: logger.With("component", "moderation")}
}

// RegisterRoutes 注册审核路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/moderation", h.handleFilter)
}

func (h *Handler) handleFilter(w http.ResponseWriter, r *http.Request) {
	if h.filter == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "AI model is not configured")
		return
	}

	var in contract.FilterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := in.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.filter.FilterContent(r.Context(), in)
	if err != nil {
		h.logger.Error("content filter failed", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "Failed to check the content. Please try again.")
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}
