package stream

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	chatHandler "github.com/zhouzirui/chatty/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// SSE 事件名称
const (
	EventStart       = "start"
	EventMessage     = "message"
	EventSentiment   = "sentiment"
	EventSuggestions = "suggestions"
	EventEnd         = "end"
	EventError       = "error"
)

// Handler manages submissions answered via Server-Sent Events
type Handler struct {
	store     *chatService.Store
	submitter chatService.Submitter
	logger    *slog.Logger
}

// New creates a new stream handler
func New(store *chatService.Store, submitter chatService.Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		store:     store,
		submitter: submitter,
		logger:    logger.With("component", "stream"),
	}
}

// RegisterRoutes registers the streaming endpoint
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/stream", h.handleStream)
}

// StreamResponse represents one event payload
type StreamResponse struct {
	ConversationID string   `json:"conversationId,omitempty"`
	Content        string   `json:"content,omitempty"`
	Sentiment      string   `json:"sentiment,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
	Finished       bool     `json:"finished,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// handleStream rejects bad requests with plain JSON and reports everything
// after the first event on the stream itself.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, chatHandler.ModelUnavailableMessage)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := chatHandler.DecodeSubmission(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := orchestrator.Validate(sub.Form); err != nil {
		status, message := chatHandler.ErrorStatus(err)
		utils.RespondError(w, status, message)
		return
	}

	conversationID := strings.TrimSpace(sub.ConversationID)
	if conversationID != "" {
		if _, err := h.store.Get(conversationID); err != nil {
			status, message := chatHandler.ErrorStatus(err)
			utils.RespondError(w, status, message)
			return
		}
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	send := func(event string, payload StreamResponse) bool {
		if err := utils.SendSSEEvent(w, flusher, event, payload); err != nil {
			h.logger.Warn("failed to send event", "event", event, "error", err)
			return false
		}
		return true
	}

	if !send(EventStart, StreamResponse{ConversationID: conversationID}) {
		return
	}

	result, err := h.store.Exchange(r.Context(), conversationID, sub.Form, h.submitter)
	if err != nil {
		status, message := chatHandler.ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("submission failed", "conversation_id", conversationID, "error", err)
		}
		send(EventError, StreamResponse{ConversationID: conversationID, Error: message})
		return
	}

	id := result.ConversationID
	_ = send(EventMessage, StreamResponse{ConversationID: id, Content: result.Response}) &&
		send(EventSentiment, StreamResponse{ConversationID: id, Sentiment: string(result.Sentiment)}) &&
		send(EventSuggestions, StreamResponse{ConversationID: id, Suggestions: result.Suggestions}) &&
		send(EventEnd, StreamResponse{ConversationID: id, Finished: true})
}
