package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// maxUploadSize 限制 multipart 上传的文件大小。
const maxUploadSize = 20 << 20

// ModelUnavailableMessage 在未配置模型时返回给客户端。
const ModelUnavailableMessage = "AI model is not configured"

// Handler 聊天服务的HTTP处理器
type Handler struct {
	store     *chatService.Store
	submitter chatService.Submitter
	logger    *slog.Logger
}

// New 创建聊天处理器。submitter 为 nil 时消息接口返回 503。
func New(store *chatService.Store, submitter chatService.Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		store:     store,
		submitter: submitter,
		logger:    logger.With("component", "chat_handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSubmit)

	r.Route("/conversations", func(cr chi.Router) {
		cr.Get("/", h.handleList)
		cr.Post("/", h.handleStartNew)
		cr.Get("/{conversationID}", h.handleGet)
		cr.Post("/{conversationID}/select", h.handleSelect)
	})
}

// Submission 是一次提交请求：目标会话加表单内容。
type Submission struct {
	ConversationID string `json:"conversationId,omitempty"`
	contract.Form
}

// DecodeSubmission 解析 JSON 或 multipart 请求体。multipart 的 file 字段会被转换为 data URI。
func DecodeSubmission(r *http.Request) (Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		return decodeMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return Submission{}, fmt.Errorf("invalid form body: %w", err)
		}
		return Submission{
			ConversationID: r.PostFormValue("conversationId"),
			Form: contract.Form{
				Prompt:         r.PostFormValue("prompt"),
				PhotoDataURI:   r.PostFormValue("photoDataUri"),
				AttachmentName: r.PostFormValue("attachmentName"),
			},
		}, nil
	default:
		var sub Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			return Submission{}, fmt.Errorf("invalid request body: %w", err)
		}
		return sub, nil
	}
}

func decodeMultipart(r *http.Request) (Submission, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return Submission{}, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	sub := Submission{
		ConversationID: r.FormValue("conversationId"),
		Form: contract.Form{
			Prompt:       r.FormValue("prompt"),
			PhotoDataURI: r.FormValue("photoDataUri"),
		},
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return sub, nil
	}
	if err != nil {
		return Submission{}, fmt.Errorf("failed to read file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Submission{}, fmt.Errorf("failed to read file: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}

	sub.PhotoDataURI = contract.EncodeDataURI(mimeType, data)
	sub.AttachmentName = header.Filename
	return sub, nil
}

// ErrorStatus 将业务错误映射为 HTTP 状态码和面向用户的文案。
func ErrorStatus(err error) (int, string) {
	switch {
	case orchestrator.IsValidationError(err):
		return http.StatusBadRequest, orchestrator.UserMessage(err)
	case errors.Is(err, chatService.ErrConversationNotFound):
		return http.StatusNotFound, chatService.ErrConversationNotFound.Error()
	case errors.Is(err, chatService.ErrExchangeInFlight):
		return http.StatusConflict, chatService.ErrExchangeInFlight.Error()
	default:
		return http.StatusBadGateway, orchestrator.FailureMessage
	}
}

// handleSubmit 提交一条消息并同步返回回复、建议和情感标签
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, ModelUnavailableMessage)
		return
	}

	sub, err := DecodeSubmission(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.store.Exchange(r.Context(), strings.TrimSpace(sub.ConversationID), sub.Form, h.submitter)
	if err != nil {
		status, message := ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("submission failed", "conversation_id", sub.ConversationID, "error", err)
		}
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

type listResponse struct {
	ActiveID      string `json:"activeId"`
	Conversations any    `json:"conversations"`
}

// handleList 列出所有会话摘要和当前会话
func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, listResponse{
		ActiveID:      h.store.ActiveID(),
		Conversations: h.store.List(),
	})
}

// handleGet 返回完整会话
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

// handleStartNew 清空当前会话选择；下一次提交会创建新会话
func (h *Handler) handleStartNew(w http.ResponseWriter, _ *http.Request) {
	h.store.StartNew()
	utils.RespondJSON(w, http.StatusOK, listResponse{
		ActiveID:      h.store.ActiveID(),
		Conversations: h.store.List(),
	})
}

// handleSelect 切换当前会话
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.store.Select(id); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	conv, err := h.store.Get(id)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}
