// Package ws exposes message submission over a WebSocket connection.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	chatHandler "github.com/zhouzirui/chatty/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// 出站消息类型
const (
	TypeConnected = "connected"
	TypePending   = "pending"
	TypeResult    = "result"
	TypeError     = "error"
	TypePong      = "pong"
)

// Handler WebSocket 消息处理器
type Handler struct {
	store     *chatService.Store
	submitter chatService.Submitter
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// New 创建 WebSocket 处理器。submitter 为 nil 时拒绝升级并返回 503。
func New(store *chatService.Store, submitter chatService.Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		store:     store,
		submitter: submitter,
		logger:    logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	contract.Form
}

type outgoingMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Data           any    `json:"data,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// handleWebSocket 处理 WebSocket 连接。同一连接上的提交按顺序处理。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, chatHandler.ModelUnavailableMessage)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.send(conn, outgoingMessage{Type: TypeConnected, ConversationID: h.store.ActiveID()})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "submit":
			h.handleSubmit(ctx, conn, msg)
			// 模型调用期间读循环停滞，期间的 pong 未被处理
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		case "ping":
			h.send(conn, outgoingMessage{Type: TypePong})
		default:
			h.sendError(conn, msg.ConversationID, "unsupported message type: "+msg.Type)
		}
	}
}

func (h *Handler) handleSubmit(ctx context.Context, conn *websocket.Conn, msg inboundMessage) {
	conversationID := strings.TrimSpace(msg.ConversationID)

	h.send(conn, outgoingMessage{
		Type:           TypePending,
		ConversationID: conversationID,
		Data: map[string]any{
			"prompt":         msg.Prompt,
			"attachmentName": msg.AttachmentName,
		},
	})

	result, err := h.store.Exchange(ctx, conversationID, msg.Form, h.submitter)
	if err != nil {
		status, message := chatHandler.ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("submission failed", "conversation_id", conversationID, "error", err)
		}
		h.sendError(conn, conversationID, message)
		return
	}

	h.send(conn, outgoingMessage{Type: TypeResult, ConversationID: result.ConversationID, Data: result})
}

func (h *Handler) send(conn *websocket.Conn, msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn("write failed", "type", msg.Type, "error", err)
	}
}

func (h *Handler) sendError(conn *websocket.Conn, conversationID, message string) {
	h.send(conn, outgoingMessage{
		Type:           TypeError,
		ConversationID: conversationID,
		Data:           map[string]string{"error": message},
	})
}

// pingLoop 定期发送 ping 控制帧；WriteControl 可与 WriteJSON 并发调用
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
