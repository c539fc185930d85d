package speech

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/service/session"
	speechsvc "github.com/zhouzirui/z-counsel/backend/internal/service/speech"
	"github.com/zhouzirui/z-counsel/backend/pkg/utils"
)

// Handler 朗读功能的HTTP处理器
type Handler struct {
	sessions    *session.Manager
	connections *speechsvc.ConnectionManager
	options     speechsvc.ConnectionOptions
	serverTTS   bool
}

// New 创建朗读处理器。serverTTS 表示音频由服务端合成。
func New(sessions *session.Manager, connections *speechsvc.ConnectionManager, serverTTS bool) *Handler {
	if connections == nil {
		connections = speechsvc.NewConnectionManager()
	}
	return &Handler{
		sessions:    sessions,
		connections: connections,
		options:     speechsvc.DefaultConnectionOptions(),
		serverTTS:   serverTTS,
	}
}

// RegisterRoutes 注册朗读相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/messages/{messageID}/speech", h.handleToggle)
	r.Get("/sessions/{sessionID}/speech/ws", h.handleWebSocket)
	r.Get("/speech/health", h.handleHealth)
}

// handleToggle 开始或停止朗读某条回答
func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	msg, err := sess.Store.Message(chi.URLParam(r, "messageID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "message not found")
		return
	}

	// 只有已完成的回答可以朗读
	if msg.Role != chat.RoleAssistant || msg.Status != chat.StatusResolved {
		utils.RespondError(w, http.StatusConflict, "only answered assistant messages can be read aloud")
		return
	}

	active, err := sess.Speech.TryToggle(msg.Content, msg.ID)
	if errors.Is(err, speechsvc.ErrPlayerNotReady) {
		utils.RespondError(w, http.StatusConflict, "no playback client connected")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"activeMessageId": active})
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"service":         "speech",
		"serverSynthesis": h.serverTTS,
		"connections":     h.connections.Count(),
	})
}
