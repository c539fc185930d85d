package chat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/z-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/service/session"
	"github.com/zhouzirui/z-counsel/backend/pkg/utils"
)

const (
	defaultMaxUpload  = 32 << 20
	heartbeatInterval = 15 * time.Second
	pdfMIMEType       = "application/pdf"
)

var errUnsupportedAttachment = errors.New("only PDF files can be attached")

// Handler 聊天会话的HTTP处理器
type Handler struct {
	sessions       *session.Manager
	maxUploadBytes int64
	heartbeat      time.Duration
}

// New 创建聊天处理器
func New(sessions *session.Manager, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUpload
	}
	return &Handler{
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
		heartbeat:      heartbeatInterval,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Delete("/sessions/{sessionID}", h.handleEndSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSubmit)
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

type sessionResponse struct {
	chat.Session
	ActiveMessageID string `json:"activeMessageId"`
}

// handleCreateSession 创建会话，请求体可省略
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProfileID string `json:"profileId"`
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := sonic.Unmarshal(body, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := h.sessions.Create(strings.TrimSpace(payload.ProfileID))
	switch {
	case errors.Is(err, session.ErrProfileNotFound):
		utils.RespondError(w, http.StatusBadRequest, "profile not found")
		return
	case errors.Is(err, session.ErrManagerClosed):
		utils.RespondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionResponse{Session: sess.Info()})
}

// handleEndSession 结束会话（对应页面关闭）
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages 返回消息快照
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionResponse{
		Session:         sess.Info(),
		ActiveMessageID: sess.Speech.Active(),
	})
}

// handleSubmit 接收提问与 PDF 附件，立即返回两条新消息，回答在后台生成
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if r.ContentLength > h.maxUploadBytes {
		h.respondTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	question, attachments, err := h.parseSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.respondTooLarge(w)
		case errors.Is(err, errUnsupportedAttachment):
			utils.RespondError(w, http.StatusUnsupportedMediaType, err.Error())
		default:
			utils.RespondError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		}
		return
	}

	submission, err := sess.Store.Submit(question, attachments)
	switch {
	case errors.Is(err, chatservice.ErrEmptySubmission):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, chatservice.ErrSubmissionInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, chatservice.ErrStoreClosed):
		utils.RespondError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[chat] session=%s accepted question, attachments=%d", sess.ID, len(attachments))
	utils.RespondJSON(w, http.StatusAccepted, submission)
}

// handleEvents 以 SSE 推送消息与朗读状态变化
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// 先订阅再发快照，客户端按 id 合并，重复无害
	events, cancel := sess.Store.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening event stream for session=%s", sess.ID)

	if err := utils.SendSSEEvent(w, flusher, "snapshot", sessionResponse{
		Session:         sess.Info(),
		ActiveMessageID: sess.Speech.Active(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] client left session=%s", sess.ID)
			return
		case ev, ok := <-events:
			if !ok {
				utils.SendSSEEvent(w, flusher, "session.ended", map[string]string{"sessionId": sess.ID})
				log.Printf("[sse] closing event stream for ended session=%s", sess.ID)
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (h *Handler) respondTooLarge(w http.ResponseWriter) {
	utils.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", h.maxUploadBytes>>20))
}

// parseSubmission 读取 question 字段与 files 附件
func (h *Handler) parseSubmission(r *http.Request) (string, []chat.Attachment, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return "", nil, err
		}
		return r.PostFormValue("question"), nil, nil
	}

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return "", nil, err
	}
	defer r.MultipartForm.RemoveAll()

	question := r.FormValue("question")

	var attachments []chat.Attachment
	for _, header := range r.MultipartForm.File["files"] {
		// 未选择文件时浏览器仍会提交一个空的 file 字段
		if header.Filename == "" && header.Size == 0 {
			continue
		}
		attachment, err := readPDF(header)
		if err != nil {
			return "", nil, err
		}
		attachments = append(attachments, attachment)
	}

	return question, attachments, nil
}

func readPDF(header *multipart.FileHeader) (chat.Attachment, error) {
	file, err := header.Open()
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}

	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return chat.Attachment{}, fmt.Errorf("%w: %s", errUnsupportedAttachment, header.Filename)
	}

	return chat.Attachment{
		Name:     header.Filename,
		MIMEType: pdfMIMEType,
		Data:     data,
	}, nil
}
