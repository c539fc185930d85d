package speech

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	speechsvc "github.com/zhouzirui/z-counsel/backend/internal/service/speech"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

type connectedMessage struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"sessionId"`
	Language    string  `json:"language"`
	Rate        float32 `json:"rate"`
	ServerAudio bool    `json:"serverAudio"`
}

// handleWebSocket 浏览器播放通道：下发 speak/cancel 指令，接收播放事件
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}

	client := speechsvc.NewClient(conn, h.options)
	h.connections.AddConnection(sess.ID, client)
	sess.Player.Attach(client)
	log.Printf("[websocket] playback client attached for session: %s", sess.ID)

	defer func() {
		sess.Player.Detach(client)
		h.connections.RemoveConnection(sess.ID, client)
		log.Printf("[websocket] playback client detached for session: %s", sess.ID)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 会话结束时主动断开，让读循环返回
	go func() {
		select {
		case <-sess.Done():
			client.Close()
		case <-ctx.Done():
		}
	}()
	go h.pingLoop(ctx, client)

	if err := client.SendJSON(connectedMessage{
		Type:        "connected",
		SessionID:   sess.ID,
		Language:    sess.Profile.Language,
		Rate:        sess.Profile.SpeechRate,
		ServerAudio: h.serverTTS,
	}); err != nil {
		log.Printf("[websocket] failed to send greeting: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))

		var ev speechsvc.PlaybackEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			log.Printf("[websocket] ignoring malformed playback event: %v", err)
			continue
		}
		sess.Player.Notify(ev)
	}
}

func (h *Handler) pingLoop(ctx context.Context, client *speechsvc.Client) {
	ticker := time.NewTicker(h.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
