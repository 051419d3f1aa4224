package speech

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	assistantservice "github.com/trafficwatch/sos-assistant/backend/internal/service/assistant"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/relay"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	eventBuffer  = 64
)

// WebSocketHandler 会话WebSocket处理器，承载音频、播报与录像数据
type WebSocketHandler struct {
	registry *assistantservice.Registry
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(registry *assistantservice.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterSessionRoutes 在会话路由下注册 /ws
func (h *WebSocketHandler) RegisterSessionRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// AudioMessage 麦克风音频块
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Language string `json:"language"`
	Open     *bool  `json:"open,omitempty"`
}

// PlaybackMessage 客户端播放结束通知
type PlaybackMessage struct {
	ID string `json:"id"`
}

// CaptureMessage 录像授权结果或媒体数据
type CaptureMessage struct {
	Action   string `json:"action"` // granted | denied | chunk
	ID       string `json:"id"`
	Reason   string `json:"reason,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	IsFinal  bool   `json:"isFinal"`
}

// socket 串行化对连接的写操作
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) Send(frame relay.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(frame)
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	controller, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	link, err := h.registry.Relay(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	slog.Info("websocket connected", "session", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &socket{conn: conn}
	events, unsubscribe := controller.Subscribe(eventBuffer)
	defer unsubscribe()

	link.Attach(out)
	defer link.Detach(out)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	_ = out.Send(eventFrame(assistantservice.Event{
		Type:      assistantservice.EventSnapshot,
		SessionID: sessionID,
		Data:      controller.Snapshot(),
		Timestamp: time.Now().Unix(),
	}))

	go h.pingLoop(ctx, out)
	go h.forwardEvents(ctx, cancel, out, events)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				slog.Warn("websocket read error", "session", sessionID, "error", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(out, sessionID, "session mismatch")
			continue
		}
		h.handleMessage(ctx, out, controller, link, &msg)
	}

	slog.Info("websocket disconnected", "session", sessionID)
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, out *socket, controller *assistantservice.Controller, link *relay.Relay, msg *inboundMessage) {
	sessionID := controller.ID()

	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(out, sessionID, "invalid text payload")
			return
		}
		// 回复通过事件流推送，读循环不能被阻塞
		go func() {
			if _, err := controller.Submit(ctx, text.Text); err != nil {
				slog.Debug("websocket submit finished with error", "session", sessionID, "error", err)
			}
		}()
	case "input":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(out, sessionID, "invalid input payload")
			return
		}
		if err := controller.SetPendingInput(text.Text); err != nil {
			h.sendError(out, sessionID, err.Error())
		}
	case "config":
		var cfg ConfigMessage
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			h.sendError(out, sessionID, "invalid config payload")
			return
		}
		if err := h.applyConfig(controller, cfg); err != nil {
			h.sendError(out, sessionID, err.Error())
		}
	case "audio":
		var audio AudioMessage
		if err := json.Unmarshal(msg.Data, &audio); err != nil {
			h.sendError(out, sessionID, "invalid audio payload")
			return
		}
		link.HandleAudio(audio.AudioData, audio.Format, audio.IsFinal)
	case "tts-ended":
		var ended PlaybackMessage
		if err := json.Unmarshal(msg.Data, &ended); err != nil {
			h.sendError(out, sessionID, "invalid playback payload")
			return
		}
		link.HandlePlaybackEnded(ended.ID)
	case "capture":
		var capture CaptureMessage
		if err := json.Unmarshal(msg.Data, &capture); err != nil {
			h.sendError(out, sessionID, "invalid capture payload")
			return
		}
		switch capture.Action {
		case "granted":
			link.HandleCaptureReply(capture.ID, true, "")
		case "denied":
			link.HandleCaptureReply(capture.ID, false, capture.Reason)
		case "chunk":
			link.HandleCaptureChunk(capture.ID, capture.Data, capture.MimeType, capture.IsFinal)
		default:
			h.sendError(out, sessionID, "unsupported capture action: "+capture.Action)
		}
	default:
		h.sendError(out, sessionID, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) applyConfig(controller *assistantservice.Controller, cfg ConfigMessage) error {
	if cfg.Language != "" {
		if _, err := controller.SetLanguage(cfg.Language); err != nil {
			return err
		}
	}
	if cfg.Open != nil {
		if *cfg.Open {
			controller.OpenPanel()
		} else {
			controller.ClosePanel()
		}
	}
	return nil
}

// forwardEvents 将会话事件推送到客户端，会话结束时关闭连接
func (h *WebSocketHandler) forwardEvents(ctx context.Context, cancel context.CancelFunc, out *socket, events <-chan assistantservice.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				cancel()
				_ = out.conn.Close()
				return
			}
			if err := out.Send(eventFrame(event)); err != nil {
				slog.Debug("websocket event dropped", "session", event.SessionID, "type", event.Type, "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) sendError(out *socket, sessionID, message string) {
	err := out.Send(relay.Frame{
		Type:      relay.FrameError,
		SessionID: sessionID,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		slog.Debug("websocket write error failed", "session", sessionID, "error", err)
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, out *socket) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}

func eventFrame(event assistantservice.Event) relay.Frame {
	return relay.Frame{
		Type:      relay.FrameEvent,
		SessionID: event.SessionID,
		Data:      event,
		Timestamp: event.Timestamp,
	}
}
