package assistant

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
	assistantservice "github.com/trafficwatch/sos-assistant/backend/internal/service/assistant"
	chatservice "github.com/trafficwatch/sos-assistant/backend/internal/service/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
	speechservice "github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
	"github.com/trafficwatch/sos-assistant/backend/pkg/utils"
)

// Handler 紧急助手会话的HTTP处理器
type Handler struct {
	registry *assistantservice.Registry
	limit    func(http.Handler) http.Handler
	now      func() time.Time
}

// New 创建助手处理器，limit 为空时不限流
func New(registry *assistantservice.Registry, limit func(http.Handler) http.Handler) *Handler {
	return &Handler{
		registry: registry,
		limit:    limit,
		now:      time.Now,
	}
}

// RegisterRoutes 注册助手会话相关的路由，sessionRoutes 挂载在 /{sessionID} 之下
func (h *Handler) RegisterRoutes(r chi.Router, sessionRoutes ...func(chi.Router)) {
	r.Route("/assistant/sessions", func(sessions chi.Router) {
		sessions.Post("/", h.handleCreateSession)

		sessions.Route("/{sessionID}", func(s chi.Router) {
			s.Get("/", h.handleGetSession)
			s.Delete("/", h.handleDeleteSession)

			s.Post("/open", h.handleOpenPanel)
			s.Post("/close", h.handleClosePanel)
			s.Put("/language", h.handleSetLanguage)
			s.Put("/input", h.handleSetInput)

			if h.limit != nil {
				s.With(h.limit).Post("/messages", h.handleSubmit)
			} else {
				s.Post("/messages", h.handleSubmit)
			}

			s.Post("/speak", h.handleSpeak)
			s.Post("/speak/stop", h.handleStopSpeaking)
			s.Post("/listen", h.handleListen)
			s.Post("/listen/stop", h.handleStopListening)

			s.Post("/sos/start", h.handleStartRecording)
			s.Post("/sos/stop", h.handleStopRecording)
			s.Get("/sos/recordings", h.handleListRecordings)
			s.Delete("/sos/recordings/{recordingID}", h.handleDeleteRecording)
			s.Get("/sos/recordings/{recordingID}/download", h.handleDownloadRecording)

			for _, register := range sessionRoutes {
				register(s)
			}
		})
	})

	r.Get("/sos-recordings", h.handleListAllRecordings)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
		UserID   string `json:"userId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	controller := h.registry.Create(strings.TrimSpace(payload.UserID), payload.Language)
	utils.RespondJSON(w, http.StatusCreated, controller.Snapshot())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, controller.Snapshot())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusNoContent, nil)
}

// handleOpenPanel 打开助手面板，历史记录保留
func (h *Handler) handleOpenPanel(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	controller.OpenPanel()
	utils.RespondJSON(w, http.StatusOK, controller.Snapshot())
}

// handleClosePanel 关闭面板并停止播报与识别
func (h *Handler) handleClosePanel(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	controller.ClosePanel()
	utils.RespondJSON(w, http.StatusOK, controller.Snapshot())
}

// handleSetLanguage 切换语言，未知代码回退到英语
func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, supported := language.Parse(payload.Language)
	code, err := controller.SetLanguage(payload.Language)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"language": code.Info(),
		"fallback": !supported,
	})
}

func (h *Handler) handleSetInput(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := controller.SetPendingInput(payload.Text); err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusNoContent, nil)
}

type submitResponse struct {
	Accepted bool          `json:"accepted"`
	Message  *chat.Message `json:"message,omitempty"`
}

// handleSubmit 发送用户消息并等待完整回复；空文本时使用待发送输入
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		msg chat.Message
		err error
	)
	if strings.TrimSpace(payload.Text) == "" {
		msg, err = controller.SubmitPending(r.Context())
	} else {
		msg, err = controller.Submit(r.Context(), payload.Text)
	}

	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, submitResponse{Accepted: true, Message: &msg})
	case errors.Is(err, chatservice.ErrEmptyMessage):
		utils.RespondJSON(w, http.StatusOK, submitResponse{Accepted: false})
	case errors.Is(err, chatservice.ErrRequestInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatservice.ErrTransport):
		utils.RespondError(w, http.StatusBadGateway, "assistant reply failed, please try again")
	default:
		h.respondSessionError(w, err)
	}
}

// handleSpeak 朗读一条助手消息，抢占正在进行的播报
func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.MessageID == "" {
		utils.RespondError(w, http.StatusBadRequest, "messageId is required")
		return
	}

	err := controller.SpeakMessage(payload.MessageID)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusAccepted, map[string]bool{"speaking": true})
	case errors.Is(err, assistantservice.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, assistantservice.ErrNotSpeakable):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speechservice.ErrUnsupported):
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
	default:
		h.respondSessionError(w, err)
	}
}

func (h *Handler) handleStopSpeaking(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	controller.StopSpeaking()
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"speaking": false})
}

// handleListen 开始单句语音识别，结果写入待发送输入
func (h *Handler) handleListen(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	err := controller.StartListening()
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusAccepted, map[string]bool{"listening": true})
	case errors.Is(err, speechservice.ErrUnsupported):
		utils.RespondError(w, http.StatusServiceUnavailable, "speech recognition unavailable")
	case errors.Is(err, speechservice.ErrAlreadyListening):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.respondSessionError(w, err)
	}
}

func (h *Handler) handleStopListening(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	controller.StopListening()
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"listening": false})
}

// handleStartRecording 开始紧急录像，等待客户端授予摄像头权限
func (h *Handler) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	rec, err := controller.StartRecording(r.Context())
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusCreated, rec)
	case errors.Is(err, sos.ErrAlreadyRecording):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sos.ErrCaptureUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.respondSessionError(w, err)
	}
}

func (h *Handler) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	rec, err := controller.StopRecording()
	if errors.Is(err, sos.ErrNotRecording) {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, sos.NewListing(rec, h.now()))
}

func (h *Handler) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sos.NewListings(controller.Recordings(), h.now()))
}

func (h *Handler) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	if !controller.DeleteRecording(chi.URLParam(r, "recordingID")) {
		utils.RespondError(w, http.StatusNotFound, "recording not found")
		return
	}
	utils.RespondJSON(w, http.StatusNoContent, nil)
}

// handleDownloadRecording 以附件形式导出录像
func (h *Handler) handleDownloadRecording(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	rec, found := controller.Recording(chi.URLParam(r, "recordingID"))
	if !found {
		utils.RespondError(w, http.StatusNotFound, "recording not found")
		return
	}
	writeArtifact(w, rec)
}

// handleListAllRecordings 跨会话列出录像，可按 userId 过滤
func (h *Handler) handleListAllRecordings(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	utils.RespondJSON(w, http.StatusOK, sos.NewListings(h.registry.Recordings(userID), h.now()))
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*assistantservice.Controller, bool) {
	controller, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return controller, true
}

func (h *Handler) respondSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, assistantservice.ErrSessionClosed) || errors.Is(err, sos.ErrRecorderClosed) {
		utils.RespondError(w, http.StatusGone, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}

func writeArtifact(w http.ResponseWriter, rec recording.Recording) {
	if !rec.HasArtifact() {
		utils.RespondError(w, http.StatusNotFound, "recording has no captured media")
		return
	}

	mimeType := rec.MimeType
	if mimeType == "" {
		mimeType = recording.DefaultMimeType
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Artifact)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.ExportFilename()}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Artifact)
}
