package speech

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
	speechsvc "github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
	"github.com/trafficwatch/sos-assistant/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// Handler 语音服务的HTTP处理器
type Handler struct {
	transcriber speechsvc.Transcriber
	voice       speechsvc.Voice
}

// New 创建语音处理器
func New(transcriber speechsvc.Transcriber, voice speechsvc.Voice) *Handler {
	return &Handler{
		transcriber: transcriber,
		voice:       voice,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)

		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理上传的音频文件并返回识别文本
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech recognition unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	lang := language.Resolve(r.FormValue("language"))
	clip := speech.AudioClip{Data: data, Format: inferAudioFormat(header.Filename)}

	text, err := h.transcriber.Transcribe(r.Context(), clip, lang.Locale())
	if err != nil {
		slog.Warn("transcription failed", "language", lang, "bytes", len(data), "error", err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"text":     text,
		"language": lang.Info(),
	})
}

// handleSynthesize 将文本合成为音频并直接返回音频数据
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.voice == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}

	var payload struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	lang := language.Resolve(payload.Language)
	clip, err := h.voice.Synthesize(r.Context(), speech.NewUtterance(payload.Text, lang.Locale()))
	if err != nil {
		slog.Warn("synthesis failed", "language", lang, "error", err)
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	if clip.Empty() {
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis returned no audio")
		return
	}

	format := clip.Format
	if format == "" {
		format = "mpeg"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip.Data); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Warn("failed to write audio response", "error", err)
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"service":       "speech",
		"transcription": h.transcriber != nil,
		"synthesis":     h.voice != nil,
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".ogg", ".oga":
		return "ogg"
	case ".m4a":
		return "m4a"
	case ".mp4":
		return "mp4"
	default:
		return "webm"
	}
}
