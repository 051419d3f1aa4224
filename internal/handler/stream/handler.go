package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	"github.com/trafficwatch/sos-assistant/backend/pkg/utils"
)

// Backend streams a reply for the full conversation history.
type Backend interface {
	Stream(ctx context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error)
}

// Handler serves the chat endpoint as Server-Sent Events.
type Handler struct {
	backend Backend
	limit   func(http.Handler) http.Handler
}

// New creates a stream handler. A nil backend answers 503.
func New(backend Backend, limit func(http.Handler) http.Handler) *Handler {
	return &Handler{backend: backend, limit: limit}
}

// RegisterRoutes mounts POST /chat.
func (h *Handler) RegisterRoutes(r chi.Router) {
	if h.limit != nil {
		r.With(h.limit).Post("/chat", h.HandleChat)
		return
	}
	r.Post("/chat", h.HandleChat)
}

// HandleChat decodes {messages, language} and relays the model's reply as
// text-delta frames terminated by [DONE].
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.backend == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "language model unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	stream, err := h.backend.Stream(ctx, req)
	if err != nil {
		slog.Warn("chat stream failed to start", "language", req.Language, "error", err)
		utils.RespondError(w, http.StatusBadGateway, "language model request failed")
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	sent := 0
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			slog.Warn("chat stream interrupted", "language", req.Language, "deltas", sent, "error", recvErr)
			_ = utils.SendSSEChunk(w, flusher, chat.StreamFrame{Type: chat.FrameError, ErrorText: recvErr.Error()})
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if err := utils.SendSSEChunk(w, flusher, chat.StreamFrame{Type: chat.FrameTextDelta, Delta: chunk.Content}); err != nil {
			// client went away
			return
		}
		sent++
	}

	if err := utils.SendSSERaw(w, flusher, chat.StreamDone); err != nil {
		return
	}
	slog.Debug("chat stream completed", "language", req.Language, "deltas", sent)
}

func validate(req *chat.CompletionRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	for i, turn := range req.Messages {
		if !turn.Role.Valid() {
			return errors.New("unsupported message role: " + string(turn.Role))
		}
		req.Messages[i].Content = strings.TrimSpace(turn.Content)
	}
	req.Language = language.Resolve(string(req.Language))
	return nil
}
