package language

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	"github.com/trafficwatch/sos-assistant/backend/pkg/utils"
)

// Handler 语言列表的HTTP处理器
type Handler struct{}

// New 创建语言处理器
func New() *Handler {
	return &Handler{}
}

// RegisterRoutes 注册语言相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/languages", h.handleListLanguages)
}

// handleListLanguages 列出支持的语言，默认语言排在首位
func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"default":   language.Default.Info(),
		"languages": language.All(),
	})
}
