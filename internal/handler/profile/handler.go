package profile

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
	"github.com/zhouzirui/z-counsel/backend/pkg/utils"
)

// Handler 助手档案的HTTP处理器
type Handler struct {
	profiles profile.Store
}

// New 创建档案处理器
func New(profiles profile.Store) *Handler {
	return &Handler{
		profiles: profiles,
	}
}

// RegisterRoutes 注册档案相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/profile", h.handleDefaultProfile)
	r.Get("/profiles", h.handleListProfiles)
}

// handleDefaultProfile 返回新会话使用的档案
func (h *Handler) handleDefaultProfile(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.Default())
}

// handleListProfiles 列出所有档案
func (h *Handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.List())
}
