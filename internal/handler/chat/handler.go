package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/calma/backend/internal/handler/httperr"
	"github.com/zhouzirui/calma/backend/internal/middleware"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	chatService "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/pkg/utils"
)

// Handler 会话查询接口
type Handler struct {
	chatSvc *chatService.Service
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleHistory)
}

type historyResponse struct {
	Session chat.Session `json:"session"`
	Turns   []chat.Turn  `json:"turns"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	overviews, err := h.chatSvc.ListSessions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": overviews})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, turns, err := h.chatSvc.History(r.Context(), middleware.UserID(r.Context()), sessionID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{Session: session, Turns: turns})
}
