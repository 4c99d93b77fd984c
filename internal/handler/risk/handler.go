package risk

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/calma/backend/internal/analysis/risk"
	"github.com/zhouzirui/calma/backend/internal/handler/httperr"
	"github.com/zhouzirui/calma/backend/internal/middleware"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	riskmodel "github.com/zhouzirui/calma/backend/internal/model/risk"
	"github.com/zhouzirui/calma/backend/internal/observability"
	chatService "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/pkg/log"
	"github.com/zhouzirui/calma/backend/pkg/utils"
)

// Handler ingests and evaluates risk telemetry.
type Handler struct {
	alerts   riskmodel.AlertStore
	monitor  *risk.Monitor
	metrics  *observability.Metrics
	validate *validator.Validate
}

func New(alerts riskmodel.AlertStore, monitor *risk.Monitor, metrics *observability.Metrics) *Handler {
	return &Handler{
		alerts:   alerts,
		monitor:  monitor,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/risk/alerts", h.handleIngest)
	r.Get("/risk/alerts", h.handleList)
	r.Post("/risk/evaluate", h.handleEvaluate)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var alert riskmodel.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(alert); err != nil {
		utils.RespondError(w, http.StatusBadRequest, httperr.Validation(err))
		return
	}

	saved, err := h.alerts.SaveAlert(r.Context(), alert)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	h.metrics.RiskAlert(observability.AlertSourceIngest)
	log.FromCtx(r.Context()).Info().
		Str("user_id", saved.UserID).
		Int("score", *saved.Score).
		Str("risk_type", saved.RiskType).
		Msg("risk alert received")

	utils.RespondJSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		httperr.Respond(w, chatService.ErrIdentityRequired)
		return
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), userID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type evaluateTurn struct {
	Role    chat.Role `json:"role" validate:"required,oneof=user assistant system"`
	Content string    `json:"content"`
	Emotion string    `json:"emotion"`
}

type evaluateRequest struct {
	Turns []evaluateTurn `json:"turns" validate:"required,min=1,dive"`
}

type evaluateResponse struct {
	risk.Assessment
	Alerted bool             `json:"alerted"`
	Alert   *riskmodel.Alert `json:"alert,omitempty"`
}

// handleEvaluate scores the submitted turns for the caller and records an
// alert when the policy fires.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		httperr.Respond(w, chatService.ErrIdentityRequired)
		return
	}

	var payload evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, httperr.Validation(err))
		return
	}

	turns := make([]chat.Turn, 0, len(payload.Turns))
	for _, t := range payload.Turns {
		turn := chat.Turn{Role: t.Role, Content: t.Content}
		if t.Emotion != "" {
			emotion := t.Emotion
			turn.Emotion = &emotion
		}
		turns = append(turns, turn)
	}

	assessment, alert := h.monitor.Evaluate(userID, turns)
	resp := evaluateResponse{Assessment: assessment}
	if alert != nil {
		saved, err := h.alerts.SaveAlert(r.Context(), *alert)
		if err != nil {
			httperr.Respond(w, err)
			return
		}
		h.metrics.RiskAlert(observability.AlertSourceEvaluate)
		resp.Alerted = true
		resp.Alert = &saved
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
