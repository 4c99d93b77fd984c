package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/calma/backend/internal/analysis/risk"
	"github.com/zhouzirui/calma/backend/internal/handler/chat"
	riskhandler "github.com/zhouzirui/calma/backend/internal/handler/risk"
	"github.com/zhouzirui/calma/backend/internal/handler/stream"
	"github.com/zhouzirui/calma/backend/internal/middleware"
	riskmodel "github.com/zhouzirui/calma/backend/internal/model/risk"
	"github.com/zhouzirui/calma/backend/internal/observability"
	chatService "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface exposes.
type Dependencies struct {
	Logger   zerolog.Logger
	Chat     *chatService.Service
	Alerts   riskmodel.AlertStore
	Monitor  *risk.Monitor
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(deps.Logger)...)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.Identity)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", observability.Handler(deps.Gatherer))
	}

	r.Route("/api", func(api chi.Router) {
		chat.New(deps.Chat).RegisterRoutes(api)
		stream.New(deps.Chat).RegisterRoutes(api)
		riskhandler.New(deps.Alerts, deps.Monitor, deps.Metrics).RegisterRoutes(api)
	})

	return r
}
