package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/calma/backend/internal/handler/httperr"
	"github.com/zhouzirui/calma/backend/internal/middleware"
	chatService "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/pkg/log"
	"github.com/zhouzirui/calma/backend/pkg/utils"
)

// Handler relays a submitted turn's events to the client.
type Handler struct {
	chatSvc  *chatService.Service
	validate *validator.Validate
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	pingInterval time.Duration
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
	r.Get("/chat/ws", h.handleWebSocket)
}

// TurnPayload is the body of a turn submission.
type TurnPayload struct {
	SessionID string                `json:"sessionId"`
	Turns     []chatService.Message `json:"turns" validate:"required,min=1,dive"`
}

func (p TurnPayload) request(userID string) chatService.TurnRequest {
	return chatService.TurnRequest{UserID: userID, SessionID: p.SessionID, Turns: p.Turns}
}

// handleStream answers with SSE records terminated by [DONE]. Anything that
// fails before the first record is a plain JSON error.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload TurnPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, httperr.Validation(err))
		return
	}

	ctx := r.Context()
	events, err := h.chatSvc.Submit(ctx, payload.request(middleware.UserID(ctx)))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	defer events.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	logger := log.FromCtx(ctx)
	for {
		event, err := events.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			event = chatService.Event{Type: chatService.EventError, Message: err.Error()}
		}
		if writeErr := utils.SendSSEChunk(w, flusher, event); writeErr != nil {
			logger.Debug().Err(writeErr).Msg("client went away during stream")
			return
		}
		if err != nil {
			break
		}
	}

	if err := utils.SendSSEDone(w, flusher); err != nil {
		logger.Debug().Err(err).Msg("failed to write stream terminator")
	}
}
