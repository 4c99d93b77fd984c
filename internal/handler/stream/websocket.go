package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/calma/backend/internal/handler/httperr"
	"github.com/zhouzirui/calma/backend/internal/middleware"
	chatService "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
)

// EventDone closes every exchange on the socket.
const EventDone = "done"

// handleWebSocket accepts one TurnPayload per message and answers with one
// JSON frame per event followed by {"type":"done"}.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		httperr.Respond(w, chatService.ErrIdentityRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.FromCtx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := log.FromCtx(ctx)

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go pingLoop(ctx, conn, h.pingInterval)

	for {
		var payload TurnPayload
		if err := conn.ReadJSON(&payload); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		if err := h.validate.Struct(payload); err != nil {
			if !writeFrame(conn, chatService.Event{Type: chatService.EventError, Message: httperr.Validation(err)}) {
				return
			}
			conn.SetReadDeadline(time.Now().Add(h.readTimeout))
			continue
		}

		// pongs are only handled inside a read, so a turn must not run
		// against the idle deadline
		conn.SetReadDeadline(time.Time{})
		if !h.relay(ctx, conn, payload.request(userID)) {
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

// relay reports false once the connection can no longer be written to.
func (h *Handler) relay(ctx context.Context, conn *websocket.Conn, req chatService.TurnRequest) bool {
	events, err := h.chatSvc.Submit(ctx, req)
	if err != nil {
		return writeFrame(conn, chatService.Event{Type: chatService.EventError, Message: err.Error()}) &&
			writeFrame(conn, chatService.Event{Type: EventDone})
	}
	defer events.Close()

	for {
		event, err := events.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			event = chatService.Event{Type: chatService.EventError, Message: err.Error()}
		}
		if !writeFrame(conn, event) {
			return false
		}
		if err != nil {
			break
		}
	}
	return writeFrame(conn, chatService.Event{Type: EventDone})
}

func writeFrame(conn *websocket.Conn, event chatService.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(event); err != nil {
		log.Base().Debug().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
