package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/simulator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the realtime session channel.
type WSHandler struct {
	hub      *simulator.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *simulator.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:      hub,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// conn serialises writes; gorilla allows one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) Send(event ws.Event, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteFrame(c.ws, event, data)
}

func (c *conn) SendError(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteError(c.ws, msg)
}

// Stream godoc
// WS /ws
// Clients join a session room with join_session and receive test_started,
// time_left and time_up.
func (h *WSHandler) Stream(c *gin.Context) {
	studentID := middleware.GetStudentID(c)

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer raw.Close()

	cn := &conn{ws: raw}
	defer h.hub.LeaveAll(cn)

	wsLog := h.log.With().Str("student_id", studentID.String()).Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var f ws.Frame
		if err := ws.ReadFrame(raw, &f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch f.Event {
		case ws.EventJoinSession:
			h.handleJoin(c.Request.Context(), cn, wsLog, studentID, f.Data)
		case ws.EventLeaveSession:
			if id, ok := sessionIDOf(f.Data); ok {
				h.hub.Leave(cn, id)
			}
		case ws.EventFinishSession:
			h.handleFinish(c.Request.Context(), cn, wsLog, studentID, f.Data)
		default:
			wsLog.Warn().Str("event", string(f.Event)).Msg("Unknown event")
			_ = cn.SendError("unknown event: " + string(f.Event))
		}
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, cn *conn, log zerolog.Logger, studentID model.ID, data json.RawMessage) {
	sessionID, ok := sessionIDOf(data)
	if !ok {
		_ = cn.SendError("session id is required")
		return
	}

	err := h.hub.Join(ctx, cn, studentID, sessionID)
	switch {
	case err == nil:
		log.Info().Str("session_id", sessionID.String()).Msg("Joined session room")
	case errors.Is(err, simulator.ErrSessionNotFound), errors.Is(err, simulator.ErrSessionForbidden):
		_ = cn.SendError("no such session")
	case errors.Is(err, simulator.ErrAlreadyFinished):
		_ = cn.SendError("session already finished")
	default:
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Join failed")
		_ = cn.SendError("join failed")
	}
}

func (h *WSHandler) handleFinish(ctx context.Context, cn *conn, log zerolog.Logger, studentID model.ID, data json.RawMessage) {
	sessionID, ok := sessionIDOf(data)
	if !ok {
		_ = cn.SendError("session id is required")
		return
	}

	err := h.hub.Finish(ctx, studentID, sessionID)
	switch {
	case err == nil:
		log.Debug().Str("session_id", sessionID.String()).Msg("Session countdown stopped")
	case errors.Is(err, simulator.ErrSessionNotFound), errors.Is(err, simulator.ErrSessionForbidden):
		_ = cn.SendError("no such session")
	default:
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Finish failed")
		_ = cn.SendError("finish failed")
	}
}

// sessionIDOf accepts the bare id string sent by join and leave, or the
// {sessionId} object sent by session:finish.
func sessionIDOf(data json.RawMessage) (model.ID, bool) {
	var id model.ID
	if err := json.Unmarshal(data, &id); err == nil && !id.IsZero() {
		return id, true
	}
	var fin ws.FinishSession
	if err := json.Unmarshal(data, &fin); err == nil && !fin.SessionID.IsZero() {
		return fin.SessionID, true
	}
	return "", false
}
