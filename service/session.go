package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/InsulaLabs/skiff/eval"
	"github.com/InsulaLabs/skiff/models"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	sendBufferSize = 16                  // Buffer size for the send channel.
)

/*
	A connected repl session. The environment and strategy are owned by
	the readPump goroutine alone; commands arrive one frame at a time
	on a single connection, so no locking is needed around them.
*/
type replSession struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	service  *Service
	env      *eval.Env
	strategy eval.Strategy
}

// sessionHandler upgrades the connection and hands it a persistent
// environment for the lifetime of the socket.
func (s *Service) sessionHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
		return
	}

	if !s.validateApiKey(w, r) {
		return
	}

	s.sessionsLock.Lock()
	if s.activeWsConnections >= int32(s.cfg.Service.Sessions.MaxConnections) {
		s.sessionsLock.Unlock()
		s.logger.Warn(
			"Max WebSocket connections reached, rejecting new connection",
			"current", s.activeWsConnections,
			"max", s.cfg.Service.Sessions.MaxConnections,
		)
		writeError(w, http.StatusServiceUnavailable, models.ErrorTypeRateLimited, "session capacity reached")
		return
	}
	// Incrementing is done in registerSession after a successful upgrade
	s.sessionsLock.Unlock()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	session := &replSession{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		service:  s,
		env:      nil, // Sessions start from the empty environment
		strategy: s.defaultStrategy,
	}

	s.logger.Info(
		"WebSocket session opened",
		"session_id", session.id,
		"remote_addr", conn.RemoteAddr().String(),
		"strategy", session.strategy,
	)

	s.registerSession(session)

	go session.writePump()
	go session.readPump()
}

func (s *Service) registerSession(session *replSession) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if s.activeWsConnections >= int32(s.cfg.Service.Sessions.MaxConnections) {
		s.logger.Error(
			"Attempted to register session when max connections already met or exceeded",
			"active", s.activeWsConnections,
			"max", s.cfg.Service.Sessions.MaxConnections,
		)
		go session.conn.Close()
		return
	}
	s.activeWsConnections++
	s.sessions[session] = true

	s.logger.Info("Session registered", "session_id", session.id, "count", s.activeWsConnections)
}

func (s *Service) unregisterSession(session *replSession) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if _, ok := s.sessions[session]; !ok {
		return
	}
	delete(s.sessions, session)

	if s.activeWsConnections > 0 {
		s.activeWsConnections--
	} else {
		s.logger.Warn("Attempted to decrement active WebSocket connections below zero")
	}

	s.logger.Info("Session unregistered", "session_id", session.id, "count", s.activeWsConnections)

	close(session.send)
}

// readPump owns the session state. It decodes one command per frame,
// applies it, and queues the result for the writePump. The application
// ensures at most one reader per connection by doing all reads here.
func (rs *replSession) readPump() {
	defer func() {
		rs.service.unregisterSession(rs)
		rs.conn.Close()
		rs.service.logger.Info(
			"WebSocket readPump finished, connection closed and unregistered",
			"session_id", rs.id,
			"remote_addr", rs.conn.RemoteAddr(),
		)
	}()

	// Frames carry whole programs, so the read limit follows the
	// source cap plus envelope headroom.
	rs.conn.SetReadLimit(int64(rs.service.cfg.Service.MaxSourceBytes) + 1024)
	rs.conn.SetReadDeadline(time.Time{})

	rs.conn.SetPongHandler(func(string) error {
		rs.service.logger.Debug("WebSocket pong received", "session_id", rs.id)
		rs.conn.SetReadDeadline(time.Time{})
		return nil
	})

	for {
		_, message, err := rs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				rs.service.logger.Error(
					"WebSocket read error",
					"session_id", rs.id,
					"remote_addr", rs.conn.RemoteAddr(),
					"error", err,
				)
			} else {
				rs.service.logger.Info(
					"WebSocket connection closed",
					"session_id", rs.id,
					"remote_addr", rs.conn.RemoteAddr(),
					"error", err,
				)
			}
			break
		}

		var cmd models.SessionCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			rs.queueResult(models.SessionResult{
				Error: &models.ErrorResponse{
					ErrorType: models.ErrorTypeBadRequest,
					Message:   "invalid JSON payload: " + err.Error(),
				},
			})
			continue
		}

		rs.queueResult(rs.handleCommand(cmd))
	}
}

func (rs *replSession) queueResult(result models.SessionResult) {
	message, err := json.Marshal(result)
	if err != nil {
		rs.service.logger.Error("Failed to marshal session result", "session_id", rs.id, "error", err)
		return
	}
	select {
	case rs.send <- message:
	default:
		rs.service.logger.Warn("Session send channel full, result dropped", "session_id", rs.id)
	}
}

func (rs *replSession) errorResult(op string, err error) models.SessionResult {
	_, rsp := classifyError(err)
	return models.SessionResult{Op: op, Error: &rsp}
}

func (rs *replSession) badCommand(op string, message string) models.SessionResult {
	return models.SessionResult{
		Op: op,
		Error: &models.ErrorResponse{
			ErrorType: models.ErrorTypeBadRequest,
			Message:   message,
		},
	}
}

func (rs *replSession) handleCommand(cmd models.SessionCommand) models.SessionResult {
	switch cmd.Op {

	case models.SessionOpEval:
		if cmd.Source == "" {
			return rs.badCommand(cmd.Op, "eval requires source")
		}
		expr, err := rs.service.parseProgram(cmd.Source)
		if err != nil {
			return rs.errorResult(cmd.Op, err)
		}
		value, err := eval.Evaluate(rs.strategy, expr, rs.env)
		if err != nil {
			return rs.errorResult(cmd.Op, err)
		}
		return models.SessionResult{Op: cmd.Op, Value: value.String()}

	case models.SessionOpBind:
		if cmd.Name == "" {
			return rs.badCommand(cmd.Op, "bind requires a name")
		}
		if cmd.Source == "" {
			return rs.badCommand(cmd.Op, "bind requires source")
		}
		expr, err := rs.service.parseProgram(cmd.Source)
		if err != nil {
			return rs.errorResult(cmd.Op, err)
		}
		// Bind always extends with the evaluated result, even under
		// lazy; a session binding is a user-visible commitment, not a
		// deferred computation.
		value, err := eval.Evaluate(rs.strategy, expr, rs.env)
		if err != nil {
			return rs.errorResult(cmd.Op, err)
		}
		rs.env = rs.env.Extend(cmd.Name, value)
		return models.SessionResult{Op: cmd.Op, Value: value.String()}

	case models.SessionOpEnv:
		bindings := rs.env.Bindings()
		out := make([]models.SessionBinding, len(bindings))
		for i, binding := range bindings {
			out[i] = models.SessionBinding{
				Name:  binding.Name,
				Value: binding.Value.String(),
			}
		}
		return models.SessionResult{Op: cmd.Op, Bindings: out}

	case models.SessionOpReset:
		rs.env = nil
		return models.SessionResult{Op: cmd.Op}

	case models.SessionOpStrategy:
		strategy := eval.Strategy(cmd.Strategy)
		if !strategy.Valid() {
			return rs.badCommand(cmd.Op, "unknown strategy: "+cmd.Strategy)
		}
		rs.strategy = strategy
		return models.SessionResult{Op: cmd.Op, Strategy: cmd.Strategy}

	default:
		return rs.badCommand(cmd.Op, "unknown op: "+cmd.Op)
	}
}

// writePump pumps queued results to the WebSocket connection. A
// goroutine running writePump is started for each connection; all
// writes happen here so there is at most one writer per connection.
func (rs *replSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		rs.conn.Close() // Ensure connection is closed if writePump exits
		rs.service.logger.Info("WebSocket writePump finished", "session_id", rs.id)
	}()
	for {
		select {
		case message, ok := <-rs.send:
			rs.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The service closed the channel.
				rs.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := rs.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				rs.service.logger.Error("WebSocket message write error", "session_id", rs.id, "error", err)
				return
			}
		case <-ticker.C:
			rs.conn.SetWriteDeadline(time.Now().Add(writeWait))
			rs.service.logger.Debug("WebSocket sending ping", "session_id", rs.id)
			if err := rs.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				rs.service.logger.Error("WebSocket ping write error", "session_id", rs.id, "error", err)
				return
			}
		case <-rs.service.appCtx.Done():
			rs.service.logger.Info("Service context done, closing WebSocket connection from writePump", "session_id", rs.id)
			return
		}
	}
}
