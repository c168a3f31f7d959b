package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/InsulaLabs/skiff/models"
	"github.com/gorilla/websocket"
)

/*
	A Session is a persistent environment on the server, reached over a
	websocket. Commands are answered in order, one result frame per
	command frame, so the client drives the connection synchronously.
	A Session is not safe for concurrent use.
*/

type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// OpenSession dials the interactive session endpoint. The returned
// Session holds its environment server-side until Close.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {

	wsScheme := "ws"
	if c.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}

	wsURL := url.URL{
		Scheme: wsScheme,
		Host:   c.baseURL.Host,
		Path:   "/skiff/api/v1/session",
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", c.apiKey)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.httpClient.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify,
		},
	}

	c.logger.Debug("Dialing session websocket", "url", wsURL.String())

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			c.logger.Error("Session dial failed with response", "url", wsURL.String(), "status", resp.Status, "error", err)
			return nil, fmt.Errorf("failed to dial session %s (status: %s): %w", wsURL.String(), resp.Status, err)
		}
		c.logger.Error("Session dial failed", "url", wsURL.String(), "error", err)
		return nil, fmt.Errorf("failed to dial session %s: %w", wsURL.String(), err)
	}

	return &Session{
		conn:   conn,
		logger: c.logger.WithGroup("session"),
	}, nil
}

// do sends one command and waits for its result. Server pings arriving
// while we wait are absorbed by the read.
func (s *Session) do(cmd models.SessionCommand) (*models.SessionResult, error) {
	if err := s.conn.WriteJSON(cmd); err != nil {
		return nil, fmt.Errorf("failed to send %s command: %w", cmd.Op, err)
	}
	var result models.SessionResult
	if err := s.conn.ReadJSON(&result); err != nil {
		return nil, fmt.Errorf("failed to read %s result: %w", cmd.Op, err)
	}
	if result.Op != cmd.Op {
		// The server answers frames in order; a mismatch means the
		// connection was shared across goroutines.
		return nil, fmt.Errorf("result op %q does not match command op %q", result.Op, cmd.Op)
	}
	if result.Error != nil {
		return nil, translateError(0, *result.Error)
	}
	return &result, nil
}

// Eval evaluates source against the session environment under the
// session's current strategy.
func (s *Session) Eval(source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("source cannot be empty")
	}
	result, err := s.do(models.SessionCommand{Op: models.SessionOpEval, Source: source})
	if err != nil {
		return "", err
	}
	return result.Value, nil
}

// Bind evaluates source and extends the session environment with the
// result under name. Returns the rendered value.
func (s *Session) Bind(name, source string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name cannot be empty")
	}
	if source == "" {
		return "", fmt.Errorf("source cannot be empty")
	}
	result, err := s.do(models.SessionCommand{Op: models.SessionOpBind, Name: name, Source: source})
	if err != nil {
		return "", err
	}
	return result.Value, nil
}

// Env lists the session's bindings, innermost first.
func (s *Session) Env() ([]models.SessionBinding, error) {
	result, err := s.do(models.SessionCommand{Op: models.SessionOpEnv})
	if err != nil {
		return nil, err
	}
	return result.Bindings, nil
}

// Reset empties the session environment.
func (s *Session) Reset() error {
	_, err := s.do(models.SessionCommand{Op: models.SessionOpReset})
	return err
}

// SetStrategy switches the evaluator for subsequent commands and
// returns the strategy the server settled on.
func (s *Session) SetStrategy(strategy string) (string, error) {
	if strategy == "" {
		return "", fmt.Errorf("strategy cannot be empty")
	}
	result, err := s.do(models.SessionCommand{Op: models.SessionOpStrategy, Strategy: strategy})
	if err != nil {
		return "", err
	}
	return result.Strategy, nil
}

// Close sends a close frame and tears down the connection. The server
// discards the environment on disconnect.
func (s *Session) Close() error {
	err := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		s.logger.Debug("Failed to send close message", "error", err)
	}
	return s.conn.Close()
}
