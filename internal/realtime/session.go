package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

var (
	errMissingConn  = errors.New("realtime: websocket connection is required")
	errMissingRelay = errors.New("realtime: relay is required")
)

// SessionConfig describes one accepted realtime connection.
type SessionConfig struct {
	Conn         *websocket.Conn
	ConnectionID string
	UserID       string
	UserEmail    string
	Registry     *Registry
	Relay        *Relay
	Logger       *zap.Logger
}

// Session pumps frames between one websocket connection and the relay. Each
// session owns a read goroutine and a write goroutine; the outbound queue is
// buffered so room broadcasts never block on a slow connection.
type Session struct {
	conn         *websocket.Conn
	connectionID string
	userID       string
	userEmail    string
	registry     *Registry
	relay        *Relay
	logger       *zap.Logger

	send chan []byte
	done chan struct{}
}

// NewSession validates the configuration and returns a Session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errMissingConn
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Relay == nil {
		return nil, errMissingRelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		conn:         cfg.Conn,
		connectionID: cfg.ConnectionID,
		userID:       cfg.UserID,
		userEmail:    cfg.UserEmail,
		registry:     cfg.Registry,
		relay:        cfg.Relay,
		logger:       logger,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
	}, nil
}

// ID returns the connection-local identifier.
func (s *Session) ID() string {
	return s.connectionID
}

// UserID returns the user identity bound at the handshake.
func (s *Session) UserID() string {
	return s.userID
}

// UserEmail returns the email identity bound at the handshake.
func (s *Session) UserEmail() string {
	return s.userEmail
}

// Enqueue hands a frame to the outbound queue without blocking.
func (s *Session) Enqueue(message []byte) bool {
	select {
	case s.send <- message:
		return true
	default:
		return false
	}
}

// Run services the connection until it closes, then guarantees the
// registry's disconnect fan-out runs exactly once.
func (s *Session) Run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.registry.Disconnect(s)
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("realtime read failed",
					zap.String("connection_id", s.connectionID),
					zap.Error(err))
			}
			return
		}
		s.relay.HandleMessage(ctx, s, message)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))                 //nolint:errcheck
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})              //nolint:errcheck
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
