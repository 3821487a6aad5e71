package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/P2Wdisabled/Notus-sub000/internal/auth"
	"github.com/P2Wdisabled/Notus-sub000/internal/history"
	"github.com/P2Wdisabled/Notus-sub000/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "notus_user_id"
	userEmailContextKey = "notus_user_email"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingRegistry         = errors.New("registry dependency required")
	errMissingRelay            = errors.New("relay dependency required")
	errMissingCoalescer        = errors.New("coalescer dependency required")
)

// SessionAuthenticator validates the session token presented at a request.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the realtime core into the HTTP surface.
type Dependencies struct {
	Sessions  SessionAuthenticator
	Registry  *realtime.Registry
	Relay     *realtime.Relay
	Coalescer *history.Coalescer
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the realtime endpoint, the
// explicit-save endpoint, and a health check.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Relay == nil {
		return nil, errMissingRelay
	}
	if deps.Coalescer == nil {
		return nil, errMissingCoalescer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		registry:  deps.Registry,
		relay:     deps.Relay,
		coalescer: deps.Coalescer,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is handled by the CORS middleware; the
			// upgrade accepts any origin the browser let through.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/realtime", handler.handleRealtime)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/documents/:id/save", handler.handleSave)

	return router, nil
}

type httpHandler struct {
	sessions  SessionAuthenticator
	registry  *realtime.Registry
	relay     *realtime.Relay
	coalescer *history.Coalescer
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRealtime(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("realtime handshake rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session, err := realtime.NewSession(realtime.SessionConfig{
		Conn:         conn,
		ConnectionID: uuid.NewString(),
		UserID:       claims.UserID,
		UserEmail:    claims.UserEmail,
		Registry:     h.registry,
		Relay:        h.relay,
		Logger:       h.logger,
	})
	if err != nil {
		h.logger.Error("session construction failed", zap.Error(err))
		conn.Close()
		return
	}

	session.Run(c.Request.Context())
}

type saveRequestPayload struct {
	UserEmail string   `json:"user_email"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
}

func (h *httpHandler) handleSave(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	documentID := c.Param("id")

	var request saveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userEmail := request.UserEmail
	if userEmail == "" {
		userEmail = c.GetString(userEmailContextKey)
	}

	// The flush owns the whole write: its baseline is the pending burst's
	// (or the previous durable snapshot), and its commit upserts the
	// document alongside the history append.
	flushErr := h.coalescer.Flush(c.Request.Context(), history.Key{
		DocumentID: documentID,
		UserID:     userID,
		UserEmail:  userEmail,
	}, history.FlushRequest{
		NextContent: request.Content,
		Title:       request.Title,
		Tags:        request.Tags,
	})
	if flushErr != nil {
		h.logger.Error("explicit save flush failed",
			zap.String("document_id", documentID),
			zap.Error(flushErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": flushErr.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("request authorization failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(userEmailContextKey, claims.UserEmail)
	c.Next()
}
