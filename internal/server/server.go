// Package server exposes the guest chat API over HTTP. Every request is
// pinned to a tenant before anything else happens; protected routes
// additionally require a guest session issued for that same tenant.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/conversation"
	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

// Retriever assembles the ranked context for a guest query.
type Retriever interface {
	AnswerContext(ctx context.Context, scope tenant.Resolved, query string, contentTypes []vectorstore.ContentType) ([]vectorstore.SearchResult, error)
}

// Answerer turns a question plus retrieved chunks into an answer.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []vectorstore.SearchResult) (string, error)
}

// EntityExtractor pulls structured entities from an assistant turn.
// Implementations are best-effort and must never fail the request.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) map[string]any
}

// ConversationStore is the persistence surface the handlers need.
type ConversationStore interface {
	CreateConversation(ctx context.Context, grant guestauth.Grant, title string) (conversation.Conversation, error)
	ListConversations(ctx context.Context, grant guestauth.Grant) ([]conversation.Conversation, error)
	RenameConversation(ctx context.Context, grant guestauth.Grant, conversationID, title string) error
	DeleteConversation(ctx context.Context, grant guestauth.Grant, conversationID string) error
	AppendMessage(ctx context.Context, grant guestauth.Grant, conversationID string, role conversation.Role, content string, entities map[string]any) (conversation.Message, error)
	ListMessages(ctx context.Context, grant guestauth.Grant, conversationID string) ([]conversation.Message, error)
	AddFavorite(ctx context.Context, grant guestauth.Grant, conversationID string, favorite conversation.Favorite) error
	RemoveFavorite(ctx context.Context, grant guestauth.Grant, conversationID, name string) error
	ListFavorites(ctx context.Context, grant guestauth.Grant, conversationID string) ([]conversation.Favorite, error)
}

// Config holds HTTP server settings.
type Config struct {
	Host string
	Port int
}

// Dependencies bundles the collaborators a Server needs.
type Dependencies struct {
	Resolver      *tenant.Resolver
	Authenticator *guestauth.Authenticator
	Retriever     Retriever
	Answerer      Answerer
	Extractor     EntityExtractor
	Store         ConversationStore
}

// Server is the guest chat HTTP server.
type Server struct {
	echo   *echo.Echo
	deps   Dependencies
	logger *zap.Logger
	config Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(deps Dependencies, cfg Config, logger *zap.Logger) (*Server, error) {
	if deps.Resolver == nil {
		return nil, fmt.Errorf("tenant resolver is required")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if deps.Answerer == nil {
		return nil, fmt.Errorf("answerer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("server"),
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api", s.tenantMiddleware)
	api.POST("/guest/login", s.handleLogin)
	api.POST("/guest/logout", s.handleLogout)

	protected := api.Group("", s.sessionMiddleware)
	protected.POST("/chat", s.handleChat)
	protected.GET("/conversations", s.handleListConversations)
	protected.POST("/conversations", s.handleCreateConversation)
	protected.PATCH("/conversations/:id", s.handleRenameConversation)
	protected.DELETE("/conversations/:id", s.handleDeleteConversation)
	protected.GET("/conversations/:id/messages", s.handleListMessages)
	protected.GET("/conversations/:id/favorites", s.handleListFavorites)
	protected.POST("/conversations/:id/favorites", s.handleAddFavorite)
	protected.DELETE("/conversations/:id/favorites/:name", s.handleRemoveFavorite)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree; tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.echo
}
