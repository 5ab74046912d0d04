package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/conversation"
	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
	"github.com/toneill57/muva-chat-sub006/internal/retrieval"
	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

// LoginResponse is the body of POST /api/guest/login.
type LoginResponse struct {
	Token     string          `json:"token"`
	GuestName string          `json:"guest_name"`
	CheckIn   string          `json:"check_in"`
	CheckOut  string          `json:"check_out"`
	Units     []guestauth.Unit `json:"units,omitempty"`
}

func (s *Server) handleLogin(c echo.Context) error {
	scope := requestScope(c)

	var creds guestauth.Credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	token, session, err := s.deps.Authenticator.Login(c.Request().Context(), scope, creds)
	if err != nil {
		if errors.Is(err, guestauth.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		s.logger.Error("login failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	s.setSessionCookie(c, token, session.ExpiresAt)
	return c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		GuestName: session.GuestName,
		CheckIn:   session.CheckIn.Format("2006-01-02"),
		CheckOut:  session.CheckOut.Format("2006-01-02"),
		Units:     session.Units,
	})
}

func (s *Server) handleLogout(c echo.Context) error {
	s.clearSessionCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Query          string   `json:"query"`
	ConversationID string   `json:"conversation_id,omitempty"`
	ContentTypes   []string `json:"content_types,omitempty"`
}

// ChatSource names one chunk that backed the answer.
type ChatSource struct {
	ContentType    string  `json:"content_type"`
	SourceDocument string  `json:"source_document"`
	Similarity     float32 `json:"similarity"`
}

// ChatResponse is the body of POST /api/chat.
type ChatResponse struct {
	Answer         string       `json:"answer"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Sources        []ChatSource `json:"sources"`
}

// handleChat runs retrieve, answer, persist. Persistence is best-effort:
// the guest gets the answer even when the history write fails.
func (s *Server) handleChat(c echo.Context) error {
	ctx := c.Request().Context()
	scope := requestScope(c)
	grant := requestGrant(c)

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var contentTypes []vectorstore.ContentType
	for _, name := range req.ContentTypes {
		contentType, err := vectorstore.ParseContentType(name)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown content type: "+name)
		}
		contentTypes = append(contentTypes, contentType)
	}

	chunks, err := s.deps.Retriever.AnswerContext(ctx, scope, req.Query, contentTypes)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}
		s.logger.Error("retrieval failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "retrieval failed")
	}

	answer, err := s.deps.Answerer.Answer(ctx, req.Query, chunks)
	if err != nil {
		s.logger.Error("answer generation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "answer generation failed")
	}

	conversationID := s.persistTurn(c, grant, req.ConversationID, req.Query, answer)

	sources := make([]ChatSource, len(chunks))
	for i, chunk := range chunks {
		sources[i] = ChatSource{
			ContentType:    string(chunk.ContentType),
			SourceDocument: chunk.SourceDocument,
			Similarity:     chunk.Similarity,
		}
	}
	return c.JSON(http.StatusOK, ChatResponse{
		Answer:         answer,
		ConversationID: conversationID,
		Sources:        sources,
	})
}

// persistTurn writes the user and assistant messages, creating the
// conversation when needed. Returns the conversation ID, or empty when
// persistence failed entirely.
func (s *Server) persistTurn(c echo.Context, grant guestauth.Grant, conversationID, question, answer string) string {
	ctx := c.Request().Context()

	if conversationID == "" {
		conv, err := s.deps.Store.CreateConversation(ctx, grant, "")
		if err != nil {
			s.logger.Warn("conversation create failed, answer not persisted", zap.Error(err))
			return ""
		}
		conversationID = conv.ID
	}

	if _, err := s.deps.Store.AppendMessage(ctx, grant, conversationID, conversation.RoleUser, question, nil); err != nil {
		s.logger.Warn("persisting user message failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return conversationID
	}

	var entities map[string]any
	if s.deps.Extractor != nil {
		entities = s.deps.Extractor.Extract(ctx, answer)
	}
	if _, err := s.deps.Store.AppendMessage(ctx, grant, conversationID, conversation.RoleAssistant, answer, entities); err != nil {
		s.logger.Warn("persisting assistant message failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	return conversationID
}

// ConversationResponse is one conversation in list/create responses.
type ConversationResponse struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	LastMessagePreview string `json:"last_message_preview"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func conversationResponse(conv conversation.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:                 conv.ID,
		Title:              conv.Title,
		LastMessagePreview: conv.LastMessagePreview,
		CreatedAt:          conv.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:          conv.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListConversations(c echo.Context) error {
	conversations, err := s.deps.Store.ListConversations(c.Request().Context(), requestGrant(c))
	if err != nil {
		return s.storeError(c, err)
	}
	out := make([]ConversationResponse, len(conversations))
	for i, conv := range conversations {
		out[i] = conversationResponse(conv)
	}
	return c.JSON(http.StatusOK, out)
}

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conv, err := s.deps.Store.CreateConversation(c.Request().Context(), requestGrant(c), req.Title)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusCreated, conversationResponse(conv))
}

// RenameConversationRequest is the body of PATCH /api/conversations/:id.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameConversation(c echo.Context) error {
	var req RenameConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.deps.Store.RenameConversation(c.Request().Context(), requestGrant(c), c.Param("id"), req.Title); err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	if err := s.deps.Store.DeleteConversation(c.Request().Context(), requestGrant(c), c.Param("id")); err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MessageResponse is one message in GET /api/conversations/:id/messages.
type MessageResponse struct {
	ID        string         `json:"id"`
	Sequence  int            `json:"sequence"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Entities  map[string]any `json:"entities,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func (s *Server) handleListMessages(c echo.Context) error {
	messages, err := s.deps.Store.ListMessages(c.Request().Context(), requestGrant(c), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}
	out := make([]MessageResponse, len(messages))
	for i, message := range messages {
		out[i] = MessageResponse{
			ID:        message.ID,
			Sequence:  message.Sequence,
			Role:      string(message.Role),
			Content:   message.Content,
			Entities:  message.Entities,
			CreatedAt: message.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// FavoriteRequest is the body of POST /api/conversations/:id/favorites.
type FavoriteRequest struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FavoriteResponse is one favorite in list responses.
type FavoriteResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleAddFavorite(c echo.Context) error {
	var req FavoriteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err := s.deps.Store.AddFavorite(c.Request().Context(), requestGrant(c), c.Param("id"), conversation.Favorite{
		Kind:        conversation.Kind(req.Kind),
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRemoveFavorite(c echo.Context) error {
	err := s.deps.Store.RemoveFavorite(c.Request().Context(), requestGrant(c), c.Param("id"), c.Param("name"))
	if err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListFavorites(c echo.Context) error {
	favorites, err := s.deps.Store.ListFavorites(c.Request().Context(), requestGrant(c), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}
	out := make([]FavoriteResponse, len(favorites))
	for i, favorite := range favorites {
		out[i] = FavoriteResponse{
			ID:          favorite.ID,
			Kind:        string(favorite.Kind),
			Name:        favorite.Name,
			Description: favorite.Description,
			CreatedAt:   favorite.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// storeError maps conversation store errors onto HTTP statuses.
func (s *Server) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrFavoriteNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "favorite not found")
	case errors.Is(err, conversation.ErrInvalidKind),
		errors.Is(err, conversation.ErrInvalidRole),
		errors.Is(err, conversation.ErrEmptyContent):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("conversation store error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
