package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
)

// Store is the postgres-backed conversation store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewStore creates a conversation store over db.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.Named("conversation"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

const (
	insertConversationQuery = `
INSERT INTO conversations (id, tenant_id, reservation_id, title, last_message_preview, created_at, updated_at)
VALUES ($1, $2, $3, $4, '', $5, $5)`

	listConversationsQuery = `
SELECT id, title, last_message_preview, created_at, updated_at
FROM conversations
WHERE tenant_id = $1 AND reservation_id = $2
ORDER BY updated_at DESC`

	renameConversationQuery = `
UPDATE conversations SET title = $1, updated_at = $2
WHERE id = $3 AND tenant_id = $4 AND reservation_id = $5`

	lockConversationQuery = `
SELECT title FROM conversations
WHERE id = $1 AND tenant_id = $2 AND reservation_id = $3
FOR UPDATE`

	ownConversationQuery = `
SELECT 1 FROM conversations
WHERE id = $1 AND tenant_id = $2 AND reservation_id = $3`

	deleteFavoritesQuery     = `DELETE FROM favorites WHERE conversation_id = $1`
	deleteMessagesQuery      = `DELETE FROM messages WHERE conversation_id = $1`
	deleteConversationQuery  = `DELETE FROM conversations WHERE id = $1`
	nextSequenceQuery        = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = $1`
	insertMessageQuery       = `
INSERT INTO messages (id, conversation_id, sequence, role, content, entities, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	touchConversationQuery = `
UPDATE conversations SET title = $1, last_message_preview = $2, updated_at = $3 WHERE id = $4`

	listMessagesQuery = `
SELECT id, sequence, role, content, entities, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY sequence ASC`

	insertFavoriteQuery = `
INSERT INTO favorites (id, conversation_id, kind, name, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (conversation_id, name) DO NOTHING`

	removeFavoriteQuery = `DELETE FROM favorites WHERE conversation_id = $1 AND name = $2`

	listFavoritesQuery = `
SELECT id, kind, name, description, created_at
FROM favorites
WHERE conversation_id = $1
ORDER BY created_at ASC`
)

// CreateConversation starts a new thread for the grant's guest. The title
// may be empty; the first user message fills it in.
func (s *Store) CreateConversation(ctx context.Context, grant guestauth.Grant, title string) (Conversation, error) {
	now := s.now().UTC()
	conv := Conversation{
		ID:        s.newID(),
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, insertConversationQuery,
		conv.ID, string(grant.TenantID()), grant.ReservationID(), conv.Title, now)
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the guest's threads, most recently active first.
func (s *Store) ListConversations(ctx context.Context, grant guestauth.Grant) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, listConversationsQuery,
		string(grant.TenantID()), grant.ReservationID())
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.LastMessagePreview, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return conversations, nil
}

// RenameConversation sets a thread's title.
func (s *Store) RenameConversation(ctx context.Context, grant guestauth.Grant, conversationID, title string) error {
	result, err := s.db.ExecContext(ctx, renameConversationQuery,
		strings.TrimSpace(title), s.now().UTC(), conversationID, string(grant.TenantID()), grant.ReservationID())
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a thread and everything hanging off it in one
// transaction. Partial deletion is never visible.
func (s *Store) DeleteConversation(ctx context.Context, grant guestauth.Grant, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx, lockConversationQuery,
		conversationID, string(grant.TenantID()), grant.ReservationID()).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking conversation: %w", err)
	}

	for _, query := range []string{deleteFavoritesQuery, deleteMessagesQuery, deleteConversationQuery} {
		if _, err := tx.ExecContext(ctx, query, conversationID); err != nil {
			return fmt.Errorf("cascading delete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// AppendMessage adds one turn to a conversation. The sequence number is
// assigned under a row lock so concurrent appends cannot collide, and the
// conversation's preview, activity time, and auto-title move in the same
// transaction.
func (s *Store) AppendMessage(ctx context.Context, grant guestauth.Grant, conversationID string, role Role, content string, entities map[string]any) (Message, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return Message{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}

	var rawEntities []byte
	if len(entities) > 0 {
		raw, err := json.Marshal(entities)
		if err != nil {
			return Message{}, fmt.Errorf("encoding entities: %w", err)
		}
		rawEntities = raw
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx, lockConversationQuery,
		conversationID, string(grant.TenantID()), grant.ReservationID()).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("locking conversation: %w", err)
	}

	var sequence int
	if err := tx.QueryRowContext(ctx, nextSequenceQuery, conversationID).Scan(&sequence); err != nil {
		return Message{}, fmt.Errorf("assigning sequence: %w", err)
	}

	now := s.now().UTC()
	message := Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		Sequence:       sequence,
		Role:           role,
		Content:        content,
		Entities:       entities,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx, insertMessageQuery,
		message.ID, conversationID, sequence, string(role), content, rawEntities, now); err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	if title == "" && role == RoleUser {
		title = truncate(content, previewLimit)
	}
	if _, err := tx.ExecContext(ctx, touchConversationQuery,
		title, truncate(content, previewLimit), now, conversationID); err != nil {
		return Message{}, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("committing append: %w", err)
	}
	return message, nil
}

// ListMessages returns a conversation's turns in sequence order.
func (s *Store) ListMessages(ctx context.Context, grant guestauth.Grant, conversationID string) ([]Message, error) {
	if err := s.checkOwnership(ctx, grant, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, listMessagesQuery, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			message     Message
			role        string
			rawEntities []byte
		)
		if err := rows.Scan(&message.ID, &message.Sequence, &role, &message.Content, &rawEntities, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		message.ConversationID = conversationID
		message.Role = Role(role)
		if len(rawEntities) > 0 {
			if err := json.Unmarshal(rawEntities, &message.Entities); err != nil {
				return nil, fmt.Errorf("decoding entities for message %s: %w", message.ID, err)
			}
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// AddFavorite saves a favorite on a conversation. Saving a name that is
// already on the conversation is a no-op, not an error.
func (s *Store) AddFavorite(ctx context.Context, grant guestauth.Grant, conversationID string, favorite Favorite) error {
	if _, err := ParseKind(string(favorite.Kind)); err != nil {
		return err
	}
	favorite.Name = strings.TrimSpace(favorite.Name)
	if favorite.Name == "" {
		return fmt.Errorf("%w: empty favorite name", ErrInvalidKind)
	}
	if err := s.checkOwnership(ctx, grant, conversationID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, insertFavoriteQuery,
		s.newID(), conversationID, string(favorite.Kind), favorite.Name, favorite.Description, s.now().UTC())
	if err != nil {
		return fmt.Errorf("inserting favorite: %w", err)
	}
	return nil
}

// RemoveFavorite deletes a favorite by name.
func (s *Store) RemoveFavorite(ctx context.Context, grant guestauth.Grant, conversationID, name string) error {
	if err := s.checkOwnership(ctx, grant, conversationID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, removeFavoriteQuery, conversationID, name)
	if err != nil {
		return fmt.Errorf("removing favorite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing favorite: %w", err)
	}
	if affected == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

// ListFavorites returns a conversation's favorites in save order.
func (s *Store) ListFavorites(ctx context.Context, grant guestauth.Grant, conversationID string) ([]Favorite, error) {
	if err := s.checkOwnership(ctx, grant, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, listFavoritesQuery, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	defer rows.Close()

	favorites := []Favorite{}
	for rows.Next() {
		var (
			favorite Favorite
			kind     string
		)
		if err := rows.Scan(&favorite.ID, &kind, &favorite.Name, &favorite.Description, &favorite.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning favorite: %w", err)
		}
		favorite.ConversationID = conversationID
		favorite.Kind = Kind(kind)
		favorites = append(favorites, favorite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating favorites: %w", err)
	}
	return favorites, nil
}

// checkOwnership verifies the conversation belongs to the grant's guest.
// A miss for any reason reads as not-found.
func (s *Store) checkOwnership(ctx context.Context, grant guestauth.Grant, conversationID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, ownConversationQuery,
		conversationID, string(grant.TenantID()), grant.ReservationID()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation ownership: %w", err)
	}
	return nil
}
