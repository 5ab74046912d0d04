// Package conversation persists guest chat history: conversations, their
// messages, and saved favorites. Every statement is filtered by the
// (tenant, reservation) pair carried in the caller's Grant, so one guest's
// rows are invisible to every other guest and tenant.
package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the conversation store.
var (
	// ErrNotFound covers both genuinely missing conversations and rows
	// belonging to another guest or tenant. The caller cannot tell the
	// difference, which is the point.
	ErrNotFound = errors.New("conversation not found")

	// ErrFavoriteNotFound indicates a favorite that is not saved on the
	// conversation.
	ErrFavoriteNotFound = errors.New("favorite not found")

	// ErrInvalidRole indicates a message role outside user/assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrInvalidKind indicates an unknown favorite kind.
	ErrInvalidKind = errors.New("invalid favorite kind")

	// ErrEmptyContent indicates a message with no content after trimming.
	ErrEmptyContent = errors.New("empty message content")
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole parses a message role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Kind classifies a saved favorite.
type Kind string

const (
	KindPlace      Kind = "place"
	KindActivity   Kind = "activity"
	KindRestaurant Kind = "restaurant"
	KindService    Kind = "service"
	KindEvent      Kind = "event"
)

// ParseKind parses a favorite kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPlace, KindActivity, KindRestaurant, KindService, KindEvent:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Conversation is one chat thread owned by a guest within a tenant.
type Conversation struct {
	ID string

	// Title starts empty and is filled from the first user message unless
	// the guest renames it.
	Title string

	// LastMessagePreview is a truncated copy of the newest message,
	// denormalized for the conversation list screen.
	LastMessagePreview string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a conversation. Sequence starts at 1 and increases
// by exactly one per append within a conversation.
type Message struct {
	ID             string
	ConversationID string
	Sequence       int
	Role           Role
	Content        string

	// Entities holds structured mentions extracted from assistant turns,
	// nil when extraction was skipped or failed.
	Entities map[string]any

	CreatedAt time.Time
}

// Favorite is a saved place, activity, restaurant, service, or event.
// (conversation, name) is unique; saving the same name twice keeps one row.
type Favorite struct {
	ID             string
	ConversationID string
	Kind           Kind
	Name           string
	Description    string
	CreatedAt      time.Time
}

// previewLimit bounds the denormalized preview and the auto-title.
const previewLimit = 80

// truncate clips s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
