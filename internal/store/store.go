package store

import (
	"context"
	"time"

	"github.com/pliu/parley/internal/models"
)

// ConversationUpdate holds the mutable conversation fields; nil means unchanged.
type ConversationUpdate struct {
	Title *string
	Type  *models.ConversationType
	// PairKey sets the dedup key when a conversation becomes private;
	// ClearPairKey drops it when it becomes a group.
	PairKey      *string
	ClearPairKey bool
}

// AttachmentUpdate replaces a message's voice note.
type AttachmentUpdate struct {
	Path     string
	Duration int
	Metadata map[string]any
}

type Store interface {
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	CountUsers(ctx context.Context, ids []uint) (int64, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
	SetPushToken(ctx context.Context, userID uint, token *string) error

	// Token operations
	CreateToken(ctx context.Context, token *models.AccessToken) error
	GetToken(ctx context.Context, id uint) (*models.AccessToken, error)
	TouchToken(ctx context.Context, id uint, at time.Time) error
	DeleteToken(ctx context.Context, id uint) error

	// Conversation operations
	CreateConversation(ctx context.Context, conv *models.Conversation, userIDs []uint, joinedAt time.Time) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error)
	GetUserConversations(ctx context.Context, userID uint, page, perPage int) ([]models.Conversation, int64, error)
	UpdateConversation(ctx context.Context, id uint, update ConversationUpdate) error
	DeleteConversation(ctx context.Context, id uint) error

	// Message operations
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	GetChatMessages(ctx context.Context, conversationID uint, page, perPage int) ([]models.Message, int64, error)
	EditMessage(ctx context.Context, id uint, body string, editedAt time.Time) error
	ReplaceAttachment(ctx context.Context, id uint, update AttachmentUpdate) error
	DeleteMessage(ctx context.Context, id uint) error

	// Read cursor operations
	MarkRead(ctx context.Context, conversationID, userID uint, at time.Time) (time.Time, error)
	ReadCursors(ctx context.Context, conversationID uint) ([]models.ReadCursor, error)
	UnreadCount(ctx context.Context, conversationID, userID uint) (int64, error)
	UnreadCounts(ctx context.Context, userID uint, conversationIDs []uint) (map[uint]int64, error)
}
