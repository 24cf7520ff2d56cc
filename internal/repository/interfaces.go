package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type ConversationRepository interface {
	// CreateDirect inserts a direct conversation for the canonical (user1 < user2)
	// pair and returns the row that ends up existing, whether this call created
	// it or a concurrent one did.
	CreateDirect(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error)
	GetDirectByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error)
	CreateGroup(ctx context.Context, conv *domain.Conversation, creatorID uuid.UUID, memberIDs []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	AddMember(ctx context.Context, member *domain.ConversationMember) error
	RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error
	SetAdmin(ctx context.Context, conversationID, userID uuid.UUID, isAdmin bool) error
	GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationMember, error)
	ListMembers(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationMember, error)
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListPage(ctx context.Context, channelID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type ReactionRepository interface {
	// Toggle removes the (message, user, emoji) row if present, inserts it
	// otherwise, and reports whether the row exists afterwards.
	Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (added bool, err error)
	ListForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReactionGroup, error)
}

type ReceiptRepository interface {
	// MarkRead records the receipt if absent and reports whether a row was
	// inserted. Receipts are never deleted.
	MarkRead(ctx context.Context, messageID, userID uuid.UUID, readAt time.Time) (inserted bool, err error)
	ListForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReadReceipt, error)
}
