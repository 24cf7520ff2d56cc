package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velickovic/clubchat/internal/domain"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// CreateDirect relies on the UNIQUE (user1_id, user2_id) index over the
// canonical pair: ON CONFLICT DO NOTHING makes racing calls converge on a
// single row, and the follow-up select returns whichever insert won.
func (r *ConversationRepo) CreateDirect(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	now := time.Now()
	tag, err := tx.Exec(ctx, `
		INSERT INTO conversations (id, kind, user1_id, user2_id, created_at)
		VALUES ($1, 'direct', $2, $3, $4)
		ON CONFLICT (user1_id, user2_id) DO NOTHING`,
		id, user1ID, user2ID, now,
	)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() == 1 {
		for _, uid := range []uuid.UUID{user1ID, user2ID} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_members (conversation_id, user_id, is_admin, joined_at)
				VALUES ($1, $2, false, $3)`,
				id, uid, now,
			); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return r.GetDirectByUsers(ctx, user1ID, user2ID)
}

func (r *ConversationRepo) GetDirectByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, kind, name, created_at
		FROM conversations
		WHERE kind = 'direct' AND user1_id = $1 AND user2_id = $2`
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, user1ID, user2ID).Scan(
		&conv.ID, &conv.Kind, &conv.Name, &conv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &conv, err
}

func (r *ConversationRepo) CreateGroup(ctx context.Context, conv *domain.Conversation, creatorID uuid.UUID, memberIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversations (id, kind, name, created_at)
		VALUES ($1, 'group', $2, $3)`,
		conv.ID, conv.Name, conv.CreatedAt,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, true, $3)`,
		conv.ID, creatorID, conv.CreatedAt,
	); err != nil {
		return err
	}

	for _, uid := range memberIDs {
		if uid == creatorID {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id, is_admin, joined_at)
			VALUES ($1, $2, false, $3)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			conv.ID, uid, conv.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT c.id, c.kind, c.name, c.created_at,
			(SELECT COUNT(*) FROM conversation_members cm WHERE cm.conversation_id = c.id)
		FROM conversations c
		WHERE c.id = $1`
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.Kind, &conv.Name, &conv.CreatedAt, &conv.MemberCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &conv, err
}

// ListForUser orders by last activity (latest message, falling back to
// creation time) and resolves the peer profile for directs plus the
// viewer's unread count per conversation.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	query := `
		SELECT c.id, c.kind, c.name, c.created_at,
			(SELECT COUNT(*) FROM conversation_members cm WHERE cm.conversation_id = c.id) AS member_count,
			COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.channel_id = c.id AND m.deleted_at IS NULL), c.created_at) AS last_activity,
			(SELECT COUNT(*) FROM messages m
				WHERE m.channel_id = c.id AND m.author_id <> $1 AND m.deleted_at IS NULL
				AND NOT EXISTS (SELECT 1 FROM read_receipts rr WHERE rr.message_id = m.id AND rr.user_id = $1)) AS unread,
			u.id, u.username, u.display_name, u.avatar_url
		FROM conversations c
		JOIN conversation_members me ON me.conversation_id = c.id AND me.user_id = $1
		LEFT JOIN conversation_members other
			ON c.kind = 'direct' AND other.conversation_id = c.id AND other.user_id <> $1
		LEFT JOIN users u ON u.id = other.user_id
		ORDER BY last_activity DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var peerID *uuid.UUID
		var peerUsername, peerDisplayName *string
		var peerAvatar *string
		if err := rows.Scan(
			&conv.ID, &conv.Kind, &conv.Name, &conv.CreatedAt,
			&conv.MemberCount, &conv.LastActivityAt, &conv.UnreadCount,
			&peerID, &peerUsername, &peerDisplayName, &peerAvatar,
		); err != nil {
			return nil, err
		}
		if conv.Kind == domain.KindDirect && peerID != nil {
			conv.Peer = &domain.PeerProfile{
				UserID:      *peerID,
				Username:    *peerUsername,
				DisplayName: *peerDisplayName,
				AvatarURL:   peerAvatar,
			}
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) AddMember(ctx context.Context, m *domain.ConversationMember) error {
	query := `
		INSERT INTO conversation_members (conversation_id, user_id, is_admin, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, m.ConversationID, m.UserID, m.IsAdmin, m.JoinedAt)
	return err
}

func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	return err
}

func (r *ConversationRepo) SetAdmin(ctx context.Context, conversationID, userID uuid.UUID, isAdmin bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversation_members SET is_admin = $1 WHERE conversation_id = $2 AND user_id = $3`, isAdmin, conversationID, userID)
	return err
}

func (r *ConversationRepo) GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationMember, error) {
	query := `
		SELECT conversation_id, user_id, is_admin, joined_at
		FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`
	var m domain.ConversationMember
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(
		&m.ConversationID, &m.UserID, &m.IsAdmin, &m.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &m, err
}

func (r *ConversationRepo) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationMember, error) {
	query := `
		SELECT cm.conversation_id, cm.user_id, cm.is_admin, cm.joined_at,
			u.username, u.display_name, u.avatar_url
		FROM conversation_members cm
		JOIN users u ON cm.user_id = u.id
		WHERE cm.conversation_id = $1
		ORDER BY cm.joined_at`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.ConversationMember
	for rows.Next() {
		var m domain.ConversationMember
		if err := rows.Scan(
			&m.ConversationID, &m.UserID, &m.IsAdmin, &m.JoinedAt,
			&m.Username, &m.DisplayName, &m.AvatarURL,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
