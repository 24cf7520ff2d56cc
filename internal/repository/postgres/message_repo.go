package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velickovic/clubchat/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	var replyAuthor, replyContent, replyImage *string
	if msg.ReplyPreview != nil {
		replyAuthor = &msg.ReplyPreview.AuthorName
		replyContent = msg.ReplyPreview.Content
		replyImage = msg.ReplyPreview.ImageURL
	}

	query := `
		INSERT INTO messages (id, channel_id, author_id, content, image_url, reply_to_id,
			reply_author_name, reply_content, reply_image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, msg.ImageURL, msg.ReplyToID,
		replyAuthor, replyContent, replyImage, msg.CreatedAt,
	)
	return err
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT m.id, m.channel_id, m.author_id, m.content, m.image_url, m.reply_to_id,
			m.reply_author_name, m.reply_content, m.reply_image_url,
			m.deleted_at, m.created_at, u.username, u.display_name, u.avatar_url
		FROM messages m
		JOIN users u ON m.author_id = u.id
		WHERE m.id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// ListPage returns up to limit messages before the cursor in chronological
// order. The cursor compares on (created_at, id) so pages are stable even
// across equal timestamps.
func (r *MessageRepo) ListPage(ctx context.Context, channelID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	var query string
	var args []any

	if before != nil {
		query = fmt.Sprintf(`
			SELECT m.id, m.channel_id, m.author_id, m.content, m.image_url, m.reply_to_id,
				m.reply_author_name, m.reply_content, m.reply_image_url,
				m.deleted_at, m.created_at, u.username, u.display_name, u.avatar_url
			FROM messages m
			JOIN users u ON m.author_id = u.id
			WHERE m.channel_id = $1 AND m.deleted_at IS NULL
				AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT %d`, limit)
		args = []any{channelID, *before}
	} else {
		query = fmt.Sprintf(`
			SELECT m.id, m.channel_id, m.author_id, m.content, m.image_url, m.reply_to_id,
				m.reply_author_name, m.reply_content, m.reply_image_url,
				m.deleted_at, m.created_at, u.username, u.display_name, u.avatar_url
			FROM messages m
			JOIN users u ON m.author_id = u.id
			WHERE m.channel_id = $1 AND m.deleted_at IS NULL
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT %d`, limit)
		args = []any{channelID}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET deleted_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var replyAuthor, replyContent, replyImage *string
	if err := row.Scan(
		&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &msg.ImageURL, &msg.ReplyToID,
		&replyAuthor, &replyContent, &replyImage,
		&msg.DeletedAt, &msg.CreatedAt,
		&msg.AuthorUsername, &msg.AuthorDisplayName, &msg.AuthorAvatarURL,
	); err != nil {
		return nil, err
	}
	if replyAuthor != nil {
		msg.ReplyPreview = &domain.ReplyPreview{
			AuthorName: *replyAuthor,
			Content:    replyContent,
			ImageURL:   replyImage,
		}
	}
	return &msg, nil
}
