package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velickovic/clubchat/internal/domain"
)

type ReactionRepo struct {
	pool *pgxpool.Pool
}

func NewReactionRepo(pool *pgxpool.Pool) *ReactionRepo {
	return &ReactionRepo{pool: pool}
}

// Toggle deletes the row if present, otherwise inserts it. The UNIQUE
// (message_id, user_id, emoji) index plus ON CONFLICT DO NOTHING keeps
// racing toggles from ever producing two rows.
func (r *ReactionRepo) Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	query := `
		WITH removed AS (
			DELETE FROM reactions
			WHERE message_id = $1 AND user_id = $2 AND emoji = $3
			RETURNING 1
		)
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (SELECT 1 FROM removed)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, messageID, userID, emoji, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReactionRepo) ListForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReactionGroup, error) {
	if len(messageIDs) == 0 {
		return map[uuid.UUID][]domain.ReactionGroup{}, nil
	}

	query := `
		SELECT message_id, emoji, user_id
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY message_id, emoji, created_at`

	rows, err := r.pool.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]domain.ReactionGroup)
	for rows.Next() {
		var msgID, userID uuid.UUID
		var emoji string
		if err := rows.Scan(&msgID, &emoji, &userID); err != nil {
			return nil, err
		}

		groups := result[msgID]
		if n := len(groups); n > 0 && groups[n-1].Emoji == emoji {
			groups[n-1].UserIDs = append(groups[n-1].UserIDs, userID)
			groups[n-1].Count++
		} else {
			groups = append(groups, domain.ReactionGroup{
				Emoji:   emoji,
				Count:   1,
				UserIDs: []uuid.UUID{userID},
			})
		}
		result[msgID] = groups
	}
	return result, rows.Err()
}
