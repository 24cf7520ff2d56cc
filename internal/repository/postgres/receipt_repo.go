package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velickovic/clubchat/internal/domain"
)

type ReceiptRepo struct {
	pool *pgxpool.Pool
}

func NewReceiptRepo(pool *pgxpool.Pool) *ReceiptRepo {
	return &ReceiptRepo{pool: pool}
}

// MarkRead is insert-only; receipts never go away once recorded.
func (r *ReceiptRepo) MarkRead(ctx context.Context, messageID, userID uuid.UUID, readAt time.Time) (bool, error) {
	query := `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, messageID, userID, readAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReceiptRepo) ListForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return map[uuid.UUID][]domain.ReadReceipt{}, nil
	}

	query := `
		SELECT message_id, user_id, read_at
		FROM read_receipts
		WHERE message_id = ANY($1)
		ORDER BY message_id, read_at`

	rows, err := r.pool.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]domain.ReadReceipt)
	for rows.Next() {
		var msgID uuid.UUID
		var receipt domain.ReadReceipt
		if err := rows.Scan(&msgID, &receipt.UserID, &receipt.ReadAt); err != nil {
			return nil, err
		}
		result[msgID] = append(result[msgID], receipt)
	}
	return result, rows.Err()
}
