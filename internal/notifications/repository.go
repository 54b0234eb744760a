// Package notifications stores the in-app messages users see about their
// orders.
package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	meta, err := json.Marshal(n.Meta)
	if err != nil {
		return fmt.Errorf("marshal notification meta: %w", err)
	}
	if n.Meta == nil {
		meta = []byte("{}")
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, n.ID, n.UserID, n.Title, n.Message, meta).Scan(&n.CreatedAt)
}

// ListForUser returns the newest notifications for userID first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, meta, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	notifications := []domain.Notification{}
	for rows.Next() {
		var (
			n    domain.Notification
			meta []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &meta, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, fmt.Errorf("decode notification meta: %w", err)
			}
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}
