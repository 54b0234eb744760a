// Package directory looks up staff and customers and answers assignment
// questions for the workflow.
package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, role
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Email, &user.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, email, role
		FROM users
		WHERE role = $1
		ORDER BY username
	`, role)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	users := []domain.User{}
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Role); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// IsAssignedTo reports whether designerID is the designer currently set on
// the order.
func (r *UserRepository) IsAssignedTo(ctx context.Context, orderID, designerID string) (bool, error) {
	if designerID == "" {
		return false, nil
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return false, nil
	}

	var assigned bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders WHERE id = $1 AND designer_id = $2
		)
	`, orderID, designerID).Scan(&assigned)
	if err != nil {
		return false, err
	}

	return assigned, nil
}
