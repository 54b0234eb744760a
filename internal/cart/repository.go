// Package cart removes ordered lines from a customer's cart and wishlist
// once checkout succeeds.
package cart

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// ClearOrderedLines drops the cart and wishlist entries that reference the
// ordered customizations, in one transaction. Unrelated entries stay.
func (r *CartRepository) ClearOrderedLines(ctx context.Context, customerID string, lineRefs []string) error {
	if len(lineRefs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE customer_id = $1 AND customization_id = ANY($2)
	`, customerID, pq.Array(lineRefs)); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM wishlist_items
		WHERE customer_id = $1 AND customization_id = ANY($2)
	`, customerID, pq.Array(lineRefs)); err != nil {
		return fmt.Errorf("clear wishlist: %w", err)
	}

	return tx.Commit()
}
