package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
)

const orderColumns = `
	id, customer_id, designer_id, status, kind, payment_status, total_price,
	delivery_address, order_date, production_started_at, production_completed_at,
	shipped_at, delivered_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.OrderDate
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, order.ID, order.CustomerID, nullString(order.DesignerID), order.Status, order.Kind,
		order.PaymentStatus, order.TotalPrice, order.DeliveryAddress, order.OrderDate,
		order.ProductionStartedAt, order.ProductionCompletedAt, order.ShippedAt,
		order.DeliveredAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, customization_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, i, item.CustomizationID, nullString(item.ProductID), item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	for _, entry := range order.Timeline {
		if err := insertTimelineEntry(ctx, tx, order.ID, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	byID := map[string]*domain.Order{order.ID: order}
	if err := r.loadChildren(ctx, byID, []string{order.ID}); err != nil {
		return nil, err
	}
	return order, nil
}

// List returns matching orders newest first, with items and timelines
// loaded in two batched queries.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.DesignerID != "" {
		args = append(args, filter.DesignerID)
		conds = append(conds, fmt.Sprintf("designer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY order_date DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadChildren(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// SaveTransition applies one accepted transition in a single transaction.
// The update only matches while the stored status equals update.Expected,
// and milestones already set are left untouched.
func (r *OrderRepository) SaveTransition(ctx context.Context, update domain.StatusUpdate) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			updated_at = $2,
			designer_id = COALESCE($3, designer_id),
			payment_status = CASE WHEN $4 THEN 'paid' ELSE payment_status END,
			production_started_at = CASE WHEN $1 = 'in_production'
				THEN COALESCE(production_started_at, $2) ELSE production_started_at END,
			production_completed_at = CASE WHEN $1 = 'completed'
				THEN COALESCE(production_completed_at, $2) ELSE production_completed_at END,
			shipped_at = CASE WHEN $1 = 'shipped'
				THEN COALESCE(shipped_at, $2) ELSE shipped_at END,
			delivered_at = CASE WHEN $1 = 'delivered'
				THEN COALESCE(delivered_at, $2) ELSE delivered_at END
		WHERE id = $5 AND status = $6
	`, update.Next, update.StampedAt, nullString(update.DesignerID), update.MarkPaid,
		update.OrderID, update.Expected)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fulfillment.ErrStatusConflict
	}

	if err := insertTimelineEntry(ctx, tx, update.OrderID, update.Entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, update.OrderID)
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id string) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET payment_status = 'paid', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'unpaid' AND status <> 'cancelled'
	`, id)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fulfillment.ErrStatusConflict
	}

	return r.GetByID(ctx, id)
}

func (r *OrderRepository) loadChildren(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, customization_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var (
			orderID   string
			item      domain.LineItem
			productID sql.NullString
		)
		if err := itemRows.Scan(&orderID, &item.CustomizationID, &productID, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		item.ProductID = productID.String
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	timelineRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, status, note, at
		FROM order_timeline
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = timelineRows.Close() }()

	for timelineRows.Next() {
		var (
			orderID string
			entry   domain.TimelineEntry
		)
		if err := timelineRows.Scan(&orderID, &entry.Status, &entry.Note, &entry.At); err != nil {
			return err
		}
		order := orderMap[orderID]
		order.Timeline = append(order.Timeline, entry)
	}

	return timelineRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order      domain.Order
		designerID sql.NullString
		started    sql.NullTime
		completed  sql.NullTime
		shipped    sql.NullTime
		delivered  sql.NullTime
	)
	err := row.Scan(&order.ID, &order.CustomerID, &designerID, &order.Status, &order.Kind,
		&order.PaymentStatus, &order.TotalPrice, &order.DeliveryAddress, &order.OrderDate,
		&started, &completed, &shipped, &delivered, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.DesignerID = designerID.String
	order.ProductionStartedAt = timePtr(started)
	order.ProductionCompletedAt = timePtr(completed)
	order.ShippedAt = timePtr(shipped)
	order.DeliveredAt = timePtr(delivered)
	order.Items = []domain.LineItem{}
	order.Timeline = []domain.TimelineEntry{}
	return &order, nil
}

func insertTimelineEntry(ctx context.Context, tx *sql.Tx, orderID string, entry domain.TimelineEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, status, note, at)
		VALUES ($1, $2, $3, $4)
	`, orderID, entry.Status, entry.Note, entry.At)
	if err != nil {
		return fmt.Errorf("insert timeline entry: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
