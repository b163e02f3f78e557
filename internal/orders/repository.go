package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/padifield/ricemart/internal/domain"
)

// ErrConcurrentUpdate is returned when a transition races with another
// writer and the order is no longer in the status it was loaded with.
var ErrConcurrentUpdate = errors.New("order was modified concurrently")

// ErrTrackingAttached is returned when tracking metadata is already present.
var ErrTrackingAttached = errors.New("tracking already attached")

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// newOrderNumber builds the human-readable order number. It is always
// server-generated; client-proposed numbers are discarded.
func newOrderNumber(id string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))[:6]
	return fmt.Sprintf("RM-%s-%s", now.Format("20060102"), suffix)
}

// Create assigns identity and persists the order, its item snapshot and the
// first history entry in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	order.OrderNumber = newOrderNumber(order.ID, order.CreatedAt)

	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, shipping_address, payment_method,
			items_price, tax_price, shipping_price, discount_price, total_price,
			status, is_paid, is_delivered, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, FALSE, $12, $12)
	`, order.ID, order.OrderNumber, order.CustomerID, shipping, order.Payment,
		order.ItemsPrice, order.TaxPrice, order.ShippingPrice, order.DiscountPrice,
		order.TotalPrice, order.Status, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), order.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity)
		if err != nil {
			return err
		}
	}

	for _, event := range order.StatusHistory {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, note, updated_by, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, event.Status, event.Note, event.UpdatedBy, event.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var shipping []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_number, customer_id, shipping_address, payment_method,
			items_price, tax_price, shipping_price, discount_price, total_price,
			status, is_paid, paid_at, is_delivered, delivered_at,
			tracking_number, courier_provider, estimated_delivery_date,
			cancellation_reason, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.OrderNumber, &order.CustomerID, &shipping, &order.Payment,
		&order.ItemsPrice, &order.TaxPrice, &order.ShippingPrice, &order.DiscountPrice,
		&order.TotalPrice, &order.Status, &order.IsPaid, &order.PaidAt,
		&order.IsDelivered, &order.DeliveredAt, &order.TrackingNumber,
		&order.CourierProvider, &order.EstimatedDeliveryDate,
		&order.CancellationReason, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping address for order %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price, quantity
		FROM order_items
		WHERE order_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	historyRows, err := r.db.QueryContext(ctx, `
		SELECT status, note, updated_by, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = historyRows.Close() }()

	for historyRows.Next() {
		var event domain.StatusEvent
		if err := historyRows.Scan(&event.Status, &event.Note, &event.UpdatedBy, &event.Timestamp); err != nil {
			return nil, err
		}
		order.StatusHistory = append(order.StatusHistory, event)
	}

	if err := historyRows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// List returns all orders, newest first, with item snapshots batched in a
// single query. An empty customerID lists every order.
func (r *OrderRepository) List(ctx context.Context, customerID string) ([]domain.Order, error) {
	query := `
		SELECT id, order_number, customer_id, shipping_address, payment_method,
			items_price, tax_price, shipping_price, discount_price, total_price,
			status, is_paid, paid_at, is_delivered, delivered_at,
			tracking_number, courier_provider, estimated_delivery_date,
			cancellation_reason, created_at
		FROM orders
	`
	var args []any
	if customerID != "" {
		query += " WHERE customer_id = $1"
		args = append(args, customerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		var shipping []byte
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.CustomerID, &shipping, &order.Payment,
			&order.ItemsPrice, &order.TaxPrice, &order.ShippingPrice, &order.DiscountPrice,
			&order.TotalPrice, &order.Status, &order.IsPaid, &order.PaidAt,
			&order.IsDelivered, &order.DeliveredAt, &order.TrackingNumber,
			&order.CourierProvider, &order.EstimatedDeliveryDate,
			&order.CancellationReason, &order.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
			return nil, fmt.Errorf("decode shipping address for order %s: %w", order.ID, err)
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	historyRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, status, note, updated_by, created_at
		FROM order_status_history
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = historyRows.Close() }()

	for historyRows.Next() {
		var orderID string
		var event domain.StatusEvent
		if err := historyRows.Scan(&orderID, &event.Status, &event.Note, &event.UpdatedBy, &event.Timestamp); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.StatusHistory = append(order.StatusHistory, event)
	}

	if err := historyRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// SaveTransition persists a transition already validated and applied to the
// in-memory order. The status guard detects lost updates: the row must still
// be in the status the transition started from. Status row update and
// history append commit together or not at all.
func (r *OrderRepository) SaveTransition(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	if len(order.StatusHistory) == 0 {
		return errors.New("order has no history entry to persist")
	}
	event := order.StatusHistory[len(order.StatusHistory)-1]

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, is_delivered = $3, delivered_at = $4,
			cancellation_reason = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, order.ID, order.Status, order.IsDelivered, order.DeliveredAt,
		order.CancellationReason, from)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, updated_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, order.ID, event.Status, event.Note, event.UpdatedBy, event.Timestamp)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// SetTracking attaches courier metadata. Tracking attaches once: the guard
// in the WHERE clause makes two racing attach requests resolve to a single
// winner, the same way SaveTransition guards on status.
func (r *OrderRepository) SetTracking(ctx context.Context, id, trackingNumber, courierProvider string, estimatedDelivery *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET tracking_number = $2, courier_provider = $3,
			estimated_delivery_date = $4, updated_at = NOW()
		WHERE id = $1 AND tracking_number = ''
	`, id, trackingNumber, courierProvider, estimatedDelivery)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTrackingAttached
	}

	return nil
}

// MarkPaid records payment confirmation, keeping the first timestamp.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET is_paid = TRUE, paid_at = COALESCE(paid_at, $2), updated_at = NOW()
		WHERE id = $1
	`, id, paidAt)
	return err
}

type OrderStats struct {
	TotalOrders    int                        `json:"total_orders"`
	CountsByStatus map[domain.OrderStatus]int `json:"counts_by_status"`
	Revenue        float64                    `json:"revenue"`
}

// Stats aggregates order counts per status plus revenue across orders that
// were not cancelled or refunded.
func (r *OrderRepository) Stats(ctx context.Context) (*OrderStats, error) {
	stats := &OrderStats{CountsByStatus: make(map[domain.OrderStatus]int)}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM orders
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status domain.OrderStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.CountsByStatus[status] = count
		stats.TotalOrders += count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_price), 0)
		FROM orders
		WHERE status NOT IN ($1, $2)
	`, domain.StatusCancelled, domain.StatusRefunded).Scan(&stats.Revenue)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
