package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, user_id, total, status, shipping_address_id, billing_address_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)`

	orderColumns = `id, user_id, total, status, shipping_address_id, billing_address_id,
		hub_warehouse_id, reserved_at, closed_at, created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id`

	listOrderItemsSQL = `SELECT order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.Total, string(o.Status),
			o.ShippingAddressID, o.BillingAddressID, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertOrderItemSQL, o.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("creating items of order %q: %w", o.ID, err)
		}
		return nil
	})
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderSQL, id)
}

// ListByUser returns the orders of a user, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := loadItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func loadItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Total, &status,
		&o.ShippingAddressID, &o.BillingAddressID,
		&o.HubWarehouseID, &o.ReservedAt, &o.ClosedAt, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
