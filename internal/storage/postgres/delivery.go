package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

const (
	// The conditional update is the reservation gate: exactly one caller
	// moves an order out of pending.
	claimPendingSQL = `UPDATE orders SET status = 'processing', reserved_at = $2
		WHERE id = $1 AND status = 'pending'`

	lockInventorySQL = `SELECT warehouse_id, product_id, quantity_available
		FROM inventory
		WHERE product_id IN (SELECT product_id FROM order_items WHERE order_id = $1)
		  AND quantity_available > 0
		ORDER BY warehouse_id, product_id
		FOR UPDATE`

	decrementSQL = `UPDATE inventory SET quantity_available = quantity_available - $3
		WHERE warehouse_id = $1 AND product_id = $2 AND quantity_available >= $3`

	insertReservationSQL = `INSERT INTO order_reservations
		(order_id, warehouse_id, product_id, quantity, reserved_at)
		VALUES ($1, $2, $3, $4, $5)`

	setHubSQL = `UPDATE orders SET hub_warehouse_id = $2 WHERE id = $1`

	listReservationsSQL = `SELECT warehouse_id, product_id, quantity
		FROM order_reservations
		WHERE order_id = $1 AND released_at IS NULL
		ORDER BY warehouse_id, product_id`

	restockSQL = `UPDATE inventory SET quantity_available = quantity_available + $3
		WHERE warehouse_id = $1 AND product_id = $2`

	// Used when the original inventory row is gone.
	restockFallbackSQL = `UPDATE inventory SET quantity_available = quantity_available + $2
		WHERE (warehouse_id, product_id) = (
			SELECT warehouse_id, product_id FROM inventory
			WHERE product_id = $1
			ORDER BY quantity_available DESC, warehouse_id
			LIMIT 1
			FOR UPDATE
		)`

	releaseReservationsSQL = `UPDATE order_reservations SET released_at = $2
		WHERE order_id = $1 AND released_at IS NULL`

	closeOrderSQL = `UPDATE orders SET status = $2, closed_at = $3 WHERE id = $1`
)

var _ delivery.Store = (*DeliveryStore)(nil)

// DeliveryStore implements delivery.Store on top of the other repositories.
type DeliveryStore struct {
	pool       *pgxpool.Pool
	orders     *OrderRepository
	warehouses *WarehouseRepository
	addresses  *AddressRepository
}

// NewDeliveryStore returns a DeliveryStore that uses the given pool.
func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{
		pool:       pool,
		orders:     NewOrderRepository(pool),
		warehouses: NewWarehouseRepository(pool),
		addresses:  NewAddressRepository(pool),
	}
}

// GetOrder implements delivery.Store.
func (s *DeliveryStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.Get(ctx, id)
}

// ListStocked implements delivery.Store.
func (s *DeliveryStore) ListStocked(ctx context.Context) ([]warehouse.Stocked, error) {
	return s.warehouses.ListStocked(ctx)
}

// ListAddresses implements delivery.Store.
func (s *DeliveryStore) ListAddresses(ctx context.Context, userID string) ([]address.Address, error) {
	return s.addresses.ListByUser(ctx, userID)
}

// ListReservations returns the unreleased reservation lines of an order.
func (s *DeliveryStore) ListReservations(ctx context.Context, orderID string) ([]delivery.Reservation, error) {
	return listReservations(ctx, s.pool, orderID)
}

func listReservations(ctx context.Context, q querier, orderID string) ([]delivery.Reservation, error) {
	rows, err := q.Query(ctx, listReservationsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing reservations of %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (delivery.Reservation, error) {
		var r delivery.Reservation
		err := row.Scan(&r.WarehouseID, &r.ProductID, &r.Quantity)
		return r, err
	})
}

// Reserve implements delivery.Store. The inventory rows of the ordered
// products stay locked from the snapshot until commit, so the allocation
// computed by fn cannot be invalidated by a concurrent reservation.
func (s *DeliveryStore) Reserve(ctx context.Context, orderID string, at time.Time, fn delivery.ReserveFunc) (bool, error) {
	won := false
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, claimPendingSQL, orderID, at)
		if err != nil {
			return fmt.Errorf("claiming order %q: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		stock, err := listStocked(ctx, tx, lockInventorySQL, orderID)
		if err != nil {
			return err
		}
		hubID, lines, err := fn(ctx, stock)
		if err != nil {
			return err
		}

		for _, l := range lines {
			tag, err := tx.Exec(ctx, decrementSQL, l.WarehouseID, l.ProductID, l.Quantity)
			if err != nil {
				return fmt.Errorf("decrementing inventory: %w", err)
			}
			if tag.RowsAffected() != 1 {
				return fmt.Errorf("decrementing product %d at warehouse %d: insufficient stock", l.ProductID, l.WarehouseID)
			}
			if _, err := tx.Exec(ctx, insertReservationSQL, orderID, l.WarehouseID, l.ProductID, l.Quantity, at); err != nil {
				return fmt.Errorf("recording reservation: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, setHubSQL, orderID, hubID); err != nil {
			return fmt.Errorf("setting hub of %q: %w", orderID, err)
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// Close implements delivery.Store.
func (s *DeliveryStore) Close(ctx context.Context, orderID string, to order.Status, at time.Time, check delivery.CloseFunc) (*order.Order, error) {
	var closed *order.Order
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := getOrder(ctx, tx, lockOrderSQL, orderID)
		if err != nil {
			return err
		}
		snap, err := lockedSnapshot(ctx, tx, o)
		if err != nil {
			return err
		}
		if err := check(ctx, o, snap); err != nil {
			return err
		}

		if to == order.StatusCancelled {
			if err := restock(ctx, tx, orderID, at); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, closeOrderSQL, orderID, string(to), at); err != nil {
			return fmt.Errorf("closing order %q: %w", orderID, err)
		}
		o.Status = to
		o.ClosedAt = &at
		closed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// lockedSnapshot reads the state a close check decides on with the
// transaction's own connection.
func lockedSnapshot(ctx context.Context, tx pgx.Tx, o *order.Order) (delivery.Snapshot, error) {
	stock, err := listStocked(ctx, tx, listInventorySQL)
	if err != nil {
		return delivery.Snapshot{}, err
	}
	addrs, err := listAddresses(ctx, tx, o.UserID)
	if err != nil {
		return delivery.Snapshot{}, err
	}
	reserved, err := listReservations(ctx, tx, o.ID)
	if err != nil {
		return delivery.Snapshot{}, err
	}
	return delivery.Snapshot{Stock: stock, Addresses: addrs, Reserved: reserved}, nil
}

// restock returns every unreleased reservation line to the warehouse it was
// taken from and marks the lines released.
func restock(ctx context.Context, tx pgx.Tx, orderID string, at time.Time) error {
	lines, err := listReservations(ctx, tx, orderID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		tag, err := tx.Exec(ctx, restockSQL, l.WarehouseID, l.ProductID, l.Quantity)
		if err != nil {
			return fmt.Errorf("restocking product %d: %w", l.ProductID, err)
		}
		if tag.RowsAffected() > 0 {
			continue
		}
		if _, err := tx.Exec(ctx, restockFallbackSQL, l.ProductID, l.Quantity); err != nil {
			return fmt.Errorf("restocking product %d: %w", l.ProductID, err)
		}
	}
	if _, err := tx.Exec(ctx, releaseReservationsSQL, orderID, at); err != nil {
		return fmt.Errorf("releasing reservations of %q: %w", orderID, err)
	}
	return nil
}
