package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

const (
	listWarehousesSQL = `SELECT id, name, address_line1, city, postal_code, country
		FROM warehouses ORDER BY id`

	listInventorySQL = `SELECT warehouse_id, product_id, quantity_available
		FROM inventory WHERE quantity_available > 0`

	restockSetSQL = `INSERT INTO inventory (product_id, warehouse_id, quantity_available)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, warehouse_id) DO UPDATE
		SET quantity_available = EXCLUDED.quantity_available`

	restockAddSQL = `INSERT INTO inventory (product_id, warehouse_id, quantity_available)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, warehouse_id) DO UPDATE
		SET quantity_available = inventory.quantity_available + EXCLUDED.quantity_available`
)

var _ warehouse.Repository = (*WarehouseRepository)(nil)

// WarehouseRepository reads warehouses and inventory from PostgreSQL.
type WarehouseRepository struct {
	pool *pgxpool.Pool
}

// NewWarehouseRepository returns a WarehouseRepository that uses the given pool.
func NewWarehouseRepository(pool *pgxpool.Pool) *WarehouseRepository {
	return &WarehouseRepository{pool: pool}
}

// ListStocked returns every warehouse, ordered by id, with its current stock.
func (r *WarehouseRepository) ListStocked(ctx context.Context) ([]warehouse.Stocked, error) {
	return listStocked(ctx, r.pool, listInventorySQL)
}

// Restock applies levels (product id to quantity) to one warehouse in a
// single transaction.
func (r *WarehouseRepository) Restock(ctx context.Context, warehouseID int64, levels map[int64]int, mode warehouse.RestockMode) error {
	query := restockSetSQL
	if mode == warehouse.RestockAdd {
		query = restockAddSQL
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for productID, qty := range levels {
			batch.Queue(query, productID, warehouseID, qty)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("restocking warehouse %d: %w", warehouseID, err)
		}
		return nil
	})
}

func listStocked(ctx context.Context, q querier, inventorySQL string, args ...any) ([]warehouse.Stocked, error) {
	rows, err := q.Query(ctx, listWarehousesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing warehouses: %w", err)
	}
	warehouses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (warehouse.Stocked, error) {
		w := warehouse.Stocked{Stock: map[int64]int{}}
		err := row.Scan(&w.ID, &w.Name, &w.AddressLine1, &w.City, &w.PostalCode, &w.Country)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing warehouses: %w", err)
	}

	index := make(map[int64]int, len(warehouses))
	for i, w := range warehouses {
		index[w.ID] = i
	}

	rows, err = q.Query(ctx, inventorySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			warehouseID, productID int64
			qty                    int
		)
		if err := rows.Scan(&warehouseID, &productID, &qty); err != nil {
			return nil, fmt.Errorf("scanning inventory: %w", err)
		}
		if i, ok := index[warehouseID]; ok {
			warehouses[i].Stock[productID] = qty
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	return warehouses, nil
}
