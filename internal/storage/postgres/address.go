package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
)

const (
	unsetDefaultShippingSQL = `UPDATE user_addresses SET is_default_shipping = FALSE
		WHERE user_id = $1 AND is_default_shipping`

	unsetDefaultBillingSQL = `UPDATE user_addresses SET is_default_billing = FALSE
		WHERE user_id = $1 AND is_default_billing`

	insertAddressSQL = `INSERT INTO user_addresses
		(user_id, label, address_line1, address_line2, city, postal_code, country, phone,
		 is_default_shipping, is_default_billing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	listAddressesSQL = `SELECT id, user_id, label, address_line1, address_line2, city, postal_code,
		country, phone, is_default_shipping, is_default_billing
		FROM user_addresses WHERE user_id = $1 ORDER BY id`
)

var _ address.Repository = (*AddressRepository)(nil)

// AddressRepository implements address.Repository backed by PostgreSQL.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// Create inserts a, demoting the user's previous defaults when a claims them.
func (r *AddressRepository) Create(ctx context.Context, a *address.Address) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if a.IsDefaultShipping {
			if _, err := tx.Exec(ctx, unsetDefaultShippingSQL, a.UserID); err != nil {
				return fmt.Errorf("unsetting default shipping address: %w", err)
			}
		}
		if a.IsDefaultBilling {
			if _, err := tx.Exec(ctx, unsetDefaultBillingSQL, a.UserID); err != nil {
				return fmt.Errorf("unsetting default billing address: %w", err)
			}
		}
		err := tx.QueryRow(ctx, insertAddressSQL,
			a.UserID, a.Label, a.AddressLine1, a.AddressLine2, a.City, a.PostalCode, a.Country, a.Phone,
			a.IsDefaultShipping, a.IsDefaultBilling,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("creating address: %w", err)
		}
		return nil
	})
}

// ListByUser returns the addresses of a user in creation order.
func (r *AddressRepository) ListByUser(ctx context.Context, userID string) ([]address.Address, error) {
	return listAddresses(ctx, r.pool, userID)
}

func listAddresses(ctx context.Context, q querier, userID string) ([]address.Address, error) {
	rows, err := q.Query(ctx, listAddressesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (address.Address, error) {
		var a address.Address
		err := row.Scan(
			&a.ID, &a.UserID, &a.Label, &a.AddressLine1, &a.AddressLine2, &a.City, &a.PostalCode,
			&a.Country, &a.Phone, &a.IsDefaultShipping, &a.IsDefaultBilling,
		)
		return a, err
	})
}
