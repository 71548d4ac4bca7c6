package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homedeco-fulfillment/internal/domain/auth"
)

const (
	findAPIKeySQL = `SELECT k.id, k.key_hash, k.name, k.user_id
	FROM api_keys k
	JOIN users u ON u.id = k.user_id
	WHERE k.key_hash = $1 AND k.active`

	upsertUserSQL = `INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, user_id, active)
	VALUES ($1, $2, $3, $4, TRUE)
	ON CONFLICT (id) DO UPDATE
	SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name, user_id = EXCLUDED.user_id, active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository stores users and their API keys in PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
// Returns an error wrapping pgx.ErrNoRows when no matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var k auth.APIKeyInfo
	err := r.pool.QueryRow(ctx, findAPIKeySQL, hash).Scan(&k.ID, &k.KeyHash, &k.Name, &k.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", err)
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &k, nil
}

// UpsertUser creates the user or refreshes its email and name.
func (r *APIKeyRepository) UpsertUser(ctx context.Context, id, email, name string) error {
	if _, err := r.pool.Exec(ctx, upsertUserSQL, id, email, name); err != nil {
		return fmt.Errorf("upserting user %s: %w", id, err)
	}
	return nil
}

// Upsert stores k and marks it active. KeyHash must already be hashed with
// auth.HashKey.
func (r *APIKeyRepository) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	if _, err := r.pool.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.UserID); err != nil {
		return fmt.Errorf("upserting api key %s: %w", k.ID, err)
	}
	return nil
}
