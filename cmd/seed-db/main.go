package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/homedeco-fulfillment/db"
	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/auth"
	"github.com/xenking/homedeco-fulfillment/internal/storage/postgres"
)

type catalog struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
	Products []struct {
		Key         string          `json:"key"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Category    string          `json:"category"`
	} `json:"products"`
	Warehouses []struct {
		Name         string         `json:"name"`
		AddressLine1 string         `json:"addressLine1"`
		City         string         `json:"city"`
		PostalCode   string         `json:"postalCode"`
		Country      string         `json:"country"`
		Stock        map[string]int `json:"stock"`
	} `json:"warehouses"`
	Addresses []struct {
		Label             string `json:"label"`
		AddressLine1      string `json:"addressLine1"`
		AddressLine2      string `json:"addressLine2"`
		City              string `json:"city"`
		PostalCode        string `json:"postalCode"`
		Country           string `json:"country"`
		Phone             string `json:"phone"`
		IsDefaultShipping bool   `json:"isDefaultShipping"`
		IsDefaultBilling  bool   `json:"isDefaultBilling"`
	} `json:"addresses"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "catalog JSON file, optionally .gz (default: embedded demo catalog)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed for the catalog user (or HOMEDECO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or HOMEDECO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("HOMEDECO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or HOMEDECO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("HOMEDECO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	c, err := loadCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedUser(ctx, pool, c, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed user")
	}
	if err := seedCatalog(ctx, pool, c); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedAddresses(ctx, pool, c); err != nil {
		return errors.Wrap(err, "seed addresses")
	}
	return nil
}

// loadCatalog reads path, gunzipping files that end in .gz. An empty path
// selects the embedded demo catalog.
func loadCatalog(path string) (*catalog, error) {
	var r io.Reader = bytes.NewReader(db.Catalog)
	if path != "" {
		slog.Info("reading catalog file", slog.String("path", path))

		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()
		r = f

		if strings.HasSuffix(path, ".gz") {
			gz, err := pgzip.NewReader(f)
			if err != nil {
				return nil, errors.Wrapf(err, "create gzip reader for %s", path)
			}
			defer func() { _ = gz.Close() }()
			r = gz
		}
	}

	var c catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	if c.User.ID == "" {
		return nil, errors.New("catalog has no user")
	}
	return &c, nil
}

func seedUser(ctx context.Context, pool *pgxpool.Pool, c *catalog, apiKey, pepper string) error {
	repo := postgres.NewAPIKeyRepository(pool)

	slog.Info("upserting user", slog.String("id", c.User.ID))
	if err := repo.UpsertUser(ctx, c.User.ID, c.User.Email, c.User.Name); err != nil {
		return err
	}

	key := auth.APIKeyInfo{
		ID:      c.User.ID + "-default",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default key",
		UserID:  c.User.ID,
	}
	if err := repo.Upsert(ctx, key); err != nil {
		return err
	}

	slog.Info("upserted API key", slog.String("id", key.ID))
	return nil
}

// seedCatalog inserts products, warehouses and inventory once. A database
// that already has products is left untouched.
func seedCatalog(ctx context.Context, pool *pgxpool.Pool, c *catalog) error {
	var existing int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&existing); err != nil {
		return errors.Wrap(err, "count products")
	}
	if existing > 0 {
		slog.Info("catalog already seeded, skipping", slog.Int("products", existing))
		return nil
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		ids := make(map[string]int64, len(c.Products))
		for _, p := range c.Products {
			var id int64
			if err := tx.QueryRow(ctx, `INSERT INTO products (name, description, price, category)
				VALUES ($1, $2, $3, $4) RETURNING id`,
				p.Name, p.Description, p.Price, p.Category,
			).Scan(&id); err != nil {
				return errors.Wrapf(err, "insert product %s", p.Key)
			}
			ids[p.Key] = id
		}
		slog.Info("inserted products", slog.Int("count", len(ids)))

		for _, w := range c.Warehouses {
			var whID int64
			if err := tx.QueryRow(ctx, `INSERT INTO warehouses (name, address_line1, city, postal_code, country)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				w.Name, w.AddressLine1, w.City, w.PostalCode, w.Country,
			).Scan(&whID); err != nil {
				return errors.Wrapf(err, "insert warehouse %s", w.Name)
			}

			batch := &pgx.Batch{}
			for key, qty := range w.Stock {
				productID, ok := ids[key]
				if !ok {
					return errors.Errorf("warehouse %s stocks unknown product %q", w.Name, key)
				}
				batch.Queue(`INSERT INTO inventory (product_id, warehouse_id, quantity_available)
					VALUES ($1, $2, $3)`, productID, whID, qty)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return errors.Wrapf(err, "insert inventory of %s", w.Name)
			}
			slog.Info("inserted warehouse", slog.String("name", w.Name), slog.Int("products", len(w.Stock)))
		}
		return nil
	})
}

func seedAddresses(ctx context.Context, pool *pgxpool.Pool, c *catalog) error {
	repo := postgres.NewAddressRepository(pool)
	existing, err := repo.ListByUser(ctx, c.User.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		slog.Info("addresses already seeded, skipping", slog.Int("addresses", len(existing)))
		return nil
	}

	for _, a := range c.Addresses {
		addr := address.Address{
			UserID:            c.User.ID,
			Label:             a.Label,
			AddressLine1:      a.AddressLine1,
			AddressLine2:      a.AddressLine2,
			City:              a.City,
			PostalCode:        a.PostalCode,
			Country:           a.Country,
			Phone:             a.Phone,
			IsDefaultShipping: a.IsDefaultShipping,
			IsDefaultBilling:  a.IsDefaultBilling,
		}
		if err := repo.Create(ctx, &addr); err != nil {
			return errors.Wrapf(err, "create address %s", a.Label)
		}
		slog.Info("created address", slog.String("label", a.Label), slog.Int64("id", addr.ID))
	}
	return nil
}
