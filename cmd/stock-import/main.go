package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
	"github.com/xenking/homedeco-fulfillment/internal/storage/postgres"
)

const progressEvery = 100_000

// feed is one parsed stock file: <warehouse id>.csv.gz holding
// "product_id,quantity" lines.
type feed struct {
	path        string
	warehouseID int64
	levels      map[int64]int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		modeFlag    string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing <warehouse-id>.csv.gz stock feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&modeFlag, "mode", "set", "set replaces quantities, add restocks on top of them")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	mode, err := warehouse.ParseRestockMode(modeFlag)
	if err != nil {
		slog.Error("invalid --mode", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, mode); err != nil {
		slog.Error("stock import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, mode warehouse.RestockMode) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	if len(files) == 0 {
		slog.Info("no stock feeds found", slog.String("dir", dataDir))
		return nil
	}
	slices.Sort(files)

	slog.Info("parsing stock feeds", slog.Int("files", len(files)), slog.String("mode", string(mode)))

	feeds, err := parseFeeds(ctx, files, mode)
	if err != nil {
		return errors.Wrap(err, "parse feeds")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewWarehouseRepository(pool)
	for _, f := range feeds {
		if err := repo.Restock(ctx, f.warehouseID, f.levels, mode); err != nil {
			return errors.Wrapf(err, "apply %s", f.path)
		}
		slog.Info("warehouse restocked",
			slog.Int64("warehouse", f.warehouseID),
			slog.Int("products", len(f.levels)),
		)
	}
	return nil
}

// parseFeeds parses every file concurrently. Feeds for the same warehouse
// are merged in file name order.
func parseFeeds(ctx context.Context, files []string, mode warehouse.RestockMode) ([]feed, error) {
	parsed := make([]feed, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := parseFeed(ctx, path, mode)
			if err != nil {
				return err
			}
			parsed[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []feed
	byWarehouse := make(map[int64]int)
	for _, f := range parsed {
		i, ok := byWarehouse[f.warehouseID]
		if !ok {
			byWarehouse[f.warehouseID] = len(out)
			out = append(out, f)
			continue
		}
		for productID, qty := range f.levels {
			merge(out[i].levels, productID, qty, mode)
		}
	}
	return out, nil
}

func parseFeed(ctx context.Context, path string, mode warehouse.RestockMode) (feed, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".csv.gz")
	warehouseID, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return feed{}, errors.Errorf("%s: file name must be <warehouse-id>.csv.gz", path)
	}

	f := feed{path: path, warehouseID: warehouseID, levels: make(map[int64]int)}
	var line int
	err = streamGzFile(ctx, path, func(text string) error {
		line++
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "product_id") {
			return nil
		}
		productID, qty, err := parseLine(text)
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, line)
		}
		merge(f.levels, productID, qty, mode)
		if line%progressEvery == 0 {
			slog.Info("parse progress", slog.String("file", path), slog.Int("lines", line))
		}
		return nil
	})
	if err != nil {
		return feed{}, err
	}
	return f, nil
}

func parseLine(text string) (productID int64, qty int, err error) {
	idField, qtyField, ok := strings.Cut(text, ",")
	if !ok {
		return 0, 0, errors.Errorf("want product_id,quantity, got %q", text)
	}
	productID, err = strconv.ParseInt(strings.TrimSpace(idField), 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "product id")
	}
	qty, err = strconv.Atoi(strings.TrimSpace(qtyField))
	if err != nil {
		return 0, 0, errors.Wrap(err, "quantity")
	}
	if qty < 0 {
		return 0, 0, errors.Errorf("negative quantity %d", qty)
	}
	return productID, qty, nil
}

// merge records qty for productID. Set mode keeps the last value; add mode
// sums repeated lines.
func merge(levels map[int64]int, productID int64, qty int, mode warehouse.RestockMode) {
	if mode == warehouse.RestockAdd {
		levels[productID] += qty
		return
	}
	levels[productID] = qty
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
