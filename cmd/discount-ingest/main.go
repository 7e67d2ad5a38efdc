// Command discount-ingest bulk-loads discount definitions from
// gzip-compressed JSON lines exports, skipping codes that already exist.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL   string
		workers       int
		bloomCapacity uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent inserts")
	flag.UintVar(&bloomCapacity, "bloom-capacity", 1_000_000, "expected number of distinct codes")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("usage: discount-ingest [flags] export.jsonl.gz...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, bloomCapacity, workers); err != nil {
		lg.Fatal("discount ingest failed", zap.Error(err))
	}
	lg.Info("discount ingest completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, capacity uint, workers int) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	in, err := newIngester(ctx, postgres.NewDiscountRepository(pool), lg, capacity, workers)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := in.IngestFile(ctx, f); err != nil {
			return err
		}
	}

	s := in.Stats()
	lg.Info("ingest summary",
		zap.Int64("created", s.Created),
		zap.Int64("duplicates", s.Duplicates),
		zap.Int64("invalid", s.Invalid),
	)
	return nil
}
