package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/discount"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineSize   = 1 << 20
)

// Store is the subset of the discount repository the ingester needs.
type Store interface {
	List(ctx context.Context) ([]discount.Discount, error)
	FindByCode(ctx context.Context, code string) (*discount.Discount, error)
	Create(ctx context.Context, d *discount.Discount) error
}

// Stats counts the outcome of every line read.
type Stats struct {
	Created    int64
	Duplicates int64
	Invalid    int64
}

// ingester loads discount exports into the store. A bloom filter of known
// codes lets new codes skip the lookup; a positive answer is confirmed with
// FindByCode because the filter may report false positives.
type ingester struct {
	store   Store
	lg      *zap.Logger
	workers int

	mu   sync.Mutex
	seen *bloom.BloomFilter

	created    atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
}

func newIngester(ctx context.Context, store Store, lg *zap.Logger, capacity uint, workers int) (*ingester, error) {
	existing, err := store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list existing discounts")
	}
	if n := uint(len(existing)); n > capacity {
		capacity = n
	}
	seen := bloom.NewWithEstimates(capacity, bloomFPR)
	for _, d := range existing {
		if d.Code != "" {
			seen.AddString(d.Code)
		}
	}
	lg.Info("loaded existing codes", zap.Int("count", len(existing)))

	if workers < 1 {
		workers = 1
	}
	return &ingester{store: store, lg: lg, workers: workers, seen: seen}, nil
}

func (in *ingester) Stats() Stats {
	return Stats{
		Created:    in.created.Load(),
		Duplicates: in.duplicates.Load(),
		Invalid:    in.invalid.Load(),
	}
}

// IngestFile streams a gzip-compressed JSON lines file into the store.
func (in *ingester) IngestFile(ctx context.Context, path string) error {
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

	return in.ingest(ctx, path, gz)
}

func (in *ingester) ingest(ctx context.Context, source string, r io.Reader) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lineNo int
	for scanner.Scan() {
		if gctx.Err() != nil {
			break
		}
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := append([]byte(nil), raw...)
		n := lineNo
		g.Go(func() error {
			return in.ingestLine(gctx, source, n, line)
		})
		if lineNo%progressEvery == 0 {
			in.lg.Info("progress", zap.String("file", source), zap.Int("lines", lineNo))
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", source)
	}

	in.lg.Info("file complete", zap.String("file", source), zap.Int("lines", lineNo))
	return nil
}

func (in *ingester) ingestLine(ctx context.Context, source string, lineNo int, line []byte) error {
	d, err := decodeDiscount(line)
	if err != nil {
		in.invalid.Add(1)
		in.lg.Warn("skipping invalid line",
			zap.String("file", source),
			zap.Int("line", lineNo),
			zap.Error(err),
		)
		return nil
	}

	if d.Code != "" && in.maybeSeen(d.Code) {
		_, err := in.store.FindByCode(ctx, d.Code)
		switch {
		case err == nil:
			in.duplicates.Add(1)
			return nil
		case !errors.Is(err, discount.ErrNotFound):
			return errors.Wrapf(err, "%s:%d", source, lineNo)
		}
	}

	if err := in.store.Create(ctx, d); err != nil {
		if errors.Is(err, discount.ErrDuplicateCode) {
			in.duplicates.Add(1)
			return nil
		}
		return errors.Wrapf(err, "%s:%d", source, lineNo)
	}
	in.created.Add(1)
	return nil
}

// maybeSeen records code and reports whether it may have been seen before.
func (in *ingester) maybeSeen(code string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.seen.TestOrAddString(code)
}
