// Command seed-catalog applies the schema and loads products and coupons into
// the storefront database.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type options struct {
	databaseURL   string
	productsFile  string
	couponDir     string
	bloomCapacity uint
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally .gz")
	flag.StringVar(&opts.couponDir, "coupon-dir", "", "directory with couponbase*.gz dumps; codes found in 2+ dumps are imported")
	flag.UintVar(&opts.bloomCapacity, "bloom-capacity", 120_000_000, "expected codes per coupon dump")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if opts.databaseURL == "" {
			return errors.New("database URL is required: set -database-url or DATABASE_URL")
		}
		return run(ctx, lg, opts)
	})
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	products, err := catalog.ReadProducts(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}
	lg.Info("Products loaded", zap.String("path", opts.productsFile), zap.Int("count", len(products)))

	coupons := catalog.DefaultCoupons()
	if opts.couponDir != "" {
		dumped, err := scanDumps(ctx, lg, opts)
		if err != nil {
			return err
		}
		coupons = append(coupons, dumped...)
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := &catalog.Seeder{
		Products: postgres.NewProductRepository(pool),
		Coupons:  postgres.NewCouponRepository(pool),
		Logger:   lg,
	}
	if err := seeder.Run(ctx, catalog.Seed{Products: products, Coupons: coupons}); err != nil {
		return errors.Wrap(err, "seed")
	}

	lg.Info("Seed completed", zap.Int("products", len(products)), zap.Int("coupons", len(coupons)))
	return nil
}

func scanDumps(ctx context.Context, lg *zap.Logger, opts options) ([]coupon.Rule, error) {
	files, err := filepath.Glob(filepath.Join(opts.couponDir, "couponbase*.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "list coupon dumps")
	}
	if len(files) < 2 {
		return nil, errors.Errorf("need at least 2 coupon dumps in %s, found %d", opts.couponDir, len(files))
	}
	slices.Sort(files)

	scanner := &catalog.DumpScanner{
		Capacity: opts.bloomCapacity,
		FPR:      0.001,
		MinLen:   8,
		MaxLen:   10,
		Logger:   lg,
	}
	codes, err := scanner.Scan(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "scan coupon dumps")
	}
	lg.Info("Valid codes found", zap.Int("count", len(codes)))

	rules := make([]coupon.Rule, len(codes))
	for i, code := range codes {
		rules[i] = catalog.RuleForCode(code)
	}
	return rules, nil
}
