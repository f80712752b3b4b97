// Package app wires the storefront client: configuration, the device-local
// cart, the hosted catalog and order store, and the command line surface.
package app

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/checkout"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/file"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	redisstore "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
)

// Backend is the hosted side of the storefront: catalog, coupons and orders.
type Backend struct {
	Products product.Repository
	Coupons  coupon.Repository
	Orders   order.Repository
	// Ping verifies connectivity; nil when the backend cannot be probed.
	Ping health.CheckFunc
}

// Env holds everything a command runs against. Collaborators that need the
// network are opened on first use so cart-only commands work offline.
type Env struct {
	Config *Config
	Out    io.Writer

	store     cart.Store
	policy    cart.QuantityPolicy
	cart      *cart.Cart
	cartProbe health.CheckFunc
	telemetry *app.Telemetry

	openBackend func(ctx context.Context) (*Backend, error)
	backend     *Backend
	closers     []func()
}

// Run executes the command given by args.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config, args []string, out io.Writer) error {
	ctx = zctx.Base(ctx, lg)

	env, err := NewEnv(cfg, out)
	if err != nil {
		return err
	}
	defer env.Close()
	env.telemetry = m

	return env.Execute(ctx, args)
}

// NewEnv prepares the configured cart store. The cart is loaded and the
// backend connected on first use.
func NewEnv(cfg *Config, out io.Writer) (*Env, error) {
	policy, err := cart.ParseQuantityPolicy(cfg.Cart.QuantityPolicy)
	if err != nil {
		return nil, err
	}

	store, probe, closeStore, err := openCartStore(cfg.Cart)
	if err != nil {
		return nil, err
	}
	env := &Env{
		Config:    cfg,
		Out:       out,
		store:     store,
		policy:    policy,
		cartProbe: probe,
	}
	if closeStore != nil {
		env.closers = append(env.closers, closeStore)
	}
	env.openBackend = env.connectPostgres
	return env, nil
}

// Close releases connections opened by the Env.
func (e *Env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// Cart returns the device cart, loading it on first use.
func (e *Env) Cart(ctx context.Context) (*cart.Cart, error) {
	if e.cart != nil {
		return e.cart, nil
	}
	c, err := cart.Open(ctx, e.store, e.Config.Cart.Key,
		cart.WithQuantityPolicy(e.policy),
		cart.WithMaxRetries(e.Config.Cart.ConflictRetries),
		cart.WithLogger(zctx.From(ctx)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "open cart")
	}
	e.cart = c
	return c, nil
}

// Backend returns the hosted backend, connecting on first use.
func (e *Env) Backend(ctx context.Context) (*Backend, error) {
	if e.backend != nil {
		return e.backend, nil
	}
	b, err := e.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	e.backend = b
	return b, nil
}

// Checkout builds the checkout service on top of the backend.
func (e *Env) Checkout(ctx context.Context) (*checkout.Service, error) {
	b, err := e.Backend(ctx)
	if err != nil {
		return nil, err
	}

	cfg := checkout.Config{
		SubmitTimeout: e.Config.Checkout.SubmitTimeout,
		Breaker: checkout.BreakerConfig{
			MaxFailures: e.Config.Checkout.BreakerFailures,
			OpenTimeout: e.Config.Checkout.BreakerOpenTimeout,
		},
	}
	if e.telemetry != nil {
		cfg.TracerProvider = e.telemetry.TracerProvider()
		cfg.MeterProvider = e.telemetry.MeterProvider()
	}

	var validator coupon.Validator
	if b.Coupons != nil {
		validator = coupon.NewRedeemer(b.Coupons)
	}
	return checkout.NewService(b.Orders, validator, cfg)
}

func (e *Env) connectPostgres(ctx context.Context) (*Backend, error) {
	if e.Config.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}

	zctx.From(ctx).Debug("Connecting to database")
	pool, err := postgres.NewPool(ctx, e.Config.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	e.closers = append(e.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	return newPostgresBackend(pool), nil
}

func newPostgresBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{
		Products: postgres.NewProductRepository(pool),
		Coupons:  postgres.NewCouponRepository(pool),
		Orders:   postgres.NewOrderRepository(pool),
		Ping:     health.PingCheck(pool),
	}
}

// openCartStore returns the store for the configured driver together with a
// connectivity probe and an optional close function.
func openCartStore(cfg CartConfig) (cart.Store, health.CheckFunc, func(), error) {
	switch cfg.Driver {
	case DriverMemory:
		return memory.NewCartStore(), nil, nil, nil
	case DriverRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "parse redis url")
		}
		client := goredis.NewClient(opts)
		store := redisstore.NewCartStore(client, cfg.TTL)
		return store, health.PingCheck(store), func() { _ = client.Close() }, nil
	default:
		dir := cfg.Path
		if dir == "" {
			var err error
			if dir, err = file.DefaultDir(); err != nil {
				return nil, nil, nil, err
			}
		}
		store, err := file.NewCartStore(filepath.Clean(dir))
		if err != nil {
			return nil, nil, nil, err
		}
		return store, health.PingCheck(store), nil, nil
	}
}

// doctor runs connectivity checks against every configured dependency.
func (e *Env) doctor(ctx context.Context) health.Report {
	checker := health.New()
	if e.cartProbe != nil {
		checker.Add("cart:"+e.Config.Cart.Driver, 2*time.Second, e.cartProbe)
	}
	if e.Config.DatabaseURL != "" || e.backend != nil {
		checker.Add("postgres", 5*time.Second, func(ctx context.Context) error {
			b, err := e.Backend(ctx)
			if err != nil {
				return err
			}
			if b.Ping == nil {
				return nil
			}
			return b.Ping(ctx)
		})
	}
	return checker.Run(ctx)
}
