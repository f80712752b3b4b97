package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Cart storage drivers.
const (
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

var defaultConfigFiles = []string{"storefront.yaml", "/etc/storefront/config.yaml"}

// Config holds the complete client configuration, loadable from environment
// variables (STOREFRONT_ prefix) or YAML config files.
type Config struct {
	CustomerID  string `default:"guest" usage:"Customer the orders are placed for" env:"CUSTOMER_ID" yaml:"customer_id"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" env:"DATABASE_URL" yaml:"database_url"`
	Cart        CartConfig     `env:"CART" yaml:"cart"`
	Checkout    CheckoutConfig `env:"CHECKOUT" yaml:"checkout"`
}

// CartConfig selects and tunes the device-local cart storage.
type CartConfig struct {
	Driver          string        `default:"file" usage:"Cart storage driver: file, redis or memory" env:"DRIVER" yaml:"driver"`
	Path            string        `usage:"Directory of the file driver (defaults to the user config dir)" env:"PATH" yaml:"path"`
	Key             string        `default:"default" usage:"Storage slot of this device" env:"KEY" yaml:"key"`
	RedisURL        string        `usage:"Redis URL of the redis driver (or REDIS_URL)" env:"REDIS_URL" yaml:"redis_url"`
	TTL             time.Duration `default:"720h" usage:"Expiry of idle carts in the redis driver" env:"TTL" yaml:"ttl"`
	QuantityPolicy  string        `default:"reject" usage:"What a quantity update below 1 does: reject or remove" env:"QUANTITY_POLICY" yaml:"quantity_policy"`
	ConflictRetries int           `default:"3" usage:"Attempts of a mutation racing another writer" env:"CONFLICT_RETRIES" yaml:"conflict_retries"`
}

// CheckoutConfig controls order submission.
type CheckoutConfig struct {
	SubmitTimeout      time.Duration `default:"10s" usage:"Timeout of a single order submission" env:"SUBMIT_TIMEOUT" yaml:"submit_timeout"`
	BreakerFailures    uint32        `default:"5" usage:"Consecutive failures that open the breaker" env:"BREAKER_FAILURES" yaml:"breaker_failures"`
	BreakerOpenTimeout time.Duration `default:"30s" usage:"How long the breaker stays open" env:"BREAKER_OPEN_TIMEOUT" yaml:"breaker_open_timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files. Command line flags belong to the subcommands.
func LoadConfig() (*Config, error) {
	return loadConfig(defaultConfigFiles)
}

func loadConfig(files []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "STOREFRONT",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and REDIS_URL
// variables onto the STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Cart.RedisURL == "" {
		c.Cart.RedisURL = os.Getenv("REDIS_URL")
	}
}

func (c *Config) validate() error {
	switch c.Cart.Driver {
	case DriverFile, DriverMemory:
	case DriverRedis:
		if c.Cart.RedisURL == "" {
			return errors.New("redis cart driver requires STOREFRONT_CART_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown cart driver %q", c.Cart.Driver)
	}
	if c.Cart.Key == "" {
		return errors.New("cart key must not be empty")
	}
	if _, err := cart.ParseQuantityPolicy(c.Cart.QuantityPolicy); err != nil {
		return err
	}
	if c.Cart.ConflictRetries < 1 {
		return errors.Errorf("cart conflict retries must be at least 1, got %d", c.Cart.ConflictRetries)
	}
	return nil
}
