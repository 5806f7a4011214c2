package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Cart store backends.
const (
	CartMemory = "memory"
	CartRedis  = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	AdminAddr   string `default:"127.0.0.1:9090" usage:"Internal listen address of operator routes; empty disables them" flag:"admin-addr"`
	DatabaseURL string `usage:"PostgreSQL URL of the attempt journal; empty keeps attempts in memory" flag:"database-url"`
	Storefront  StorefrontConfig
	Courier     CourierConfig
	Cart        CartConfig
	Checkout    CheckoutConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StorefrontConfig points at the storefront backend API.
type StorefrontConfig struct {
	BaseURL string        `usage:"Storefront API base URL, e.g. https://shop.example.com/api" flag:"storefront-url"`
	Timeout time.Duration `default:"10s" usage:"Per-call timeout of storefront requests"`
	Token   string        `usage:"Bearer token sent to the storefront API"`
}

// CourierConfig holds the fixed parcel parameters of price-plan requests.
type CourierConfig struct {
	ItemType     int    `default:"2" usage:"Courier item type"`
	DeliveryType int    `default:"48" usage:"Courier delivery type"`
	ItemWeight   string `default:"0.5" usage:"Parcel weight in kilograms"`
}

// CartConfig selects the cart store.
type CartConfig struct {
	Backend   string        `default:"memory" usage:"Cart store backend: memory or redis"`
	RedisAddr string        `default:"localhost:6379" usage:"Redis address of the cart store"`
	RedisDB   int           `default:"0" usage:"Redis database of the cart store"`
	TTL       time.Duration `default:"72h" usage:"Cart expiry, refreshed on every write"`
}

// CheckoutConfig controls checkout sessions.
type CheckoutConfig struct {
	ConfirmationPath string        `default:"/order-confirmation" usage:"Page COD and QR orders navigate to"`
	SessionTTL       time.Duration `default:"30m" usage:"Idle time after which a checkout session is discarded"`
	MaxProofSize     int64         `default:"5242880" usage:"Maximum payment proof upload size in bytes"`
}

// RateLimitConfig controls the per-client fixed window limiter on session
// creation and coupon attempts.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Other peers are
	// limited by their own address.
	TrustedProxies []string `usage:"CIDRs or IPs of reverse proxies trusted to report the client address"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string      `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool          `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
	MaxAge           time.Duration `default:"10m" usage:"Preflight cache duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
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

func (c *Config) validate() error {
	if c.Storefront.BaseURL == "" {
		return errors.New("storefront base URL is required: set CHECKOUT_STOREFRONT_BASE_URL")
	}
	switch c.Cart.Backend {
	case CartMemory, CartRedis:
	default:
		return errors.Errorf("unknown cart backend %q", c.Cart.Backend)
	}
	if _, err := c.Courier.planParams(); err != nil {
		return err
	}
	if c.AdminAddr != "" && c.AdminAddr == c.Addr {
		return errors.Errorf("admin address %q must differ from the API address", c.AdminAddr)
	}
	if _, err := httpmiddleware.ParseProxies(c.RateLimit.TrustedProxies); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	if !strings.HasPrefix(c.Checkout.ConfirmationPath, "/") {
		return errors.Errorf("confirmation path %q must be absolute", c.Checkout.ConfirmationPath)
	}
	return nil
}

func (c CourierConfig) planParams() (address.PlanParams, error) {
	w, err := decimal.NewFromString(c.ItemWeight)
	if err != nil || !w.IsPositive() {
		return address.PlanParams{}, errors.Errorf("invalid courier item weight %q", c.ItemWeight)
	}
	return address.PlanParams{ItemType: c.ItemType, DeliveryType: c.DeliveryType, ItemWeight: w}, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
