package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/payment"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret   string `usage:"HS256 secret for bearer tokens (SHOP_JWT_SECRET)" flag:"jwt-secret"`
	NodeID      int64  `default:"1" usage:"Snowflake node id for merchant order and refund ids (0-1023)" flag:"node-id"`
	Timezone    string `default:"Asia/Kolkata" usage:"Time zone for admin date filters and reports"`
	Checkout    CheckoutConfig
	Gateway     GatewayConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CheckoutConfig controls order pricing.
type CheckoutConfig struct {
	DiscountStacking string        `default:"sum" usage:"How automatic and coupon discounts combine: sum or best"`
	ExpectedDelivery time.Duration `default:"168h" usage:"Promised delivery time after the order date"`
}

// GatewayConfig holds payment gateway endpoints and credentials.
type GatewayConfig struct {
	AuthURL       string        `usage:"OAuth token endpoint"`
	BaseURL       string        `usage:"Gateway API base URL"`
	ClientID      string        `usage:"Gateway client id"`
	ClientSecret  string        `usage:"Gateway client secret"`
	ClientVersion string        `default:"1" usage:"Gateway client version"`
	GrantType     string        `default:"client_credentials" usage:"OAuth grant type"`
	RedirectURL   string        `usage:"Where the hosted checkout returns the shopper"`
	Timeout       time.Duration `default:"5s" usage:"Timeout of a single gateway call"`
	PaymentExpiry time.Duration `default:"20m" usage:"Lifetime of a hosted checkout session"`
	RefreshSkew   time.Duration `default:"60s" usage:"Refresh the access token this long before it expires"`
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	Timeout time.Duration `default:"10s" usage:"Timeout of a single notification send"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing or malformed settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT secret is required: set SHOP_JWT_SECRET")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errors.Errorf("node id %d out of range 0-1023", c.NodeID)
	}
	if _, err := discount.ParsePolicy(c.Checkout.DiscountStacking); err != nil {
		return errors.Wrap(err, "checkout discount stacking")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	return loc, nil
}

// PaymentConfig converts the gateway section for the payment client.
func (c *Config) PaymentConfig() payment.Config {
	g := c.Gateway
	return payment.Config{
		AuthURL:       g.AuthURL,
		BaseURL:       g.BaseURL,
		ClientID:      g.ClientID,
		ClientSecret:  g.ClientSecret,
		ClientVersion: g.ClientVersion,
		GrantType:     g.GrantType,
		RedirectURL:   g.RedirectURL,
		Timeout:       g.Timeout,
		PaymentExpiry: g.PaymentExpiry,
		RefreshSkew:   g.RefreshSkew,
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
