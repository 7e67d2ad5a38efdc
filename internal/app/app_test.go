package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/pkg/health"
)

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		DatabaseURL: "postgres://localhost/storefront",
		JWTSecret:   "secret",
		NodeID:      1,
		Timezone:    "Asia/Kolkata",
		Checkout:    CheckoutConfig{DiscountStacking: "sum", ExpectedDelivery: 168 * time.Hour},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL"},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT secret"},
		{name: "node id too large", mutate: func(c *Config) { c.NodeID = 1024 }, wantErr: "node id"},
		{name: "negative node id", mutate: func(c *Config) { c.NodeID = -1 }, wantErr: "node id"},
		{name: "unknown stacking", mutate: func(c *Config) { c.Checkout.DiscountStacking = "max" }, wantErr: "discount stacking"},
		{name: "best stacking", mutate: func(c *Config) { c.Checkout.DiscountStacking = "best" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigLocation(t *testing.T) {
	cfg := validConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	explicit := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", explicit.Addr)
}

func TestPaymentConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway = GatewayConfig{
		AuthURL:       "https://auth.example.com/token",
		BaseURL:       "https://pay.example.com",
		ClientID:      "id",
		ClientSecret:  "secret",
		ClientVersion: "1",
		GrantType:     "client_credentials",
		RedirectURL:   "https://shop.example.com/return",
		Timeout:       5 * time.Second,
		PaymentExpiry: 20 * time.Minute,
		RefreshSkew:   time.Minute,
	}
	pc := cfg.PaymentConfig()
	assert.Equal(t, cfg.Gateway.BaseURL, pc.BaseURL)
	assert.Equal(t, cfg.Gateway.RedirectURL, pc.RedirectURL)
	assert.Equal(t, 20*time.Minute, pc.PaymentExpiry)
	assert.Equal(t, time.Minute, pc.RefreshSkew)
}

func TestCORSConfig(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		c := corsConfig(CORSConfig{Origins: []string{"*"}})
		assert.True(t, c.AllowAllOrigins)
		assert.Empty(t, c.AllowOrigins)
		assert.Nil(t, c.AllowOriginFunc)
	})
	t.Run("wildcard with credentials", func(t *testing.T) {
		c := corsConfig(CORSConfig{Origins: []string{"*"}, AllowCredentials: true})
		assert.False(t, c.AllowAllOrigins)
		require.NotNil(t, c.AllowOriginFunc)
		assert.True(t, c.AllowOriginFunc("https://any.example.com"))
	})
	t.Run("explicit origins", func(t *testing.T) {
		c := corsConfig(CORSConfig{Origins: []string{"https://shop.example.com"}})
		assert.False(t, c.AllowAllOrigins)
		assert.Equal(t, []string{"https://shop.example.com"}, c.AllowOrigins)
		assert.Contains(t, c.AllowHeaders, "Authorization")
	})
}

func TestNewRouter(t *testing.T) {
	healthSvc := health.New()
	healthSvc.SetReady(true)
	h := handler.New(nil, nil, nil, nil, auth.NewVerifier([]byte("secret")))
	r := NewRouter(CORSConfig{Origins: []string{"https://shop.example.com"}}, healthSvc, h)

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("api requires token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/mine", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/checkout", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
