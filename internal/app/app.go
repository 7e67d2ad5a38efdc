// Package app wires the storefront together and runs its HTTP server.
package app

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/notify"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/shipping"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/idgen"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	policy, err := discount.ParsePolicy(cfg.Checkout.DiscountStacking)
	if err != nil {
		return err
	}
	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		return errors.Wrap(err, "create id generator")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	products := postgres.NewProductRepository(pool)
	customers := postgres.NewCustomerRepository(pool)
	orders := postgres.NewOrderRepository(pool)
	discounts := postgres.NewDiscountRepository(pool)
	shippingCosts := postgres.NewShippingRepository(pool)

	// Domain services.
	ledger := inventory.NewLedger(products)
	engine := discount.NewEngine(discounts, policy)
	resolver := shipping.NewResolver(shippingCosts)
	gateway := payment.NewClient(cfg.PaymentConfig(), payment.WithTracerProvider(m.TracerProvider()))
	dispatcher := notify.NewDispatcher(customers, notify.LogSender{}, cfg.Notify.Timeout)

	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Products:  products,
		Customers: customers,
		Orders:    orders,
		Inventory: ledger,
		Discounts: engine,
		Shipping:  resolver,
		Gateway:   gateway,
		Notifier:  dispatcher,
		IDs:       ids,
	},
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithExpectedDelivery(cfg.Checkout.ExpectedDelivery),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	orderSvc := order.NewService(orders, dispatcher, gateway, ledger, ids, loc)

	h := handler.New(checkoutSvc, orderSvc, engine, resolver, auth.NewVerifier([]byte(cfg.JWTSecret)))
	router := NewRouter(cfg.CORS, healthSvc, h)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2*cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument("storefront", m.TracerProvider(), m.MeterProvider()),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		dispatcher.Wait()
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// NewRouter builds the gin engine with CORS, health checks and API routes.
func NewRouter(cfg CORSConfig, healthSvc *health.Health, h *handler.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(cors.New(corsConfig(cfg)))
	healthSvc.Register(r)
	h.Register(r)
	return r
}

func corsConfig(cfg CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
		ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           24 * time.Hour,
	}
	allowAll := len(cfg.Origins) == 0 || slices.Contains(cfg.Origins, "*")
	switch {
	case allowAll && cfg.AllowCredentials:
		// A wildcard cannot be combined with credentials; echo the origin.
		c.AllowOriginFunc = func(string) bool { return true }
	case allowAll:
		c.AllowAllOrigins = true
	default:
		c.AllowOrigins = cfg.Origins
	}
	return c
}
