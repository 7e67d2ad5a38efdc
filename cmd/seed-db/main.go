package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/shipping"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type catalogJSON struct {
	Variations []variationJSON `json:"variations"`
	Products   []productJSON   `json:"products"`
	Shipping   []shippingJSON  `json:"shipping"`
	Discounts  []discountJSON  `json:"discounts"`
	Users      []userJSON      `json:"users"`
}

type variationJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Options []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"options"`
}

type productJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Tax        decimal.Decimal `json:"tax"`
	Thumbnail  string          `json:"thumbnail"`
	Categories []string        `json:"categories"`
	Variants   []struct {
		SKU        string          `json:"sku"`
		Specs      []product.Spec  `json:"specs"`
		Stock      int             `json:"stock"`
		ExtraPrice decimal.Decimal `json:"extraPrice"`
	} `json:"variants"`
}

type shippingJSON struct {
	DeliveryType string          `json:"deliveryType"`
	Amount       decimal.Decimal `json:"amount"`
	Duration     string          `json:"duration"`
}

type discountJSON struct {
	Code              string              `json:"code"`
	Description       string              `json:"description"`
	Type              string              `json:"type"`
	Value             decimal.Decimal     `json:"value"`
	MinOrderAmount    decimal.Decimal     `json:"minOrderAmount"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
	Automatic         bool                `json:"automatic"`
	Products          []string            `json:"products"`
	Categories        []string            `json:"categories"`
	ValidDays         int                 `json:"validDays"`
}

type userJSON struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Role      string `json:"role"`
	Address   *struct {
		ID      string `json:"id"`
		Line1   string `json:"line1"`
		City    string `json:"city"`
		State   string `json:"state"`
		Pincode string `json:"pincode"`
	} `json:"address"`
	Cart []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		Variant   int    `json:"variant"`
	} `json:"cart"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
		jwtSecret   string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to the demo catalog JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret used to print demo tokens (or SHOP_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of the printed demo tokens")
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
	if jwtSecret == "" {
		jwtSecret = os.Getenv("SHOP_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile); err != nil {
		lg.Fatal("seed failed", zap.Error(err))
	}
	lg.Info("seed completed successfully")

	if jwtSecret == "" {
		lg.Info("no JWT secret given, skipping demo tokens")
		return
	}
	if err := printTokens(lg, catalogFile, auth.NewVerifier([]byte(jwtSecret)), tokenTTL); err != nil {
		lg.Fatal("sign demo tokens", zap.Error(err))
	}
}

func readCatalog(path string) (*catalogJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var c catalogJSON
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	return &c, nil
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile string) error {
	catalog, err := readCatalog(catalogFile)
	if err != nil {
		return err
	}

	lg.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := seedVariations(ctx, tx, catalog.Variations); err != nil {
			return errors.Wrap(err, "seed variations")
		}
		if err := seedProducts(ctx, tx, catalog.Products); err != nil {
			return errors.Wrap(err, "seed products")
		}
		return seedUsers(ctx, tx, catalog)
	}); err != nil {
		return err
	}
	lg.Info("seeded catalog",
		zap.Int("variations", len(catalog.Variations)),
		zap.Int("products", len(catalog.Products)),
		zap.Int("users", len(catalog.Users)),
	)

	if err := seedShipping(ctx, lg, pool, catalog.Shipping); err != nil {
		return errors.Wrap(err, "seed shipping costs")
	}
	if err := seedDiscounts(ctx, lg, pool, catalog.Discounts); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	return nil
}

func seedVariations(ctx context.Context, tx pgx.Tx, variations []variationJSON) error {
	for _, v := range variations {
		if _, err := tx.Exec(ctx,
			`INSERT INTO variations (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, v.ID, v.Name); err != nil {
			return errors.Wrapf(err, "upsert variation %s", v.Name)
		}
		for _, o := range v.Options {
			if _, err := tx.Exec(ctx,
				`INSERT INTO options (id, variation_id, value) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value`, o.ID, v.ID, o.Value); err != nil {
				return errors.Wrapf(err, "upsert option %s", o.Value)
			}
		}
	}
	return nil
}

func seedProducts(ctx context.Context, tx pgx.Tx, products []productJSON) error {
	for _, p := range products {
		if _, err := tx.Exec(ctx,
			`INSERT INTO products (id, name, price, tax, thumbnail, category_ids)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, price = EXCLUDED.price, tax = EXCLUDED.tax,
				thumbnail = EXCLUDED.thumbnail, category_ids = EXCLUDED.category_ids`,
			p.ID, p.Name, p.Price, p.Tax, p.Thumbnail, nonNil(p.Categories)); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.Name)
		}
		for i, v := range p.Variants {
			specs := v.Specs
			if specs == nil {
				specs = []product.Spec{}
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO product_variants (product_id, position, sku, specs, stock, extra_price)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (product_id, position) DO UPDATE SET
					sku = EXCLUDED.sku, specs = EXCLUDED.specs,
					stock = EXCLUDED.stock, extra_price = EXCLUDED.extra_price`,
				p.ID, i, v.SKU, specs, v.Stock, v.ExtraPrice); err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.SKU)
			}
		}
	}
	return nil
}

func seedUsers(ctx context.Context, tx pgx.Tx, catalog *catalogJSON) error {
	variants := make(map[string][][]product.Spec, len(catalog.Products))
	for _, p := range catalog.Products {
		for _, v := range p.Variants {
			variants[p.ID] = append(variants[p.ID], v.Specs)
		}
	}

	for _, u := range catalog.Users {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, first_name, last_name, email, mobile) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
				email = EXCLUDED.email, mobile = EXCLUDED.mobile`,
			u.ID, u.FirstName, u.LastName, u.Email, u.Mobile); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.Email)
		}
		if a := u.Address; a != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO addresses (id, user_id, line1, city, state, pincode) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET
					line1 = EXCLUDED.line1, city = EXCLUDED.city,
					state = EXCLUDED.state, pincode = EXCLUDED.pincode`,
				a.ID, u.ID, a.Line1, a.City, a.State, a.Pincode); err != nil {
				return errors.Wrapf(err, "upsert address of %s", u.Email)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, u.ID); err != nil {
			return errors.Wrapf(err, "reset cart of %s", u.Email)
		}
		for _, item := range u.Cart {
			specs := []product.Spec{}
			if vs := variants[item.ProductID]; item.Variant < len(vs) && vs[item.Variant] != nil {
				specs = vs[item.Variant]
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO cart_items (user_id, product_id, quantity, specs) VALUES ($1, $2, $3, $4)`,
				u.ID, item.ProductID, item.Quantity, specs); err != nil {
				return errors.Wrapf(err, "add cart item of %s", u.Email)
			}
		}
	}
	return nil
}

func seedShipping(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, costs []shippingJSON) error {
	repo := postgres.NewShippingRepository(pool)
	for _, sc := range costs {
		dt, err := shipping.ParseDeliveryType(sc.DeliveryType)
		if err != nil {
			return err
		}
		existing, err := repo.FindActive(ctx, dt)
		switch {
		case err == nil:
			lg.Info("shipping cost already active", zap.String("type", string(dt)), zap.String("amount", existing.Amount.StringFixed(2)))
			continue
		case !errors.Is(err, shipping.ErrNotFound):
			return err
		}
		c := &shipping.Cost{DeliveryType: dt, Amount: sc.Amount, Duration: sc.Duration}
		if err := repo.Create(ctx, c); err != nil {
			return errors.Wrapf(err, "create %s shipping cost", dt)
		}
		lg.Info("created shipping cost", zap.Int64("id", c.ID), zap.String("type", string(dt)))
	}
	return nil
}

func seedDiscounts(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, discounts []discountJSON) error {
	repo := postgres.NewDiscountRepository(pool)
	now := time.Now()
	for _, dj := range discounts {
		d := &discount.Discount{
			Code:                 dj.Code,
			Description:          dj.Description,
			Type:                 discount.Type(dj.Type),
			Value:                dj.Value,
			MinOrderAmount:       dj.MinOrderAmount,
			MaxDiscountAmount:    dj.MaxDiscountAmount,
			StartDate:            now,
			EndDate:              now.AddDate(0, 0, dj.ValidDays),
			IsActive:             true,
			AppliesAutomatically: dj.Automatic,
			ApplicableProducts:   dj.Products,
			ApplicableCategories: dj.Categories,
		}
		if err := d.Validate(); err != nil {
			return errors.Wrapf(err, "discount %q", dj.Description)
		}
		if dj.Automatic {
			if exists, err := automaticExists(ctx, repo, dj.Description); err != nil {
				return err
			} else if exists {
				lg.Info("automatic discount already exists", zap.String("description", dj.Description))
				continue
			}
		}
		if err := repo.Create(ctx, d); err != nil {
			if errors.Is(err, discount.ErrDuplicateCode) {
				lg.Info("discount code already exists", zap.String("code", dj.Code))
				continue
			}
			return errors.Wrapf(err, "create discount %q", dj.Description)
		}
		lg.Info("created discount", zap.Int64("id", d.ID), zap.String("code", d.Code), zap.String("description", d.Description))
	}
	return nil
}

// automaticExists reports whether an automatic discount with the same
// description is already stored; automatic discounts carry no code to
// deduplicate on.
func automaticExists(ctx context.Context, repo *postgres.DiscountRepository, description string) (bool, error) {
	list, err := repo.List(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range list {
		if d.AppliesAutomatically && d.Description == description {
			return true, nil
		}
	}
	return false, nil
}

func printTokens(lg *zap.Logger, catalogFile string, v *auth.Verifier, ttl time.Duration) error {
	catalog, err := readCatalog(catalogFile)
	if err != nil {
		return err
	}
	for _, u := range catalog.Users {
		role := auth.RoleUser
		if auth.Role(u.Role) == auth.RoleAdmin {
			role = auth.RoleAdmin
		}
		token, err := v.Sign(auth.Identity{UserID: u.ID, Role: role}, ttl)
		if err != nil {
			return err
		}
		lg.Info("demo token",
			zap.String("email", u.Email),
			zap.String("role", string(role)),
			zap.String("token", token),
		)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
