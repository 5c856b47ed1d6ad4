// Command seed-db loads a demo catalog and a set of promotions covering every
// discount scope: general codes, product rules with quantity tiers, category
// discounts, and bundles.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tokopos/promo-engine/internal/storage/postgres"
)

const (
	upsertProductSQL = `
INSERT INTO products (id, name, category_id, price, stock)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, category_id = EXCLUDED.category_id,
    price = EXCLUDED.price, stock = EXCLUDED.stock`

	upsertPromotionSQL = `
INSERT INTO promotions (
    id, code, name, kind, value, min_purchase, max_discount,
    valid_from, valid_until, usage_limit, scope, auto_apply, stackable, priority
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (code) DO UPDATE
SET name = EXCLUDED.name, kind = EXCLUDED.kind, value = EXCLUDED.value,
    min_purchase = EXCLUDED.min_purchase, max_discount = EXCLUDED.max_discount,
    valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
    usage_limit = EXCLUDED.usage_limit, scope = EXCLUDED.scope,
    auto_apply = EXCLUDED.auto_apply, stackable = EXCLUDED.stackable,
    priority = EXCLUDED.priority
RETURNING id`

	deleteRulesSQL = `
DELETE FROM product_rules WHERE promotion_id = $1;`

	deleteBundlesSQL = `
DELETE FROM bundle_rules WHERE promotion_id = $1;`

	deleteCategoriesSQL = `
DELETE FROM promotion_categories WHERE promotion_id = $1;`

	insertCategorySQL = `
INSERT INTO promotion_categories (promotion_id, category_id) VALUES ($1, $2)`

	insertProductRuleSQL = `
INSERT INTO product_rules (
    id, promotion_id, product_id, kind, value,
    min_quantity, max_quantity, override_price, requires_stock_check
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertTierSQL = `
INSERT INTO quantity_tiers (rule_id, min_qty, max_qty, kind, value)
VALUES ($1, $2, $3, $4, $5)`

	insertBundleRuleSQL = `
INSERT INTO bundle_rules (
    id, promotion_id, require_all, min_quantity, max_quantity,
    bundle_price, kind, value, requires_stock_check
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertBundleProductSQL = `
INSERT INTO bundle_products (bundle_rule_id, product_id, required_quantity, position)
VALUES ($1, $2, $3, $4)`
)

type product struct {
	id       string
	name     string
	category string
	price    string
	stock    int
}

var products = []product{
	{id: "SKU-TSHIRT", name: "Classic T-Shirt", category: "apparel", price: "150000", stock: 120},
	{id: "SKU-JEANS", name: "Slim Jeans", category: "apparel", price: "300000", stock: 60},
	{id: "SKU-HOODIE", name: "Zip Hoodie", category: "apparel", price: "250000", stock: 35},
	{id: "SKU-SNEAKER", name: "Canvas Sneaker", category: "footwear", price: "500000", stock: 25},
	{id: "SKU-SOCKS", name: "Crew Socks 3-Pack", category: "footwear", price: "45000", stock: 400},
	{id: "SKU-CAP", name: "Baseball Cap", category: "accessories", price: "75000", stock: 0},
}

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		price, err := decimal.NewFromString(p.price)
		if err != nil {
			return errors.Wrapf(err, "parse price for %s", p.id)
		}
		if _, err := pool.Exec(ctx, upsertProductSQL, p.id, p.name, p.category, price, p.stock); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.id)
		}
	}

	return nil
}

// promoSeed describes one promotion plus its per-scope detail rows.
type promoSeed struct {
	code        string
	name        string
	kind        string
	value       string
	minPurchase string
	maxDiscount string
	usageLimit  int
	scope       string
	autoApply   bool
	stackable   bool
	priority    int

	categories []string
	rules      []ruleSeed
	bundles    []bundleSeed
}

type ruleSeed struct {
	productID     string
	kind          string
	value         string
	minQty        int
	maxQty        int
	overridePrice string
	stockCheck    bool
	tiers         []tierSeed
}

type tierSeed struct {
	minQty, maxQty int
	kind, value    string
}

type bundleSeed struct {
	requireAll  bool
	minQty      int
	maxQty      int
	bundlePrice string
	kind        string
	value       string
	stockCheck  bool
	products    []bundleProductSeed
}

type bundleProductSeed struct {
	productID string
	required  int
}

var promotions = []promoSeed{
	{
		code: "WELCOME10", name: "Welcome: 10% off your first order",
		kind: "percentage", value: "10", maxDiscount: "50000",
		scope: "general", usageLimit: 10000, priority: 1,
	},
	{
		code: "PAYDAY25K", name: "Payday: 25K off orders over 200K",
		kind: "fixed", value: "25000", minPurchase: "200000",
		scope: "general", autoApply: true, stackable: true, priority: 5,
	},
	{
		code: "TEEDEAL", name: "Tiered t-shirt discount",
		kind: "percentage", value: "0",
		scope: "product_specific", priority: 3,
		rules: []ruleSeed{{
			productID: "SKU-TSHIRT", kind: "percentage", value: "10",
			minQty: 1, stockCheck: true,
			tiers: []tierSeed{
				{minQty: 2, maxQty: 4, kind: "percentage", value: "10"},
				{minQty: 5, maxQty: 9, kind: "percentage", value: "15"},
				{minQty: 10, maxQty: 99, kind: "percentage", value: "20"},
			},
		}},
	},
	{
		code: "SNEAKFLAT", name: "Flat 75K off canvas sneakers",
		kind: "fixed", value: "75000",
		scope: "product_specific", priority: 2,
		rules: []ruleSeed{{
			productID: "SKU-SNEAKER", kind: "fixed", value: "75000",
			minQty: 1, stockCheck: true,
		}},
	},
	{
		code: "APPAREL15", name: "15% off all apparel",
		kind: "percentage", value: "15", maxDiscount: "100000",
		scope: "category", autoApply: true, priority: 4,
		categories: []string{"apparel"},
	},
	{
		code: "OUTFIT", name: "T-shirt + jeans outfit bundle",
		kind: "fixed", value: "0",
		scope: "bundle", priority: 6,
		bundles: []bundleSeed{{
			requireAll: true, minQty: 1, bundlePrice: "400000", stockCheck: true,
			kind: "fixed", value: "0",
			products: []bundleProductSeed{
				{productID: "SKU-TSHIRT", required: 1},
				{productID: "SKU-JEANS", required: 1},
			},
		}},
	},
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting promotions", slog.Int("count", len(promotions)))

	now := time.Now().UTC()
	validFrom := now.AddDate(0, 0, -1)
	validUntil := now.AddDate(0, 6, 0)

	for _, seed := range promotions {
		value, err := decimal.NewFromString(seed.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for %s", seed.code)
		}
		minPurchase := decimal.Zero
		if seed.minPurchase != "" {
			if minPurchase, err = decimal.NewFromString(seed.minPurchase); err != nil {
				return errors.Wrapf(err, "parse min purchase for %s", seed.code)
			}
		}
		var maxDiscount *decimal.Decimal
		if seed.maxDiscount != "" {
			d, err := decimal.NewFromString(seed.maxDiscount)
			if err != nil {
				return errors.Wrapf(err, "parse max discount for %s", seed.code)
			}
			maxDiscount = &d
		}

		var promoID string
		err = pool.QueryRow(ctx, upsertPromotionSQL,
			uuid.NewString(), seed.code, seed.name, seed.kind, value, minPurchase, maxDiscount,
			validFrom, validUntil, seed.usageLimit, seed.scope, seed.autoApply, seed.stackable, seed.priority,
		).Scan(&promoID)
		if err != nil {
			return errors.Wrapf(err, "upsert promotion %s", seed.code)
		}

		// Replace detail rows wholesale so re-running the seed stays clean.
		for _, q := range []string{deleteRulesSQL, deleteBundlesSQL, deleteCategoriesSQL} {
			if _, err := pool.Exec(ctx, q, promoID); err != nil {
				return errors.Wrapf(err, "reset detail rows for %s", seed.code)
			}
		}

		for _, cat := range seed.categories {
			if _, err := pool.Exec(ctx, insertCategorySQL, promoID, cat); err != nil {
				return errors.Wrapf(err, "insert category %s for %s", cat, seed.code)
			}
		}

		if err := insertRules(ctx, pool, promoID, seed); err != nil {
			return errors.Wrapf(err, "insert rules for %s", seed.code)
		}

		slog.Info("upserted promotion", slog.String("code", seed.code), slog.String("scope", seed.scope))
	}

	return nil
}

func insertRules(ctx context.Context, pool *pgxpool.Pool, promoID string, seed promoSeed) error {
	for _, r := range seed.rules {
		ruleValue, err := decimal.NewFromString(r.value)
		if err != nil {
			return errors.Wrap(err, "parse rule value")
		}
		var override *decimal.Decimal
		if r.overridePrice != "" {
			d, err := decimal.NewFromString(r.overridePrice)
			if err != nil {
				return errors.Wrap(err, "parse override price")
			}
			override = &d
		}

		ruleID := uuid.NewString()
		if _, err := pool.Exec(ctx, insertProductRuleSQL,
			ruleID, promoID, r.productID, r.kind, ruleValue,
			r.minQty, r.maxQty, override, r.stockCheck,
		); err != nil {
			return errors.Wrapf(err, "insert rule for product %s", r.productID)
		}

		for _, t := range r.tiers {
			tierValue, err := decimal.NewFromString(t.value)
			if err != nil {
				return errors.Wrap(err, "parse tier value")
			}
			if _, err := pool.Exec(ctx, insertTierSQL, ruleID, t.minQty, t.maxQty, t.kind, tierValue); err != nil {
				return errors.Wrapf(err, "insert tier %d-%d", t.minQty, t.maxQty)
			}
		}
	}

	for _, b := range seed.bundles {
		bundleValue, err := decimal.NewFromString(b.value)
		if err != nil {
			return errors.Wrap(err, "parse bundle value")
		}
		var bundlePrice *decimal.Decimal
		if b.bundlePrice != "" {
			d, err := decimal.NewFromString(b.bundlePrice)
			if err != nil {
				return errors.Wrap(err, "parse bundle price")
			}
			bundlePrice = &d
		}

		bundleID := uuid.NewString()
		if _, err := pool.Exec(ctx, insertBundleRuleSQL,
			bundleID, promoID, b.requireAll, b.minQty, b.maxQty,
			bundlePrice, b.kind, bundleValue, b.stockCheck,
		); err != nil {
			return errors.Wrap(err, "insert bundle rule")
		}

		for i, bp := range b.products {
			if _, err := pool.Exec(ctx, insertBundleProductSQL, bundleID, bp.productID, bp.required, i); err != nil {
				return errors.Wrapf(err, "insert bundle product %s", bp.productID)
			}
		}
	}

	return nil
}
