package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/tokopos/promo-engine/internal/domain/promo"
)

const (
	promotionColumns = `id, code, name, kind, value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, usage_count, per_user_limit,
		scope, status, auto_apply, stackable, priority, created_at`

	findPromotionByCodeSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE UPPER(code) = UPPER($1)`

	findAutoApplySQL = `SELECT ` + promotionColumns + `
		FROM promotions
		WHERE auto_apply = TRUE
		  AND status = 'active'
		  AND valid_from <= $1 AND valid_until >= $1
		  AND (usage_limit = 0 OR usage_count < usage_limit)
		ORDER BY created_at, code`

	findCategoriesSQL = `SELECT promotion_id, category_id FROM promotion_categories
		WHERE promotion_id = ANY($1) ORDER BY promotion_id, category_id`

	findProductRulesSQL = `SELECT id, promotion_id, product_id, kind, value,
		min_quantity, max_quantity, override_price, requires_stock_check
		FROM product_rules WHERE promotion_id = ANY($1) ORDER BY promotion_id, product_id`

	findTiersSQL = `SELECT rule_id, min_qty, max_qty, kind, value
		FROM quantity_tiers WHERE rule_id = ANY($1) ORDER BY rule_id, min_qty`

	findBundleRulesSQL = `SELECT id, promotion_id, require_all, min_quantity, max_quantity,
		bundle_price, kind, value, requires_stock_check
		FROM bundle_rules WHERE promotion_id = ANY($1) ORDER BY promotion_id, id`

	findBundleProductsSQL = `SELECT bundle_rule_id, product_id, required_quantity
		FROM bundle_products WHERE bundle_rule_id = ANY($1)
		ORDER BY bundle_rule_id, position, product_id`

	consumeUsageSQL = `UPDATE promotions SET usage_count = usage_count + 1
		WHERE UPPER(code) = UPPER($1)
		  AND status = 'active'
		  AND (usage_limit = 0 OR usage_count < usage_limit)`
)

var _ promo.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promo.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up a promotion by its code (case-insensitive) regardless
// of status; eligibility is the engine's concern. Returns
// promo.ErrPromoNotFound when no such code exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promo.Promotion, error) {
	rows, err := r.pool.Query(ctx, findPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrPromoNotFound
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	categories, err := r.loadCategories(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.CategoryIDs = categories[p.ID]

	return &p, nil
}

// FindAutoApply loads the auto-apply promotions plausibly active at the
// given instant together with their detail rules. The rule sets are fetched
// concurrently; the engine re-derives effective activity from the snapshot.
func (r *PromotionRepository) FindAutoApply(ctx context.Context, now time.Time) (*promo.Snapshot, error) {
	rows, err := r.pool.Query(ctx, findAutoApplySQL, now)
	if err != nil {
		return nil, fmt.Errorf("finding auto-apply promotions: %w", err)
	}

	promotions, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("finding auto-apply promotions: %w", err)
	}

	snap := &promo.Snapshot{
		Promotions:   promotions,
		ProductRules: make(map[string][]promo.ProductRule),
		BundleRules:  make(map[string][]promo.BundleRule),
	}
	if len(promotions) == 0 {
		return snap, nil
	}

	ids := make([]string, len(promotions))
	for i, p := range promotions {
		ids[i] = p.ID
	}

	var (
		productRules map[string][]promo.ProductRule
		bundleRules  map[string][]promo.BundleRule
		categories   map[string][]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		productRules, err = r.loadProductRules(gctx, ids)
		return err
	})
	g.Go(func() (err error) {
		bundleRules, err = r.loadBundleRules(gctx, ids)
		return err
	})
	g.Go(func() (err error) {
		categories, err = r.loadCategories(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.ProductRules = productRules
	snap.BundleRules = bundleRules
	for i := range snap.Promotions {
		snap.Promotions[i].CategoryIDs = categories[snap.Promotions[i].ID]
	}

	return snap, nil
}

// FindProductRules returns the product rules (with quantity tiers) of one promotion.
func (r *PromotionRepository) FindProductRules(ctx context.Context, promotionID string) ([]promo.ProductRule, error) {
	byPromo, err := r.loadProductRules(ctx, []string{promotionID})
	if err != nil {
		return nil, err
	}
	return byPromo[promotionID], nil
}

// FindBundleRules returns the bundle rules (with product lists) of one promotion.
func (r *PromotionRepository) FindBundleRules(ctx context.Context, promotionID string) ([]promo.BundleRule, error) {
	byPromo, err := r.loadBundleRules(ctx, []string{promotionID})
	if err != nil {
		return nil, err
	}
	return byPromo[promotionID], nil
}

// ConsumeUsage atomically increments a promotion's usage counter, refusing
// the increment once the limit is reached. This is the reservation commit
// used by order finalization; evaluation never calls it.
func (r *PromotionRepository) ConsumeUsage(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, consumeUsageSQL, code)
	if err != nil {
		return fmt.Errorf("consuming usage for promotion %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrUsageLimitReached
	}
	return nil
}

// productRuleRow carries the storage-level rule ID needed to attach tiers.
type productRuleRow struct {
	id   string
	rule promo.ProductRule
}

func (r *PromotionRepository) loadProductRules(ctx context.Context, promotionIDs []string) (map[string][]promo.ProductRule, error) {
	rows, err := r.pool.Query(ctx, findProductRulesSQL, promotionIDs)
	if err != nil {
		return nil, fmt.Errorf("loading product rules: %w", err)
	}

	ruleRows, err := pgx.CollectRows(rows, scanProductRule)
	if err != nil {
		return nil, fmt.Errorf("loading product rules: %w", err)
	}
	if len(ruleRows) == 0 {
		return map[string][]promo.ProductRule{}, nil
	}

	ruleIDs := make([]string, len(ruleRows))
	for i, rr := range ruleRows {
		ruleIDs[i] = rr.id
	}

	tiers, err := r.loadTiers(ctx, ruleIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]promo.ProductRule)
	for _, rr := range ruleRows {
		rule := rr.rule
		rule.Tiers = tiers[rr.id]
		out[rule.PromotionID] = append(out[rule.PromotionID], rule)
	}
	return out, nil
}

func (r *PromotionRepository) loadTiers(ctx context.Context, ruleIDs []string) (map[string][]promo.QuantityTier, error) {
	rows, err := r.pool.Query(ctx, findTiersSQL, ruleIDs)
	if err != nil {
		return nil, fmt.Errorf("loading quantity tiers: %w", err)
	}

	out := make(map[string][]promo.QuantityTier)
	var (
		ruleID string
		tier   promo.QuantityTier
		kind   string
	)
	_, err = pgx.ForEachRow(rows, []any{&ruleID, &tier.MinQty, &tier.MaxQty, &kind, &tier.Value}, func() error {
		tier.Kind = promo.Kind(kind)
		out[ruleID] = append(out[ruleID], tier)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading quantity tiers: %w", err)
	}
	return out, nil
}

type bundleRuleRow struct {
	id   string
	rule promo.BundleRule
}

func (r *PromotionRepository) loadBundleRules(ctx context.Context, promotionIDs []string) (map[string][]promo.BundleRule, error) {
	rows, err := r.pool.Query(ctx, findBundleRulesSQL, promotionIDs)
	if err != nil {
		return nil, fmt.Errorf("loading bundle rules: %w", err)
	}

	ruleRows, err := pgx.CollectRows(rows, scanBundleRule)
	if err != nil {
		return nil, fmt.Errorf("loading bundle rules: %w", err)
	}
	if len(ruleRows) == 0 {
		return map[string][]promo.BundleRule{}, nil
	}

	ruleIDs := make([]string, len(ruleRows))
	for i, rr := range ruleRows {
		ruleIDs[i] = rr.id
	}

	products, err := r.loadBundleProducts(ctx, ruleIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]promo.BundleRule)
	for _, rr := range ruleRows {
		rule := rr.rule
		rule.Products = products[rr.id]
		out[rule.PromotionID] = append(out[rule.PromotionID], rule)
	}
	return out, nil
}

func (r *PromotionRepository) loadBundleProducts(ctx context.Context, ruleIDs []string) (map[string][]promo.BundleProduct, error) {
	rows, err := r.pool.Query(ctx, findBundleProductsSQL, ruleIDs)
	if err != nil {
		return nil, fmt.Errorf("loading bundle products: %w", err)
	}

	out := make(map[string][]promo.BundleProduct)
	var (
		ruleID string
		bp     promo.BundleProduct
	)
	_, err = pgx.ForEachRow(rows, []any{&ruleID, &bp.ProductID, &bp.RequiredQuantity}, func() error {
		out[ruleID] = append(out[ruleID], bp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading bundle products: %w", err)
	}
	return out, nil
}

func (r *PromotionRepository) loadCategories(ctx context.Context, promotionIDs []string) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx, findCategoriesSQL, promotionIDs)
	if err != nil {
		return nil, fmt.Errorf("loading promotion categories: %w", err)
	}

	out := make(map[string][]string)
	var promotionID, categoryID string
	_, err = pgx.ForEachRow(rows, []any{&promotionID, &categoryID}, func() error {
		out[promotionID] = append(out[promotionID], categoryID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading promotion categories: %w", err)
	}
	return out, nil
}

func scanPromotion(row pgx.CollectableRow) (promo.Promotion, error) {
	var (
		p      promo.Promotion
		kind   string
		scope  string
		status string
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &kind, &p.Value, &p.MinPurchase, &p.MaxDiscount,
		&p.ValidFrom, &p.ValidUntil, &p.UsageLimit, &p.UsageCount, &p.PerUserLimit,
		&scope, &status, &p.AutoApply, &p.Stackable, &p.Priority, &p.CreatedAt,
	)
	p.Kind = promo.Kind(kind)
	p.Scope = promo.Scope(scope)
	p.Status = promo.Status(status)
	return p, err
}

func scanProductRule(row pgx.CollectableRow) (productRuleRow, error) {
	var (
		rr   productRuleRow
		kind string
	)
	err := row.Scan(
		&rr.id, &rr.rule.PromotionID, &rr.rule.ProductID, &kind, &rr.rule.Value,
		&rr.rule.MinQuantity, &rr.rule.MaxQuantity, &rr.rule.OverridePrice,
		&rr.rule.RequiresStockCheck,
	)
	rr.rule.Kind = promo.Kind(kind)
	return rr, err
}

func scanBundleRule(row pgx.CollectableRow) (bundleRuleRow, error) {
	var (
		rr   bundleRuleRow
		kind string
	)
	err := row.Scan(
		&rr.id, &rr.rule.PromotionID, &rr.rule.RequireAll, &rr.rule.MinQuantity,
		&rr.rule.MaxQuantity, &rr.rule.BundlePrice, &kind, &rr.rule.Value,
		&rr.rule.RequiresStockCheck,
	)
	rr.rule.Kind = promo.Kind(kind)
	return rr, err
}
