// Package promo implements the promotion evaluation engine: rule data model,
// per-line and bundle discount calculators, eligibility filtering, best-promo
// selection, and the cart evaluation service that ties them together.
//
// Evaluation is a pure function of the cart, the rule snapshot, and the clock.
// It never writes; usage counters are consumed by the order-finalization step
// through the storage layer, not here.
package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scope is the dimension along which a promotion applies.
type Scope string

const (
	// ScopeGeneral applies the discount to the whole cart subtotal.
	ScopeGeneral Scope = "general"
	// ScopeProduct applies per-product rules to matching cart lines.
	ScopeProduct Scope = "product_specific"
	// ScopeCategory applies the discount to lines in the targeted categories.
	ScopeCategory Scope = "category"
	// ScopeBundle applies a discount per fully satisfied bundle repetition.
	ScopeBundle Scope = "bundle"
)

// Kind enumerates the supported discount computation strategies.
type Kind string

const (
	// KindPercentage discounts a percentage of the scoped value.
	KindPercentage Kind = "percentage"
	// KindFixed discounts a flat amount, applied once per scoped unit
	// (once per line for product rules, once per bundle repetition).
	KindFixed Kind = "fixed"
)

// Status is the administrative state of a promotion. It is necessary but not
// sufficient for applicability: temporal and usage expiry are recomputed on
// every evaluation instead of trusting a possibly stale status.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// Recoverable evaluation outcomes, returned as values across the engine
// boundary. Only malformed rule data surfaces as a *RuleDataError.
var (
	// ErrInvalidCart is returned when the cart is empty or malformed.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrPromoNotFound is returned when a code is unknown or administratively inactive.
	ErrPromoNotFound = errors.New("promo not found")
	// ErrPromoExpired is returned when a promotion is outside its validity window.
	ErrPromoExpired = errors.New("promo expired")
	// ErrUsageLimitReached is returned when a promotion has exhausted its allowed uses.
	ErrUsageLimitReached = errors.New("promo usage limit reached")
	// ErrMinPurchaseNotMet is returned when the cart subtotal is below the promotion's minimum.
	ErrMinPurchaseNotMet = errors.New("minimum purchase not met")
	// ErrBundleRequirementsNotMet is returned when no bundle rule of a bundle
	// promotion is satisfiable by the cart.
	ErrBundleRequirementsNotMet = errors.New("bundle requirements not met")
)

// RuleDataError indicates malformed rule configuration (overlapping tiers,
// empty bundle product lists). It is an operator-facing defect, not a
// business-rule miss.
type RuleDataError struct {
	PromotionID string
	Reason      string
}

func (e *RuleDataError) Error() string {
	return fmt.Sprintf("malformed rule data for promotion %s: %s", e.PromotionID, e.Reason)
}

// Promotion is a named, coded discount policy.
type Promotion struct {
	ID          string
	Code        string
	Name        string
	Kind        Kind
	Value       decimal.Decimal
	MinPurchase decimal.Decimal
	// MaxDiscount caps percentage discounts in general/category scope.
	MaxDiscount decimal.NullDecimal
	ValidFrom   time.Time
	ValidUntil  time.Time
	// UsageLimit of 0 means unlimited.
	UsageLimit int
	UsageCount int
	// PerUserLimit is enforced by the external usage ledger at order
	// finalization; it is carried here for completeness only.
	PerUserLimit int
	Scope        Scope
	Status       Status
	AutoApply    bool
	Stackable    bool
	Priority     int
	// CategoryIDs targets category-scoped promotions.
	CategoryIDs []string
	CreatedAt   time.Time
}

// EffectivelyActive reports whether the promotion can be applied at the given
// instant. Status, validity window, and usage headroom are all rechecked.
func (p *Promotion) EffectivelyActive(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return false
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return false
	}
	return true
}

// QuantityTier maps a quantity range onto its own discount rate.
type QuantityTier struct {
	MinQty int
	MaxQty int
	Kind   Kind
	Value  decimal.Decimal
}

// ProductRule is the product_specific scope detail, one per (promotion, product).
type ProductRule struct {
	PromotionID string
	ProductID   string
	Kind        Kind
	Value       decimal.Decimal
	// MinQuantity defaults to 1 when zero.
	MinQuantity int
	// MaxQuantity of 0 means unbounded.
	MaxQuantity int
	// OverridePrice takes precedence over Kind/Value and Tiers when valid.
	OverridePrice decimal.NullDecimal
	// Tiers must be sorted ascending by MinQty and non-overlapping.
	Tiers              []QuantityTier
	RequiresStockCheck bool
}

// Validate rejects malformed tier tables. Tiers must be sorted ascending,
// non-overlapping, with MinQty >= 1 and MaxQty >= MinQty.
func (r *ProductRule) Validate() error {
	prevMax := 0
	for _, t := range r.Tiers {
		if t.MinQty < 1 {
			return &RuleDataError{PromotionID: r.PromotionID, Reason: "tier min quantity below 1"}
		}
		if t.MaxQty < t.MinQty {
			return &RuleDataError{PromotionID: r.PromotionID, Reason: "tier max quantity below min"}
		}
		if t.MinQty <= prevMax {
			return &RuleDataError{PromotionID: r.PromotionID, Reason: "overlapping or unsorted quantity tiers"}
		}
		prevMax = t.MaxQty
	}
	return nil
}

// BundleProduct is a single entry of a bundle's product requirement list.
type BundleProduct struct {
	ProductID        string
	RequiredQuantity int
}

// BundleRule is the bundle scope detail, one per (promotion, bundle definition).
type BundleRule struct {
	PromotionID string
	Products    []BundleProduct
	// RequireAll demands every entry be satisfied; otherwise one suffices.
	RequireAll bool
	// MinQuantity/MaxQuantity bound the number of bundle repetitions applied.
	// MinQuantity defaults to 1; MaxQuantity of 0 means unbounded.
	MinQuantity int
	MaxQuantity int
	// BundlePrice, when valid, fixes the price of one bundle instance and
	// takes precedence over Kind/Value.
	BundlePrice        decimal.NullDecimal
	Kind               Kind
	Value              decimal.Decimal
	RequiresStockCheck bool
}

// Validate rejects empty product lists and non-positive required quantities.
func (r *BundleRule) Validate() error {
	if len(r.Products) == 0 {
		return &RuleDataError{PromotionID: r.PromotionID, Reason: "empty bundle product list"}
	}
	for _, bp := range r.Products {
		if bp.RequiredQuantity < 1 {
			return &RuleDataError{PromotionID: r.PromotionID, Reason: "bundle required quantity below 1"}
		}
	}
	return nil
}

// CartLine is a single input line: the price arrives catalog-resolved and is
// never recomputed here. CategoryID is optional and only consulted by
// category-scoped promotions.
type CartLine struct {
	ProductID  string
	UnitPrice  decimal.Decimal
	Quantity   int
	CategoryID string
}

// Total returns unit price times quantity.
func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// AppliedPromotion records one promotion's contribution to the result.
type AppliedPromotion struct {
	Code        string
	Name        string
	Scope       Scope
	Amount      decimal.Decimal
	Description string
}

// EvaluationResult is the outcome of a cart evaluation.
type EvaluationResult struct {
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	Applied        []AppliedPromotion
	SavingsPercent decimal.Decimal
}

// Snapshot bundles the auto-apply candidates for one evaluation: promotions
// plus their detail rules, keyed by promotion ID.
type Snapshot struct {
	Promotions   []Promotion
	ProductRules map[string][]ProductRule
	BundleRules  map[string][]BundleRule
}

// Repository is the read port over promotion storage.
type Repository interface {
	// FindByCode returns the promotion for a normalized code regardless of
	// its status; eligibility is decided by the caller. Returns
	// ErrPromoNotFound when no such code exists.
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	// FindAutoApply returns all auto-apply promotions plausibly active at
	// the given instant, with their detail rules.
	FindAutoApply(ctx context.Context, now time.Time) (*Snapshot, error)
	FindProductRules(ctx context.Context, promotionID string) ([]ProductRule, error)
	FindBundleRules(ctx context.Context, promotionID string) ([]BundleRule, error)
}

// StockAvailability reports whether the requested quantity of a product can
// be fulfilled. Used only by rules with RequiresStockCheck set.
type StockAvailability interface {
	HasAvailable(ctx context.Context, productID string, quantity int) (bool, error)
}

// NormalizeCode canonicalizes a promotion code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Subtotal returns the sum of line totals across the cart.
func Subtotal(cart []CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range cart {
		sum = sum.Add(l.Total())
	}
	return sum
}

var hundred = decimal.NewFromInt(100)

// discountFor computes the raw discount of kind/value against a scoped base:
// a percentage of the base, or the flat value applied once.
func discountFor(kind Kind, value, base decimal.Decimal) decimal.Decimal {
	switch kind {
	case KindPercentage:
		return base.Mul(value).Div(hundred)
	case KindFixed:
		return decimal.Min(value, base)
	default:
		return decimal.Zero
	}
}

// floorAtZero clamps negative amounts to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
