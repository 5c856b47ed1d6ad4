package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// BundleResult is the outcome of matching one bundle rule against a cart.
type BundleResult struct {
	Applicable bool
	Discount   decimal.Decimal
	// Multiples is how many times the bundle requirement is fully satisfied.
	Multiples          int
	AffectedProductIDs []string
	// Coverage maps each satisfied product to the cart value the bundle
	// covers (quantity-weighted unit price * required quantity * multiples).
	// The selector uses it to attribute the bundle discount to lines.
	Coverage map[string]decimal.Decimal
	Message  string
}

// BundleMatcher evaluates bundle rules against whole carts.
type BundleMatcher struct {
	stock StockAvailability
}

// NewBundleMatcher returns a BundleMatcher. stock may be nil.
func NewBundleMatcher(stock StockAvailability) *BundleMatcher {
	return &BundleMatcher{stock: stock}
}

// Evaluate determines whether the cart satisfies the bundle rule, how many
// repetitions apply, and the resulting discount.
//
// With RequireAll set every entry must be satisfied; otherwise at least one.
// Multiplicity is the minimum of floor(available/required) over the satisfied
// entries, bounded by the rule's MinQuantity/MaxQuantity. The discount never
// exceeds the cart value of the products it covers.
func (m *BundleMatcher) Evaluate(ctx context.Context, cart []CartLine, rule BundleRule) (BundleResult, error) {
	if err := rule.Validate(); err != nil {
		return BundleResult{}, err
	}

	available := make(map[string]int, len(cart))
	value := make(map[string]decimal.Decimal, len(cart))
	for _, l := range cart {
		available[l.ProductID] += l.Quantity
		value[l.ProductID] = value[l.ProductID].Add(l.Total())
	}

	// Unit price per product, quantity-weighted when the product is split
	// across lines with different prices. Only called for satisfied entries,
	// whose available quantity is at least 1.
	price := func(id string) decimal.Decimal {
		return value[id].Div(decimal.NewFromInt(int64(available[id])))
	}

	var satisfied []BundleProduct
	for _, bp := range rule.Products {
		if available[bp.ProductID] >= bp.RequiredQuantity {
			satisfied = append(satisfied, bp)
		} else if rule.RequireAll {
			return BundleResult{Message: "bundle requirements not met"}, nil
		}
	}
	if len(satisfied) == 0 {
		return BundleResult{Message: "bundle requirements not met"}, nil
	}

	multiples := 0
	for i, bp := range satisfied {
		n := available[bp.ProductID] / bp.RequiredQuantity
		if i == 0 || n < multiples {
			multiples = n
		}
	}
	if rule.MaxQuantity > 0 && multiples > rule.MaxQuantity {
		multiples = rule.MaxQuantity
	}
	minRepetitions := rule.MinQuantity
	if minRepetitions < 1 {
		minRepetitions = 1
	}
	if multiples < minRepetitions {
		return BundleResult{Message: "bundle requirements not met"}, nil
	}

	if rule.RequiresStockCheck && m.stock != nil {
		for _, bp := range satisfied {
			ok, err := m.stock.HasAvailable(ctx, bp.ProductID, bp.RequiredQuantity*multiples)
			if err != nil {
				return BundleResult{}, errors.Wrapf(err, "stock check for product %s", bp.ProductID)
			}
			if !ok {
				return BundleResult{Message: "insufficient stock for bundle"}, nil
			}
		}
	}

	// Value of one bundle instance over the satisfied entries.
	bundleValue := decimal.Zero
	for _, bp := range satisfied {
		bundleValue = bundleValue.Add(price(bp.ProductID).Mul(decimal.NewFromInt(int64(bp.RequiredQuantity))))
	}

	var perBundle decimal.Decimal
	if rule.BundlePrice.Valid {
		perBundle = floorAtZero(bundleValue.Sub(rule.BundlePrice.Decimal))
	} else {
		perBundle = floorAtZero(discountFor(rule.Kind, rule.Value, bundleValue))
	}

	mult := decimal.NewFromInt(int64(multiples))
	coveredValue := bundleValue.Mul(mult)
	discount := decimal.Min(perBundle.Mul(mult), coveredValue)

	ids := make([]string, len(satisfied))
	coverage := make(map[string]decimal.Decimal, len(satisfied))
	for i, bp := range satisfied {
		ids[i] = bp.ProductID
		coverage[bp.ProductID] = price(bp.ProductID).
			Mul(decimal.NewFromInt(int64(bp.RequiredQuantity))).
			Mul(mult)
	}

	return BundleResult{
		Applicable:         true,
		Discount:           discount,
		Multiples:          multiples,
		AffectedProductIDs: ids,
		Coverage:           coverage,
	}, nil
}
