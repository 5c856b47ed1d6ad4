package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// LineResult is the outcome of evaluating one product rule against one line.
// Applicable=false is a normal outcome, not an error.
type LineResult struct {
	Applicable       bool
	Discount         decimal.Decimal
	AffectedQuantity int
}

// Calculator evaluates product_specific rules against individual cart lines.
type Calculator struct {
	stock StockAvailability
}

// NewCalculator returns a Calculator. stock may be nil, in which case rules
// with RequiresStockCheck are applied without a stock gate.
func NewCalculator(stock StockAvailability) *Calculator {
	return &Calculator{stock: stock}
}

// Evaluate computes the discount a product rule yields for a cart line.
//
// Precedence: override price, then quantity tiers, then the rule's own
// kind/value. A fixed discount is a flat amount applied once per line, not
// multiplied by quantity. Percentage discounts apply to the line total and
// are clamped to it.
func (c *Calculator) Evaluate(ctx context.Context, line CartLine, rule ProductRule) (LineResult, error) {
	if err := rule.Validate(); err != nil {
		return LineResult{}, err
	}

	minQty := rule.MinQuantity
	if minQty < 1 {
		minQty = 1
	}
	if line.Quantity < minQty {
		return LineResult{}, nil
	}
	if rule.MaxQuantity > 0 && line.Quantity > rule.MaxQuantity {
		return LineResult{}, nil
	}

	if rule.RequiresStockCheck && c.stock != nil {
		ok, err := c.stock.HasAvailable(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return LineResult{}, errors.Wrapf(err, "stock check for product %s", line.ProductID)
		}
		if !ok {
			return LineResult{}, nil
		}
	}

	lineTotal := line.Total()

	var amount decimal.Decimal
	switch {
	case rule.OverridePrice.Valid:
		perUnit := floorAtZero(line.UnitPrice.Sub(rule.OverridePrice.Decimal))
		amount = perUnit.Mul(decimal.NewFromInt(int64(line.Quantity)))
	case len(rule.Tiers) > 0:
		tier, ok := matchTier(rule.Tiers, line.Quantity)
		if !ok {
			return LineResult{}, nil
		}
		amount = discountFor(tier.Kind, tier.Value, lineTotal)
	default:
		amount = discountFor(rule.Kind, rule.Value, lineTotal)
	}

	amount = floorAtZero(decimal.Min(amount, lineTotal))

	return LineResult{
		Applicable:       true,
		Discount:         amount,
		AffectedQuantity: line.Quantity,
	}, nil
}

// matchTier returns the tier whose [MinQty, MaxQty] range contains quantity.
// Tiers are validated to be sorted and non-overlapping, so at most one matches.
func matchTier(tiers []QuantityTier, quantity int) (QuantityTier, bool) {
	for _, t := range tiers {
		if quantity >= t.MinQty && quantity <= t.MaxQty {
			return t, true
		}
	}
	return QuantityTier{}, false
}
