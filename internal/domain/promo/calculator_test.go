package promo

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func line(productID, unitPrice string, qty int) CartLine {
	return CartLine{ProductID: productID, UnitPrice: d(unitPrice), Quantity: qty}
}

func TestCalculatorPercentage(t *testing.T) {
	calc := NewCalculator(nil)

	res, err := calc.Evaluate(context.Background(), line("p1", "100.00", 2), ProductRule{
		ProductID: "p1",
		Kind:      KindPercentage,
		Value:     d("20"),
	})

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.True(t, d("40").Equal(res.Discount), "20%% of 200, got %s", res.Discount)
	assert.Equal(t, 2, res.AffectedQuantity)
}

func TestCalculatorFixedOncePerLine(t *testing.T) {
	calc := NewCalculator(nil)

	// Flat amount is applied once regardless of quantity.
	res, err := calc.Evaluate(context.Background(), line("p1", "100.00", 5), ProductRule{
		ProductID: "p1",
		Kind:      KindFixed,
		Value:     d("30"),
	})

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.True(t, d("30").Equal(res.Discount))
}

func TestCalculatorFixedClampedToLineTotal(t *testing.T) {
	calc := NewCalculator(nil)

	res, err := calc.Evaluate(context.Background(), line("p1", "10.00", 1), ProductRule{
		ProductID: "p1",
		Kind:      KindFixed,
		Value:     d("999"),
	})

	require.NoError(t, err)
	assert.True(t, d("10").Equal(res.Discount))
}

func TestCalculatorQuantityGates(t *testing.T) {
	calc := NewCalculator(nil)

	tests := []struct {
		name       string
		quantity   int
		minQty     int
		maxQty     int
		applicable bool
	}{
		{name: "below minimum", quantity: 2, minQty: 3, applicable: false},
		{name: "at minimum", quantity: 3, minQty: 3, applicable: true},
		{name: "above maximum", quantity: 6, minQty: 1, maxQty: 5, applicable: false},
		{name: "at maximum", quantity: 5, minQty: 1, maxQty: 5, applicable: true},
		{name: "zero min defaults to one", quantity: 1, minQty: 0, applicable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := calc.Evaluate(context.Background(), line("p1", "10.00", tt.quantity), ProductRule{
				ProductID:   "p1",
				Kind:        KindPercentage,
				Value:       d("10"),
				MinQuantity: tt.minQty,
				MaxQuantity: tt.maxQty,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.applicable, res.Applicable)
			if !tt.applicable {
				assert.True(t, res.Discount.IsZero())
			}
		})
	}
}

func TestCalculatorOverridePrice(t *testing.T) {
	calc := NewCalculator(nil)

	// Override beats kind/value and tiers: (100 - 80) * 3.
	res, err := calc.Evaluate(context.Background(), line("p1", "100.00", 3), ProductRule{
		ProductID:     "p1",
		Kind:          KindPercentage,
		Value:         d("50"),
		OverridePrice: nd("80.00"),
		Tiers: []QuantityTier{
			{MinQty: 1, MaxQty: 10, Kind: KindPercentage, Value: d("90")},
		},
	})

	require.NoError(t, err)
	assert.True(t, d("60").Equal(res.Discount), "got %s", res.Discount)
}

func TestCalculatorOverrideAboveUnitPrice(t *testing.T) {
	calc := NewCalculator(nil)

	// Override above the unit price never produces a negative discount.
	res, err := calc.Evaluate(context.Background(), line("p1", "50.00", 2), ProductRule{
		ProductID:     "p1",
		OverridePrice: nd("70.00"),
	})

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.True(t, res.Discount.IsZero())
}

func TestCalculatorTiers(t *testing.T) {
	calc := NewCalculator(nil)
	rule := ProductRule{
		ProductID: "p1",
		Kind:      KindPercentage,
		Value:     d("5"),
		Tiers: []QuantityTier{
			{MinQty: 2, MaxQty: 4, Kind: KindPercentage, Value: d("10")},
			{MinQty: 5, MaxQty: 9, Kind: KindPercentage, Value: d("15")},
			{MinQty: 10, MaxQty: 99, Kind: KindFixed, Value: d("200")},
		},
	}

	tests := []struct {
		name       string
		quantity   int
		applicable bool
		discount   string
	}{
		{name: "first tier 10 percent", quantity: 3, applicable: true, discount: "30"},
		{name: "second tier 15 percent", quantity: 5, applicable: true, discount: "75"},
		{name: "fixed tier flat amount", quantity: 10, applicable: true, discount: "200"},
		{name: "gap below tiers", quantity: 1, applicable: false, discount: "0"},
		{name: "above all tiers", quantity: 100, applicable: false, discount: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := calc.Evaluate(context.Background(), line("p1", "100.00", tt.quantity), rule)

			require.NoError(t, err)
			assert.Equal(t, tt.applicable, res.Applicable)
			assert.True(t, d(tt.discount).Equal(res.Discount), "got %s", res.Discount)
		})
	}
}

func TestCalculatorRejectsOverlappingTiers(t *testing.T) {
	calc := NewCalculator(nil)

	_, err := calc.Evaluate(context.Background(), line("p1", "100.00", 3), ProductRule{
		PromotionID: "promo-1",
		ProductID:   "p1",
		Tiers: []QuantityTier{
			{MinQty: 1, MaxQty: 5, Kind: KindPercentage, Value: d("10")},
			{MinQty: 4, MaxQty: 8, Kind: KindPercentage, Value: d("20")},
		},
	})

	var rdErr *RuleDataError
	require.ErrorAs(t, err, &rdErr)
	assert.Equal(t, "promo-1", rdErr.PromotionID)
}

type mockStock struct {
	available map[string]int
	err       error
}

func (m *mockStock) HasAvailable(_ context.Context, productID string, quantity int) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.available[productID] >= quantity, nil
}

func TestCalculatorStockGate(t *testing.T) {
	calc := NewCalculator(&mockStock{available: map[string]int{"p1": 2}})
	rule := ProductRule{
		ProductID:          "p1",
		Kind:               KindPercentage,
		Value:              d("10"),
		RequiresStockCheck: true,
	}

	res, err := calc.Evaluate(context.Background(), line("p1", "100.00", 2), rule)
	require.NoError(t, err)
	assert.True(t, res.Applicable)

	res, err = calc.Evaluate(context.Background(), line("p1", "100.00", 3), rule)
	require.NoError(t, err)
	assert.False(t, res.Applicable, "insufficient stock disables the rule")
}

func TestCalculatorStockError(t *testing.T) {
	calc := NewCalculator(&mockStock{err: errors.New("db down")})

	_, err := calc.Evaluate(context.Background(), line("p1", "100.00", 1), ProductRule{
		ProductID:          "p1",
		Kind:               KindPercentage,
		Value:              d("10"),
		RequiresStockCheck: true,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock check")
}
