package promo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleRequireAllSatisfied(t *testing.T) {
	m := NewBundleMatcher(nil)

	// Requires {A:2, B:1}; cart has A:4, B:2 -> multiples = min(2, 2) = 2.
	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 4), line("B", "50.00", 2)},
		BundleRule{
			Products: []BundleProduct{
				{ProductID: "A", RequiredQuantity: 2},
				{ProductID: "B", RequiredQuantity: 1},
			},
			RequireAll: true,
			Kind:       KindPercentage,
			Value:      d("10"),
		},
	)

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.Equal(t, 2, res.Multiples)
	// One bundle instance is worth 250; 10% per instance, times 2.
	assert.True(t, d("50").Equal(res.Discount), "got %s", res.Discount)
	assert.Equal(t, []string{"A", "B"}, res.AffectedProductIDs)
}

func TestBundleRequireAllMissingProduct(t *testing.T) {
	m := NewBundleMatcher(nil)

	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 2)},
		BundleRule{
			Products: []BundleProduct{
				{ProductID: "A", RequiredQuantity: 2},
				{ProductID: "B", RequiredQuantity: 1},
			},
			RequireAll: true,
			Kind:       KindPercentage,
			Value:      d("10"),
		},
	)

	require.NoError(t, err)
	assert.False(t, res.Applicable)
	assert.Equal(t, "bundle requirements not met", res.Message)
}

func TestBundleAnyProductSuffices(t *testing.T) {
	m := NewBundleMatcher(nil)

	// RequireAll off: B is missing but A alone satisfies the rule.
	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 2)},
		BundleRule{
			Products: []BundleProduct{
				{ProductID: "A", RequiredQuantity: 1},
				{ProductID: "B", RequiredQuantity: 1},
			},
			RequireAll: false,
			Kind:       KindPercentage,
			Value:      d("10"),
		},
	)

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.Equal(t, 2, res.Multiples)
	assert.Equal(t, []string{"A"}, res.AffectedProductIDs)
}

func TestBundleMaxQuantityClamp(t *testing.T) {
	m := NewBundleMatcher(nil)

	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "10.00", 10)},
		BundleRule{
			Products:    []BundleProduct{{ProductID: "A", RequiredQuantity: 1}},
			RequireAll:  true,
			MaxQuantity: 3,
			Kind:        KindFixed,
			Value:       d("2"),
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Multiples)
	assert.True(t, d("6").Equal(res.Discount))
}

func TestBundleMinQuantityGate(t *testing.T) {
	m := NewBundleMatcher(nil)

	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "10.00", 1)},
		BundleRule{
			Products:    []BundleProduct{{ProductID: "A", RequiredQuantity: 1}},
			RequireAll:  true,
			MinQuantity: 2,
			Kind:        KindFixed,
			Value:       d("2"),
		},
	)

	require.NoError(t, err)
	assert.False(t, res.Applicable)
}

func TestBundlePriceBeatsKindValue(t *testing.T) {
	m := NewBundleMatcher(nil)

	// Bundle value 150 fixed at 120: saves 30 per instance.
	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 1), line("B", "50.00", 1)},
		BundleRule{
			Products: []BundleProduct{
				{ProductID: "A", RequiredQuantity: 1},
				{ProductID: "B", RequiredQuantity: 1},
			},
			RequireAll:  true,
			BundlePrice: nd("120.00"),
			Kind:        KindPercentage,
			Value:       d("90"),
		},
	)

	require.NoError(t, err)
	assert.True(t, d("30").Equal(res.Discount), "got %s", res.Discount)
}

func TestBundlePriceAboveValue(t *testing.T) {
	m := NewBundleMatcher(nil)

	// A bundle price above the bundle's value yields zero, never negative.
	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 1)},
		BundleRule{
			Products:    []BundleProduct{{ProductID: "A", RequiredQuantity: 1}},
			RequireAll:  true,
			BundlePrice: nd("150.00"),
		},
	)

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.True(t, res.Discount.IsZero())
}

func TestBundleSplitLinesAccumulate(t *testing.T) {
	m := NewBundleMatcher(nil)

	// The same product split across two lines still counts once aggregated.
	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 1), line("A", "100.00", 1)},
		BundleRule{
			Products:   []BundleProduct{{ProductID: "A", RequiredQuantity: 2}},
			RequireAll: true,
			Kind:       KindPercentage,
			Value:      d("10"),
		},
	)

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.Equal(t, 1, res.Multiples)
}

func TestBundleStockGate(t *testing.T) {
	m := NewBundleMatcher(&mockStock{available: map[string]int{"A": 1}})

	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 2)},
		BundleRule{
			Products:           []BundleProduct{{ProductID: "A", RequiredQuantity: 2}},
			RequireAll:         true,
			Kind:               KindPercentage,
			Value:              d("10"),
			RequiresStockCheck: true,
		},
	)

	require.NoError(t, err)
	assert.False(t, res.Applicable)
	assert.Equal(t, "insufficient stock for bundle", res.Message)
}

func TestBundleValidation(t *testing.T) {
	m := NewBundleMatcher(nil)

	_, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 1)},
		BundleRule{PromotionID: "promo-1"},
	)

	var rdErr *RuleDataError
	require.ErrorAs(t, err, &rdErr)
	assert.Equal(t, "promo-1", rdErr.PromotionID)

	_, err = m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 1)},
		BundleRule{
			PromotionID: "promo-2",
			Products:    []BundleProduct{{ProductID: "A", RequiredQuantity: 0}},
		},
	)
	require.ErrorAs(t, err, &rdErr)
}

func TestBundleSplitLinesWeightedPrice(t *testing.T) {
	m := NewBundleMatcher(nil)

	// A is split across two lines at different prices: the bundle values the
	// product at the quantity-weighted average, (100+200)/2 = 150.
	res, err := m.Evaluate(context.Background(),
		[]CartLine{line("A", "100.00", 1), line("A", "200.00", 1)},
		BundleRule{
			Products:   []BundleProduct{{ProductID: "A", RequiredQuantity: 2}},
			RequireAll: true,
			Kind:       KindPercentage,
			Value:      d("10"),
		},
	)

	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.Equal(t, 1, res.Multiples)
	// 10% of the 300 bundle value, fully covered.
	assert.True(t, d("30").Equal(res.Discount), "got %s", res.Discount)
	assert.True(t, d("300").Equal(res.Coverage["A"]), "got %s", res.Coverage["A"])
}
