package promo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock repository ---

type mockRepo struct {
	byCode       map[string]*Promotion
	snapshot     *Snapshot
	productRules map[string][]ProductRule
	bundleRules  map[string][]BundleRule
	err          error
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Promotion, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byCode[code]
	if !ok {
		return nil, ErrPromoNotFound
	}
	return p, nil
}

func (m *mockRepo) FindAutoApply(_ context.Context, _ time.Time) (*Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.snapshot == nil {
		return &Snapshot{}, nil
	}
	return m.snapshot, nil
}

func (m *mockRepo) FindProductRules(_ context.Context, promotionID string) ([]ProductRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.productRules[promotionID], nil
}

func (m *mockRepo) FindBundleRules(_ context.Context, promotionID string) ([]BundleRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.bundleRules[promotionID], nil
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func activePromo(code string, scope Scope) Promotion {
	return Promotion{
		ID:         "id-" + code,
		Code:       code,
		Name:       code,
		Kind:       KindPercentage,
		Value:      d("10"),
		ValidFrom:  testNow.AddDate(0, -1, 0),
		ValidUntil: testNow.AddDate(0, 1, 0),
		Scope:      scope,
		Status:     StatusActive,
		CreatedAt:  testNow.AddDate(0, -2, 0),
	}
}

func filterAt(repo Repository, now time.Time) *EligibilityFilter {
	f := NewEligibilityFilter(repo)
	f.now = func() time.Time { return now }
	return f
}

// --- ResolveByCode ---

func TestResolveByCodeUnknown(t *testing.T) {
	f := filterAt(&mockRepo{byCode: map[string]*Promotion{}}, testNow)

	_, err := f.ResolveByCode(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrPromoNotFound)
}

func TestResolveByCodeNormalizes(t *testing.T) {
	p := activePromo("SAVE10", ScopeGeneral)
	f := filterAt(&mockRepo{byCode: map[string]*Promotion{"SAVE10": &p}}, testNow)

	got, err := f.ResolveByCode(context.Background(), "  save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", got.Code)
}

func TestResolveByCodeInactiveIsNotFound(t *testing.T) {
	p := activePromo("SAVE10", ScopeGeneral)
	p.Status = StatusInactive
	f := filterAt(&mockRepo{byCode: map[string]*Promotion{"SAVE10": &p}}, testNow)

	_, err := f.ResolveByCode(context.Background(), "SAVE10")
	require.ErrorIs(t, err, ErrPromoNotFound)
}

func TestResolveByCodeExpired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Promotion)
	}{
		{name: "expired status", mutate: func(p *Promotion) { p.Status = StatusExpired }},
		{name: "before window", mutate: func(p *Promotion) {
			p.ValidFrom = testNow.AddDate(0, 0, 1)
			p.ValidUntil = testNow.AddDate(0, 1, 0)
		}},
		{name: "after window", mutate: func(p *Promotion) {
			p.ValidFrom = testNow.AddDate(0, -2, 0)
			p.ValidUntil = testNow.AddDate(0, -1, 0)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := activePromo("SAVE10", ScopeGeneral)
			tt.mutate(&p)
			f := filterAt(&mockRepo{byCode: map[string]*Promotion{"SAVE10": &p}}, testNow)

			_, err := f.ResolveByCode(context.Background(), "SAVE10")
			require.ErrorIs(t, err, ErrPromoExpired)
		})
	}
}

func TestResolveByCodeUsageLimit(t *testing.T) {
	p := activePromo("SAVE10", ScopeGeneral)
	p.UsageLimit = 100
	p.UsageCount = 100
	f := filterAt(&mockRepo{byCode: map[string]*Promotion{"SAVE10": &p}}, testNow)

	_, err := f.ResolveByCode(context.Background(), "SAVE10")
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestResolveByCodeExpiryBeatsUsageLimit(t *testing.T) {
	// A promotion both expired and exhausted reports expiry: checks run in
	// a fixed order so messages are unambiguous.
	p := activePromo("SAVE10", ScopeGeneral)
	p.Status = StatusExpired
	p.UsageLimit = 1
	p.UsageCount = 1
	f := filterAt(&mockRepo{byCode: map[string]*Promotion{"SAVE10": &p}}, testNow)

	_, err := f.ResolveByCode(context.Background(), "SAVE10")
	require.ErrorIs(t, err, ErrPromoExpired)
}

func TestResolveByCodeUnlimitedUsage(t *testing.T) {
	p := activePromo("SAVE10", ScopeGeneral)
	p.UsageLimit = 0
	p.UsageCount = 1_000_000
	f := filterAt(&mockRepo{byCode: map[string]*Promotion{"SAVE10": &p}}, testNow)

	_, err := f.ResolveByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
}

// --- ResolveAutoApply ---

func TestResolveAutoApplyFiltersByScope(t *testing.T) {
	general := activePromo("GENERAL", ScopeGeneral)
	general.AutoApply = true

	matching := activePromo("TEE", ScopeProduct)
	matching.AutoApply = true

	nonMatching := activePromo("SHOE", ScopeProduct)
	nonMatching.AutoApply = true

	category := activePromo("APPAREL", ScopeCategory)
	category.AutoApply = true
	category.CategoryIDs = []string{"apparel"}

	otherCategory := activePromo("TOYS", ScopeCategory)
	otherCategory.AutoApply = true
	otherCategory.CategoryIDs = []string{"toys"}

	f := filterAt(&mockRepo{snapshot: &Snapshot{
		Promotions: []Promotion{general, matching, nonMatching, category, otherCategory},
		ProductRules: map[string][]ProductRule{
			matching.ID:    {{PromotionID: matching.ID, ProductID: "p1", Kind: KindPercentage, Value: d("10")}},
			nonMatching.ID: {{PromotionID: nonMatching.ID, ProductID: "p9", Kind: KindPercentage, Value: d("10")}},
		},
	}}, testNow)

	cart := []CartLine{
		{ProductID: "p1", UnitPrice: d("100"), Quantity: 1, CategoryID: "apparel"},
	}

	snap, err := f.ResolveAutoApply(context.Background(), cart)
	require.NoError(t, err)

	codes := make([]string, len(snap.Promotions))
	for i, p := range snap.Promotions {
		codes[i] = p.Code
	}
	assert.ElementsMatch(t, []string{"GENERAL", "TEE", "APPAREL"}, codes)
	assert.Len(t, snap.ProductRules[matching.ID], 1)
}

func TestResolveAutoApplySkipsInactive(t *testing.T) {
	manual := activePromo("MANUAL", ScopeGeneral) // AutoApply false

	exhausted := activePromo("USED", ScopeGeneral)
	exhausted.AutoApply = true
	exhausted.UsageLimit = 5
	exhausted.UsageCount = 5

	f := filterAt(&mockRepo{snapshot: &Snapshot{
		Promotions: []Promotion{manual, exhausted},
	}}, testNow)

	snap, err := f.ResolveAutoApply(context.Background(), []CartLine{line("p1", "100", 1)})
	require.NoError(t, err)
	assert.Empty(t, snap.Promotions)
}

func TestResolveAutoApplyUnknownScope(t *testing.T) {
	bad := activePromo("BAD", Scope("mystery"))
	bad.AutoApply = true

	f := filterAt(&mockRepo{snapshot: &Snapshot{Promotions: []Promotion{bad}}}, testNow)

	_, err := f.ResolveAutoApply(context.Background(), []CartLine{line("p1", "100", 1)})

	var rdErr *RuleDataError
	require.ErrorAs(t, err, &rdErr)
}
