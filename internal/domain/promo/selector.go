package promo

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// outcome is one candidate promotion's evaluated discount, before stacking
// caps are applied. perProduct attributes line-scoped discounts to product
// IDs; it is nil for general-scope discounts, which consume cart headroom
// instead of per-line headroom.
type outcome struct {
	promo       Promotion
	discount    decimal.Decimal
	perProduct  map[string]decimal.Decimal
	description string
}

// Selector composes the calculators over eligible candidates and picks the
// outcome (or stackable combination) that minimizes the customer's total.
type Selector struct {
	calc    *Calculator
	bundles *BundleMatcher
}

// NewSelector creates a Selector over the given calculators.
func NewSelector(calc *Calculator, bundles *BundleMatcher) *Selector {
	return &Selector{calc: calc, bundles: bundles}
}

// SelectBest evaluates every candidate promotion and returns the best
// result. Candidates are ranked by discount desc, priority desc, creation
// time asc, then code asc, so selection is fully deterministic. When the top
// candidate is stackable, further stackable candidates are added as long as
// no line is discounted beyond its own value and the running total stays
// within the cart subtotal.
func (s *Selector) SelectBest(ctx context.Context, cart []CartLine, snap *Snapshot) (*EvaluationResult, error) {
	subtotal := Subtotal(cart)

	var outcomes []outcome
	for _, p := range snap.Promotions {
		o, err := s.evaluateCandidate(ctx, cart, p, snap.ProductRules[p.ID], snap.BundleRules[p.ID])
		if err != nil {
			return nil, err
		}
		if o.discount.IsPositive() {
			outcomes = append(outcomes, o)
		}
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if c := a.discount.Cmp(b.discount); c != 0 {
			return c > 0
		}
		if a.promo.Priority != b.promo.Priority {
			return a.promo.Priority > b.promo.Priority
		}
		if !a.promo.CreatedAt.Equal(b.promo.CreatedAt) {
			return a.promo.CreatedAt.Before(b.promo.CreatedAt)
		}
		return a.promo.Code < b.promo.Code
	})

	if len(outcomes) == 0 {
		return buildResult(subtotal, decimal.Zero, nil), nil
	}

	// Per-product cart value, the ceiling for cumulative line discounts.
	lineValue := make(map[string]decimal.Decimal, len(cart))
	for _, l := range cart {
		lineValue[l.ProductID] = lineValue[l.ProductID].Add(l.Total())
	}

	ledger := make(map[string]decimal.Decimal, len(cart))
	totalDiscount := decimal.Zero
	var applied []AppliedPromotion

	commit := func(o outcome) {
		added := commitOutcome(o, subtotal, lineValue, ledger, &totalDiscount)
		if added.IsPositive() {
			applied = append(applied, AppliedPromotion{
				Code:        o.promo.Code,
				Name:        o.promo.Name,
				Scope:       o.promo.Scope,
				Amount:      added.Round(2),
				Description: o.description,
			})
		}
	}

	top := outcomes[0]
	commit(top)

	if top.promo.Stackable {
		for _, o := range outcomes[1:] {
			if !o.promo.Stackable {
				continue
			}
			commit(o)
		}
	}

	return buildResult(subtotal, totalDiscount, applied), nil
}

// commitOutcome adds an outcome's discount under the stacking caps and
// returns the amount actually added. Line-scoped portions are capped at each
// line's remaining headroom; everything is capped by the cart's remaining
// global headroom.
func commitOutcome(
	o outcome,
	subtotal decimal.Decimal,
	lineValue map[string]decimal.Decimal,
	ledger map[string]decimal.Decimal,
	totalDiscount *decimal.Decimal,
) decimal.Decimal {
	remaining := subtotal.Sub(*totalDiscount)
	if !remaining.IsPositive() {
		return decimal.Zero
	}

	if o.perProduct == nil {
		added := decimal.Min(o.discount, remaining)
		*totalDiscount = totalDiscount.Add(added)
		return added
	}

	ids := make([]string, 0, len(o.perProduct))
	for id := range o.perProduct {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	added := decimal.Zero
	for _, id := range ids {
		headroom := lineValue[id].Sub(ledger[id])
		portion := decimal.Min(o.perProduct[id], headroom)
		portion = decimal.Min(portion, remaining.Sub(added))
		if !portion.IsPositive() {
			continue
		}
		ledger[id] = ledger[id].Add(portion)
		added = added.Add(portion)
	}
	*totalDiscount = totalDiscount.Add(added)
	return added
}

// evaluateCandidate computes a single promotion's discount for the cart,
// dispatching by scope. A zero discount means the promotion is simply not
// applicable; only malformed rule data is an error.
func (s *Selector) evaluateCandidate(
	ctx context.Context,
	cart []CartLine,
	p Promotion,
	productRules []ProductRule,
	bundleRules []BundleRule,
) (outcome, error) {
	subtotal := Subtotal(cart)
	if subtotal.LessThan(p.MinPurchase) {
		return outcome{promo: p, discount: decimal.Zero}, nil
	}

	switch p.Scope {
	case ScopeGeneral:
		return generalOutcome(p, subtotal), nil
	case ScopeCategory:
		return categoryOutcome(p, cart), nil
	case ScopeProduct:
		return s.productOutcome(ctx, cart, p, productRules)
	case ScopeBundle:
		res, err := s.bestBundle(ctx, cart, bundleRules)
		if err != nil {
			return outcome{}, err
		}
		if res == nil {
			return outcome{promo: p, discount: decimal.Zero}, nil
		}
		return bundleOutcome(p, *res), nil
	default:
		return outcome{}, &RuleDataError{PromotionID: p.ID, Reason: "unknown scope " + string(p.Scope)}
	}
}

// generalOutcome applies the promotion's kind/value to the whole subtotal,
// honoring MaxDiscount for percentage promotions.
func generalOutcome(p Promotion, subtotal decimal.Decimal) outcome {
	amount := floorAtZero(discountFor(p.Kind, p.Value, subtotal))
	amount = capMaxDiscount(p, amount)
	return outcome{
		promo:       p,
		discount:    decimal.Min(amount, subtotal),
		description: describeValue(p),
	}
}

// categoryOutcome applies the promotion's kind/value to the subtotal of
// lines in the targeted categories, attributing the discount pro-rata to
// the matching lines.
func categoryOutcome(p Promotion, cart []CartLine) outcome {
	targets := make(map[string]bool, len(p.CategoryIDs))
	for _, id := range p.CategoryIDs {
		targets[id] = true
	}

	var matching []CartLine
	eligible := decimal.Zero
	for _, l := range cart {
		if targets[l.CategoryID] {
			matching = append(matching, l)
			eligible = eligible.Add(l.Total())
		}
	}
	if !eligible.IsPositive() {
		return outcome{promo: p, discount: decimal.Zero}
	}

	amount := floorAtZero(discountFor(p.Kind, p.Value, eligible))
	amount = capMaxDiscount(p, amount)
	amount = decimal.Min(amount, eligible)

	perProduct := make(map[string]decimal.Decimal, len(matching))
	allocated := decimal.Zero
	for i, l := range matching {
		var share decimal.Decimal
		if i == len(matching)-1 {
			share = amount.Sub(allocated)
		} else {
			share = amount.Mul(l.Total()).Div(eligible)
		}
		perProduct[l.ProductID] = perProduct[l.ProductID].Add(share)
		allocated = allocated.Add(share)
	}

	return outcome{
		promo:       p,
		discount:    amount,
		perProduct:  perProduct,
		description: describeValue(p),
	}
}

// productOutcome sums the calculator's results over every (rule, matching
// line) pair.
func (s *Selector) productOutcome(ctx context.Context, cart []CartLine, p Promotion, rules []ProductRule) (outcome, error) {
	total := decimal.Zero
	perProduct := make(map[string]decimal.Decimal)

	for _, rule := range rules {
		for _, line := range cart {
			if line.ProductID != rule.ProductID {
				continue
			}
			res, err := s.calc.Evaluate(ctx, line, rule)
			if err != nil {
				return outcome{}, err
			}
			if !res.Applicable {
				continue
			}
			total = total.Add(res.Discount)
			perProduct[line.ProductID] = perProduct[line.ProductID].Add(res.Discount)
		}
	}

	return outcome{
		promo:       p,
		discount:    total,
		perProduct:  perProduct,
		description: describeValue(p),
	}, nil
}

// bestBundle evaluates every bundle rule and returns the applicable result
// with the highest discount, or nil when none applies. Ties keep the first
// rule, which preserves the stored rule order.
func (s *Selector) bestBundle(ctx context.Context, cart []CartLine, rules []BundleRule) (*BundleResult, error) {
	var best *BundleResult
	for _, rule := range rules {
		res, err := s.bundles.Evaluate(ctx, cart, rule)
		if err != nil {
			return nil, err
		}
		if !res.Applicable {
			continue
		}
		if best == nil || res.Discount.GreaterThan(best.Discount) {
			r := res
			best = &r
		}
	}
	return best, nil
}

// bundleOutcome attributes a bundle result's discount to products pro-rata
// over the value the bundle covers. A bundle over zero-priced products
// covers no value and yields no discount.
func bundleOutcome(p Promotion, res BundleResult) outcome {
	covered := decimal.Zero
	for _, id := range res.AffectedProductIDs {
		covered = covered.Add(res.Coverage[id])
	}
	if !covered.IsPositive() {
		return outcome{promo: p, discount: decimal.Zero}
	}

	perProduct := make(map[string]decimal.Decimal, len(res.AffectedProductIDs))
	allocated := decimal.Zero
	for i, id := range res.AffectedProductIDs {
		var share decimal.Decimal
		if i == len(res.AffectedProductIDs)-1 {
			share = res.Discount.Sub(allocated)
		} else {
			share = res.Discount.Mul(res.Coverage[id]).Div(covered)
		}
		perProduct[id] = perProduct[id].Add(share)
		allocated = allocated.Add(share)
	}

	return outcome{
		promo:       p,
		discount:    res.Discount,
		perProduct:  perProduct,
		description: fmt.Sprintf("%s (x%d)", p.Name, res.Multiples),
	}
}

// capMaxDiscount applies the promotion-level cap to percentage discounts.
func capMaxDiscount(p Promotion, amount decimal.Decimal) decimal.Decimal {
	if p.Kind == KindPercentage && p.MaxDiscount.Valid {
		return decimal.Min(amount, p.MaxDiscount.Decimal)
	}
	return amount
}

// describeValue renders a short human-readable description of a promotion's
// discount terms.
func describeValue(p Promotion) string {
	switch p.Kind {
	case KindPercentage:
		return fmt.Sprintf("%s: %s%% off", p.Name, p.Value.String())
	case KindFixed:
		return fmt.Sprintf("%s: %s off", p.Name, p.Value.String())
	default:
		return p.Name
	}
}

// buildResult assembles the evaluation result, enforcing 0 <= discount <=
// subtotal and rounding monetary outputs to 2 decimal places.
func buildResult(subtotal, discount decimal.Decimal, applied []AppliedPromotion) *EvaluationResult {
	discount = floorAtZero(decimal.Min(discount, subtotal)).Round(2)
	total := subtotal.Sub(discount)

	savings := decimal.Zero
	if subtotal.IsPositive() {
		savings = discount.Mul(hundred).Div(subtotal).Round(2)
	}

	return &EvaluationResult{
		Subtotal:       subtotal,
		Discount:       discount,
		Total:          total,
		Applied:        applied,
		SavingsPercent: savings,
	}
}
