package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Service is the top-level cart evaluation entry point. Each call is a fresh,
// stateless evaluation: validate the cart, resolve candidates, compute, and
// return either a result or a recoverable rejection.
type Service struct {
	repo     Repository
	filter   *EligibilityFilter
	selector *Selector
}

// NewService wires the engine stages over a repository and an optional stock
// collaborator.
func NewService(repo Repository, stock StockAvailability) *Service {
	return &Service{
		repo:     repo,
		filter:   NewEligibilityFilter(repo),
		selector: NewSelector(NewCalculator(stock), NewBundleMatcher(stock)),
	}
}

// WithClock overrides the evaluation clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.filter.now = now
	return s
}

// Evaluate computes the discount for the cart. With a code it resolves and
// applies exactly that promotion; without one it searches the auto-apply
// candidates for the best outcome. Business-rule misses come back as the
// sentinel errors in this package, never as panics.
func (s *Service) Evaluate(ctx context.Context, cart []CartLine, code string) (*EvaluationResult, error) {
	if err := validateCart(cart); err != nil {
		return nil, err
	}

	if code == "" {
		snap, err := s.filter.ResolveAutoApply(ctx, cart)
		if err != nil {
			return nil, err
		}
		return s.selector.SelectBest(ctx, cart, snap)
	}

	return s.evaluateCode(ctx, cart, code)
}

// evaluateCode handles the manual-code path: resolve the single promotion,
// check the purchase minimum, and dispatch by scope.
func (s *Service) evaluateCode(ctx context.Context, cart []CartLine, code string) (*EvaluationResult, error) {
	p, err := s.filter.ResolveByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	subtotal := Subtotal(cart)
	if subtotal.LessThan(p.MinPurchase) {
		return nil, ErrMinPurchaseNotMet
	}

	var o outcome
	switch p.Scope {
	case ScopeGeneral:
		o = generalOutcome(*p, subtotal)

	case ScopeCategory:
		o = categoryOutcome(*p, cart)

	case ScopeProduct:
		rules, err := s.repo.FindProductRules(ctx, p.ID)
		if err != nil {
			return nil, errors.Wrap(err, "load product rules")
		}
		o, err = s.selector.productOutcome(ctx, cart, *p, rules)
		if err != nil {
			return nil, err
		}

	case ScopeBundle:
		rules, err := s.repo.FindBundleRules(ctx, p.ID)
		if err != nil {
			return nil, errors.Wrap(err, "load bundle rules")
		}
		best, err := s.selector.bestBundle(ctx, cart, rules)
		if err != nil {
			return nil, err
		}
		if best == nil {
			return nil, ErrBundleRequirementsNotMet
		}
		o = bundleOutcome(*p, *best)

	default:
		return nil, &RuleDataError{PromotionID: p.ID, Reason: "unknown scope " + string(p.Scope)}
	}

	var applied []AppliedPromotion
	discount := floorAtZero(decimal.Min(o.discount, subtotal))
	if discount.IsPositive() {
		applied = append(applied, AppliedPromotion{
			Code:        p.Code,
			Name:        p.Name,
			Scope:       p.Scope,
			Amount:      discount.Round(2),
			Description: o.description,
		})
	}

	return buildResult(subtotal, discount, applied), nil
}

// validateCart rejects empty or malformed carts.
func validateCart(cart []CartLine) error {
	if len(cart) == 0 {
		return errors.Wrap(ErrInvalidCart, "cart is empty")
	}
	for _, l := range cart {
		if l.ProductID == "" {
			return errors.Wrap(ErrInvalidCart, "line is missing a product id")
		}
		if l.Quantity <= 0 {
			return errors.Wrapf(ErrInvalidCart, "quantity must be greater than 0 for product %s", l.ProductID)
		}
		if l.UnitPrice.IsNegative() {
			return errors.Wrapf(ErrInvalidCart, "negative unit price for product %s", l.ProductID)
		}
	}
	return nil
}
