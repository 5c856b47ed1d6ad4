package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// EligibilityFilter resolves which promotions are candidates for a cart:
// exactly one for an explicit code, or the filtered auto-apply snapshot.
type EligibilityFilter struct {
	repo Repository
	now  func() time.Time
}

// NewEligibilityFilter creates a filter backed by the given repository.
func NewEligibilityFilter(repo Repository) *EligibilityFilter {
	return &EligibilityFilter{repo: repo, now: time.Now}
}

// ResolveByCode looks up a promotion by its normalized code and applies the
// eligibility checks in a fixed order so error messages are unambiguous:
// not-found (absent or administratively inactive), then expired (status or
// window), then usage limit.
func (f *EligibilityFilter) ResolveByCode(ctx context.Context, code string) (*Promotion, error) {
	p, err := f.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrPromoNotFound) {
			return nil, ErrPromoNotFound
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}

	if p.Status == StatusInactive {
		return nil, ErrPromoNotFound
	}

	// The date window is checked independently of the stored status: an
	// administratively "active" promotion outside its window is expired.
	now := f.now()
	if p.Status == StatusExpired || now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return nil, ErrPromoExpired
	}

	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return nil, ErrUsageLimitReached
	}

	return p, nil
}

// ResolveAutoApply returns the effectively active auto-apply promotions
// relevant to the cart. Product-scoped promotions are kept only when their
// rules intersect the cart's product IDs; category-scoped only when a cart
// line carries a targeted category; bundle promotions are kept regardless,
// since a bundle can introduce the requirement itself.
func (f *EligibilityFilter) ResolveAutoApply(ctx context.Context, cart []CartLine) (*Snapshot, error) {
	now := f.now()

	snap, err := f.repo.FindAutoApply(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load auto-apply snapshot")
	}

	inCart := make(map[string]bool, len(cart))
	categories := make(map[string]bool, len(cart))
	for _, l := range cart {
		inCart[l.ProductID] = true
		if l.CategoryID != "" {
			categories[l.CategoryID] = true
		}
	}

	out := &Snapshot{
		ProductRules: make(map[string][]ProductRule),
		BundleRules:  make(map[string][]BundleRule),
	}

	for _, p := range snap.Promotions {
		if !p.AutoApply || !p.EffectivelyActive(now) {
			continue
		}

		switch p.Scope {
		case ScopeProduct:
			var rules []ProductRule
			for _, r := range snap.ProductRules[p.ID] {
				if inCart[r.ProductID] {
					rules = append(rules, r)
				}
			}
			if len(rules) == 0 {
				continue
			}
			out.ProductRules[p.ID] = rules

		case ScopeCategory:
			matched := false
			for _, cid := range p.CategoryIDs {
				if categories[cid] {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}

		case ScopeBundle:
			rules := snap.BundleRules[p.ID]
			if len(rules) == 0 {
				continue
			}
			out.BundleRules[p.ID] = rules

		case ScopeGeneral:
			// Always a candidate.

		default:
			return nil, &RuleDataError{PromotionID: p.ID, Reason: "unknown scope " + string(p.Scope)}
		}

		out.Promotions = append(out.Promotions, p)
	}

	return out, nil
}
