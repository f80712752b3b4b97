package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator prices a coupon code against the lines being ordered.
type Validator interface {
	Validate(ctx context.Context, code string, items []Item) (*Discount, error)
}

// Redeemer is the Validator used at checkout. A code it accepts counts as
// redeemed.
type Redeemer struct {
	repo Repository
	now  func() time.Time
}

// NewRedeemer returns a Redeemer reading rules from repo.
func NewRedeemer(repo Repository) *Redeemer {
	return &Redeemer{repo: repo, now: time.Now}
}

// Validate returns the discount code gives on items and takes one use of
// the rule. A rule that ran out of uses between lookup and redemption fails
// with ErrCouponUsageLimitReached.
func (r *Redeemer) Validate(ctx context.Context, code string, items []Item) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" || len(items) == 0 {
		return nil, ErrInvalidCoupon
	}

	rule, err := r.repo.FindByCode(ctx, code)
	switch {
	case errors.Is(err, ErrInvalidCoupon):
		return nil, ErrInvalidCoupon
	case err != nil:
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := rule.Check(r.now()); err != nil {
		return nil, err
	}

	d, err := Apply(rule, items)
	if err != nil {
		return nil, err
	}

	switch err := r.repo.IncrementUses(ctx, rule.Code); {
	case errors.Is(err, ErrCouponUsageLimitReached):
		return nil, ErrCouponUsageLimitReached
	case err != nil:
		return nil, errors.Wrap(err, "increment coupon uses")
	}
	return &d, nil
}
