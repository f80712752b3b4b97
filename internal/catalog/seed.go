package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// ProductWriter stores catalog products.
type ProductWriter interface {
	Upsert(ctx context.Context, p product.Product) error
}

// CouponWriter stores coupon rules.
type CouponWriter interface {
	Upsert(ctx context.Context, rule coupon.Rule) error
}

// DefaultCoupons is the coupon set every seeded catalog starts with.
func DefaultCoupons() []coupon.Rule {
	return []coupon.Rule{
		{
			Code:         "HAPPYHOURS",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(18),
			Description:  "Happy Hours: 18% off entire order",
		},
		{
			Code:         "BUYGETONE",
			DiscountType: coupon.DiscountFreeLowest,
			MinItems:     2,
			Description:  "Buy one get one: lowest priced item free",
		},
		{
			Code:         "WELCOME5",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(5),
			MaxUses:      1000,
			Description:  "5 off your first order",
		},
	}
}

// dumpRules maps well-known codes found in dumps to their discount.
var dumpRules = map[string]coupon.Rule{
	"BIRTHDAY": {DiscountType: coupon.DiscountFreeLowest, Description: "Birthday: free lowest item"},
	"BUYGETON": {DiscountType: coupon.DiscountFreeLowest, MinItems: 2, Description: "Lowest item free (buy 2+)"},
	"FIFTYOFF": {DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(50), Description: "50% off entire order"},
	"SIXTYOFF": {DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(60), Description: "60% off entire order"},
	"OVER9000": {DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(9), Description: "9 off your order"},
	"HAPPYHRS": {DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(18), Description: "Happy Hours: 18% off"},
}

// RuleForCode returns the rule a code found in a dump is stored with.
// Unknown codes get 10% off.
func RuleForCode(code string) coupon.Rule {
	rule, ok := dumpRules[code]
	if !ok {
		rule = coupon.Rule{
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Description:  "Valid promo code: 10% off",
		}
	}
	rule.Code = code
	return rule
}

// Seed is the content written by a Seeder.
type Seed struct {
	Products []product.Product
	Coupons  []coupon.Rule
}

// Seeder writes products and coupons concurrently.
type Seeder struct {
	Products ProductWriter
	Coupons  CouponWriter
	Logger   *zap.Logger
}

// Run upserts everything in seed. The first failure cancels the other writer.
func (s *Seeder) Run(ctx context.Context, seed Seed) error {
	lg := s.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i, p := range seed.Products {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Products.Upsert(ctx, p); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
			lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
			if (i+1)%100 == 0 {
				lg.Info("Product progress", zap.Int("written", i+1), zap.Int("total", len(seed.Products)))
			}
		}
		lg.Info("Products seeded", zap.Int("count", len(seed.Products)))
		return nil
	})
	g.Go(func() error {
		for i, c := range seed.Coupons {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Coupons.Upsert(ctx, c); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", c.Code)
			}
			if (i+1)%100 == 0 {
				lg.Info("Coupon progress", zap.Int("written", i+1), zap.Int("total", len(seed.Coupons)))
			}
		}
		lg.Info("Coupons seeded", zap.Int("count", len(seed.Coupons)))
		return nil
	})
	return g.Wait()
}
