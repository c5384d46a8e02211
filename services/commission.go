package services

import (
	"context"
	"fmt"
	"time"

	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"

	"github.com/shopspring/decimal"
)

// CommissionResolver returns the platform's percentage cut for an institution.
// Settlements pass their open transaction as tiers so the lookup shares its
// connection.
type CommissionResolver interface {
	CommissionRate(ctx context.Context, tiers db.CommissionTierReader, institutionID string) (decimal.Decimal, error)
}

// TierCommissionResolver reads the institution's active subscription tier.
// Institutions without an active tier pay the platform default rate.
type TierCommissionResolver struct {
	defaultRate decimal.Decimal
	timeout     time.Duration
	log         *logger.Logger
	now         func() time.Time
}

func NewTierCommissionResolver(defaultRate decimal.Decimal, timeout time.Duration, log *logger.Logger) *TierCommissionResolver {
	return &TierCommissionResolver{
		defaultRate: defaultRate,
		timeout:     timeout,
		log:         log,
		now:         time.Now,
	}
}

func (r *TierCommissionResolver) CommissionRate(ctx context.Context, tiers db.CommissionTierReader, institutionID string) (decimal.Decimal, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rate, err := tiers.ActiveCommissionRate(ctx, institutionID, r.now().UTC())
	switch {
	case err == nil:
	case errors.KindOf(err) == errors.NotFound:
		r.log.Debug("no active commission tier for institution %s, using default %s%%", institutionID, r.defaultRate)
		rate = r.defaultRate
	default:
		return decimal.Zero, errors.E(errors.DependencyUnavailable,
			fmt.Sprintf("resolving commission rate for institution %s", institutionID), err)
	}

	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return decimal.Zero, errors.E(errors.DependencyUnavailable,
			fmt.Sprintf("commission rate %s for institution %s is out of range", rate, institutionID))
	}
	return rate, nil
}

var hundred = decimal.NewFromInt(100)
