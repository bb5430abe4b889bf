// Package valuation converts between collateral amounts and unit-of-account
// value using oracle prices.
//
// Feeds report 8-digit fixed-point prices; the converter rescales them to
// 18 digits and performs both conversion directions with floor division.
// The floor is deliberate and load-bearing: it undervalues collateral when
// minting and undervalues the liquidator's claim when seizing, so rounding
// always favors protocol solvency. Do not change the rounding direction.
package valuation

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/synthex/issuance-engine/internal/fixedpoint"
	"github.com/synthex/issuance-engine/internal/oracle"
)

var (
	// ErrNonPositivePrice is returned when a feed reports a zero or
	// negative price. A signed feed answer below one tick is an oracle
	// integrity failure, not a market condition this engine prices.
	ErrNonPositivePrice = errors.New("valuation: feed returned non-positive price")
)

// Converter owns the price-scaling logic. It is stateless apart from the
// feed it queries.
type Converter struct {
	feed oracle.Feed
}

// NewConverter creates a converter over the given price feed.
func NewConverter(feed oracle.Feed) *Converter {
	return &Converter{feed: feed}
}

// price18 fetches the latest price for feedID and rescales it from 8-digit
// to 18-digit fixed point, rejecting non-positive answers before the cast
// to unsigned arithmetic.
func (c *Converter) price18(ctx context.Context, feedID string) (*uint256.Int, error) {
	raw, _, err := c.feed.LatestPrice(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if raw.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s answered %s", ErrNonPositivePrice, feedID, raw)
	}
	p, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}
	scaled, overflow := new(uint256.Int).MulOverflow(p, fixedpoint.PriceUpscale)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}
	return scaled, nil
}

// CollateralToUnits values an 18-dec collateral amount in unit-of-account
// terms: floor(price18 * amount / 1e18).
func (c *Converter) CollateralToUnits(ctx context.Context, feedID string, amount *uint256.Int) (*uint256.Int, error) {
	price, err := c.price18(ctx, feedID)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(price, amount, fixedpoint.Wad)
}

// UnitsToCollateral inverts the conversion: floor(unitAmount * 1e18 / price18).
func (c *Converter) UnitsToCollateral(ctx context.Context, feedID string, unitAmount *uint256.Int) (*uint256.Int, error) {
	price, err := c.price18(ctx, feedID)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(unitAmount, fixedpoint.Wad, price)
}

// Price18 exposes the rescaled 18-dec price for read-only queries.
func (c *Converter) Price18(ctx context.Context, feedID string) (*uint256.Int, error) {
	return c.price18(ctx, feedID)
}
