package valuation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/synthex/issuance-engine/internal/fixedpoint"
	"github.com/synthex/issuance-engine/internal/oracle"
)

const feedID = "eth-usd"

// newConverter returns a converter over a static feed seeded with an
// 8-digit fixed-point price.
func newConverter(t *testing.T, price8 int64) *Converter {
	t.Helper()
	feed := oracle.NewStaticFeed()
	feed.Set(feedID, big.NewInt(price8))
	return NewConverter(feed)
}

func wad(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := fixedpoint.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestCollateralToUnits_ScalesFeedPrice(t *testing.T) {
	// 2000 unit-of-account per token, 8-digit feed precision.
	conv := newConverter(t, 2000e8)

	got, err := conv.CollateralToUnits(context.Background(), feedID, wad(t, "10"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := wad(t, "20000"); !got.Eq(want) {
		t.Errorf("10 tokens at 2000 should value 20000, got %s", fixedpoint.Format(got))
	}
}

func TestUnitsToCollateral_Inverse(t *testing.T) {
	conv := newConverter(t, 2000e8)

	got, err := conv.UnitsToCollateral(context.Background(), feedID, wad(t, "1000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := wad(t, "0.5"); !got.Eq(want) {
		t.Errorf("1000 units at 2000 should convert to 0.5 tokens, got %s", fixedpoint.Format(got))
	}
}

func TestConversion_Floors(t *testing.T) {
	// Price 3: 1 unit = 0.333... tokens, floored at 18 digits.
	conv := newConverter(t, 3e8)

	got, err := conv.UnitsToCollateral(context.Background(), feedID, wad(t, "1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := wad(t, "0.333333333333333333")
	if !got.Eq(want) {
		t.Errorf("expected floored 0.333333333333333333, got %s", fixedpoint.Format(got))
	}
}

func TestRoundTrip_NeverOverruns(t *testing.T) {
	// unitsToCollateral(collateralToUnits(x)) <= x for any positive price:
	// two floors can only lose value, never create it.
	prices := []int64{1, 3, 7e8, 2000e8, 123456789}
	amounts := []string{"0.000000000000000001", "0.1", "1", "3.333333333333333333", "10", "999999"}

	ctx := context.Background()
	for _, p := range prices {
		conv := newConverter(t, p)
		for _, a := range amounts {
			amount := wad(t, a)
			units, err := conv.CollateralToUnits(ctx, feedID, amount)
			if err != nil {
				t.Fatalf("price %d amount %s: %v", p, a, err)
			}
			back, err := conv.UnitsToCollateral(ctx, feedID, units)
			if err != nil {
				t.Fatalf("price %d amount %s: %v", p, a, err)
			}
			if back.Gt(amount) {
				t.Errorf("price %d: round trip of %s overran to %s", p, a, fixedpoint.Format(back))
			}
		}
	}
}

func TestZeroPrice_Rejected(t *testing.T) {
	conv := newConverter(t, 0)

	if _, err := conv.CollateralToUnits(context.Background(), feedID, wad(t, "1")); !errors.Is(err, ErrNonPositivePrice) {
		t.Errorf("expected ErrNonPositivePrice for zero price, got %v", err)
	}
	if _, err := conv.UnitsToCollateral(context.Background(), feedID, wad(t, "1")); !errors.Is(err, ErrNonPositivePrice) {
		t.Errorf("expected ErrNonPositivePrice for zero price, got %v", err)
	}
}

func TestNegativePrice_Rejected(t *testing.T) {
	feed := oracle.NewStaticFeed()
	feed.Set(feedID, big.NewInt(-2000e8))
	conv := NewConverter(feed)

	if _, err := conv.CollateralToUnits(context.Background(), feedID, wad(t, "1")); !errors.Is(err, ErrNonPositivePrice) {
		t.Errorf("expected ErrNonPositivePrice for negative price, got %v", err)
	}
}

func TestUnknownFeed_Propagates(t *testing.T) {
	conv := NewConverter(oracle.NewStaticFeed())

	if _, err := conv.CollateralToUnits(context.Background(), "nope", wad(t, "1")); !errors.Is(err, oracle.ErrFeedNotFound) {
		t.Errorf("expected ErrFeedNotFound, got %v", err)
	}
}

func TestPrice18_Rescales(t *testing.T) {
	conv := newConverter(t, 2000e8)

	got, err := conv.Price18(context.Background(), feedID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := wad(t, "2000"); !got.Eq(want) {
		t.Errorf("expected 2000e18, got %s", got.Dec())
	}
}
