package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

type stubFeed struct {
	round    Reading
	err      error
	decimals uint8
}

func (s *stubFeed) LatestRound() (Reading, error) {
	if s.err != nil {
		return Reading{}, s.err
	}
	return s.round, nil
}

func (s *stubFeed) Decimals() uint8 { return s.decimals }

func TestAdapterNormalizesFeedDecimals(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := &stubFeed{
		decimals: 8,
		round: Reading{
			RoundID:         big.NewInt(7),
			Price:           big.NewInt(200_000_000_000), // $2000 with 8 decimals
			UpdatedAt:       now,
			AnsweredInRound: big.NewInt(7),
		},
	}
	adapter, err := NewAdapter(feed, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	adapter.SetClock(func() time.Time { return now })

	price, err := adapter.NormalizedPrice()
	if err != nil {
		t.Fatalf("normalized price: %v", err)
	}
	want, _ := new(big.Int).SetString("2000000000000000000000", 10) // 2000e18
	if price.Cmp(want) != 0 {
		t.Fatalf("unexpected normalized price: got %s want %s", price, want)
	}
}

func TestAdapterRejectsNonPositivePrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		feed := &stubFeed{decimals: 8, round: Reading{Price: price, UpdatedAt: now}}
		adapter, err := NewAdapter(feed, 0)
		if err != nil {
			t.Fatalf("new adapter: %v", err)
		}
		adapter.SetClock(func() time.Time { return now })
		if _, err := adapter.Read(); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %v: expected ErrInvalidPrice, got %v", price, err)
		}
	}
}

func TestAdapterRejectsStaleReading(t *testing.T) {
	updated := time.Unix(1_700_000_000, 0)
	feed := &stubFeed{decimals: 8, round: Reading{Price: big.NewInt(1), UpdatedAt: updated}}
	adapter, err := NewAdapter(feed, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	adapter.SetClock(func() time.Time { return updated.Add(DefaultStalenessTimeout) })
	if _, err := adapter.Read(); err != nil {
		t.Fatalf("reading at exactly the timeout should be usable: %v", err)
	}

	adapter.SetClock(func() time.Time { return updated.Add(DefaultStalenessTimeout + time.Second) })
	if _, err := adapter.Read(); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestAdapterPropagatesFeedFailure(t *testing.T) {
	feedErr := errors.New("upstream offline")
	adapter, err := NewAdapter(&stubFeed{decimals: 8, err: feedErr}, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if _, err := adapter.Read(); !errors.Is(err, feedErr) {
		t.Fatalf("expected wrapped feed error, got %v", err)
	}
}

func TestAdapterRejectsOversizedDecimals(t *testing.T) {
	if _, err := NewAdapter(&stubFeed{decimals: 19}, 0); err == nil {
		t.Fatal("expected construction failure for 19-decimal feed")
	}
}

func TestManualFeedRounds(t *testing.T) {
	feed := NewManualFeed(8)
	ts := time.Unix(1_700_000_000, 0)
	if err := feed.SetDecimal("2000", ts); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	round, err := feed.LatestRound()
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", round.Price)
	}
	if round.RoundID.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("unexpected round id: %s", round.RoundID)
	}

	if err := feed.SetDecimal("18", ts.Add(time.Minute)); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	round, err = feed.LatestRound()
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Price.Cmp(big.NewInt(1_800_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", round.Price)
	}
	if round.RoundID.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("round id should advance: %s", round.RoundID)
	}
}
