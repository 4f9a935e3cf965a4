package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrInvalidPrice indicates the feed reported a non-positive price.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	// ErrStalePrice indicates the latest round is older than the staleness
	// timeout and must not be used for value computations.
	ErrStalePrice = errors.New("oracle: price reading is stale")
)

// DefaultStalenessTimeout bounds exposure to frozen feeds while exceeding the
// heartbeat of typical upstream sources.
const DefaultStalenessTimeout = 3 * time.Hour

// canonicalDecimals is the fixed-point scale every normalized price is
// expressed in.
const canonicalDecimals = 18

// Adapter wraps a single price feed, rejecting unusable readings and
// normalizing prices to the canonical 18-decimal scale. It is a pure read
// surface: no side effects, callable any number of times.
type Adapter struct {
	feed   Feed
	maxAge time.Duration
	scale  *big.Int
	now    func() time.Time
}

// NewAdapter constructs an adapter for the supplied feed. A non-positive
// maxAge falls back to the default staleness timeout. Construction fails when
// the feed reports more decimals than the canonical scale.
func NewAdapter(feed Feed, maxAge time.Duration) (*Adapter, error) {
	if feed == nil {
		return nil, fmt.Errorf("oracle: feed required")
	}
	decimals := feed.Decimals()
	if decimals > canonicalDecimals {
		return nil, fmt.Errorf("oracle: feed decimals %d exceed canonical scale %d", decimals, canonicalDecimals)
	}
	if maxAge <= 0 {
		maxAge = DefaultStalenessTimeout
	}
	exp := big.NewInt(int64(canonicalDecimals - decimals))
	return &Adapter{
		feed:   feed,
		maxAge: maxAge,
		scale:  new(big.Int).Exp(big.NewInt(10), exp, nil),
		now:    time.Now,
	}, nil
}

// SetClock overrides the wall clock used for staleness checks.
func (a *Adapter) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.now = now
}

// Read fetches and validates the latest round. Non-positive prices fail with
// ErrInvalidPrice; readings older than the staleness timeout fail with
// ErrStalePrice. A validation failure must abort the calling operation, never
// be substituted with a previous value.
func (a *Adapter) Read() (Reading, error) {
	if a == nil || a.feed == nil {
		return Reading{}, fmt.Errorf("oracle: adapter not configured")
	}
	round, err := a.feed.LatestRound()
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: fetch latest round: %w", err)
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return Reading{}, ErrInvalidPrice
	}
	if a.now().Sub(round.UpdatedAt) > a.maxAge {
		return Reading{}, ErrStalePrice
	}
	return round.Clone(), nil
}

// NormalizedPrice returns the validated latest price brought to the canonical
// 18-decimal scale.
func (a *Adapter) NormalizedPrice() (*big.Int, error) {
	round, err := a.Read()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(round.Price, a.scale), nil
}

// StalenessTimeout reports the configured maximum reading age.
func (a *Adapter) StalenessTimeout() time.Duration {
	if a == nil {
		return 0
	}
	return a.maxAge
}
