package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	httpFeedTimeout    = 5 * time.Second
	httpFeedMaxBody    = 1 << 16
	httpFeedMinRefresh = time.Second
)

// HTTPFeed polls an HTTP endpoint that reports the latest round as JSON:
//
//	{"round_id":"42","price":"200000000000","updated_at":1712000000}
//
// Responses are cached between polls so bursts of engine reads do not hammer
// the upstream source. A failed poll never overwrites the last good round;
// staleness enforcement stays with the adapter.
type HTTPFeed struct {
	endpoint string
	decimals uint8
	client   *http.Client
	refresh  time.Duration

	mu        sync.Mutex
	last      Reading
	lastSet   bool
	lastFetch time.Time
	now       func() time.Time
}

type httpRoundPayload struct {
	RoundID         string `json:"round_id"`
	Price           string `json:"price"`
	StartedAt       int64  `json:"started_at"`
	UpdatedAt       int64  `json:"updated_at"`
	AnsweredInRound string `json:"answered_in_round"`
}

// NewHTTPFeed validates the endpoint URL and constructs a polling feed. A
// non-positive refresh interval falls back to the minimum.
func NewHTTPFeed(endpoint string, decimals uint8, refresh time.Duration) (*HTTPFeed, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: feed endpoint required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("oracle: invalid feed endpoint %q", endpoint)
	}
	if refresh < httpFeedMinRefresh {
		refresh = httpFeedMinRefresh
	}
	return &HTTPFeed{
		endpoint: trimmed,
		decimals: decimals,
		client:   &http.Client{Timeout: httpFeedTimeout},
		refresh:  refresh,
		now:      time.Now,
	}, nil
}

// SetClock overrides the wall clock used for poll throttling.
func (f *HTTPFeed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Decimals reports the feed's native price decimals.
func (f *HTTPFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}

// LatestRound returns the cached round when it is within the refresh window,
// otherwise polls the endpoint.
func (f *HTTPFeed) LatestRound() (Reading, error) {
	if f == nil {
		return Reading{}, fmt.Errorf("oracle: http feed not configured")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lastSet && f.now().Sub(f.lastFetch) < f.refresh {
		return f.last.Clone(), nil
	}

	round, err := f.poll()
	if err != nil {
		if f.lastSet {
			// Keep serving the last good round; the adapter decides
			// whether it is still fresh enough to use.
			return f.last.Clone(), nil
		}
		return Reading{}, err
	}
	f.last = round
	f.lastSet = true
	f.lastFetch = f.now()
	return round.Clone(), nil
}

func (f *HTTPFeed) poll() (Reading, error) {
	resp, err := f.client.Get(f.endpoint)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: poll %s: %w", f.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("oracle: poll %s: unexpected status %d", f.endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httpFeedMaxBody))
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: read feed response: %w", err)
	}
	var payload httpRoundPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Reading{}, fmt.Errorf("oracle: decode feed response: %w", err)
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok {
		return Reading{}, fmt.Errorf("oracle: feed reported malformed price %q", payload.Price)
	}
	round := Reading{
		Price:     price,
		StartedAt: time.Unix(payload.StartedAt, 0).UTC(),
		UpdatedAt: time.Unix(payload.UpdatedAt, 0).UTC(),
	}
	if trimmed := strings.TrimSpace(payload.RoundID); trimmed != "" {
		if id, ok := new(big.Int).SetString(trimmed, 10); ok {
			round.RoundID = id
		}
	}
	if trimmed := strings.TrimSpace(payload.AnsweredInRound); trimmed != "" {
		if id, ok := new(big.Int).SetString(trimmed, 10); ok {
			round.AnsweredInRound = id
		}
	}
	if round.AnsweredInRound == nil && round.RoundID != nil {
		round.AnsweredInRound = new(big.Int).Set(round.RoundID)
	}
	return round, nil
}
