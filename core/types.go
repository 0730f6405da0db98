package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKey identifies a unique item: a collection plus a token id within it.
// At most one active listing exists per key.
type ItemKey struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"token_id"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%d", k.Collection, k.TokenID)
}

// Listing is one active auction for an item.
//
// Price is the current accepted bid threshold: the seller's starting price
// until the first qualifying bid arrives, the highest committed bid after.
// HighestBidder is empty until a qualifying bid arrives. A cancelled or
// settled listing is removed from the registry, never flagged.
type Listing struct {
	Seller        string          `json:"seller"`
	Price         decimal.Decimal `json:"price"`
	EndTime       time.Time       `json:"end_time"`
	HighestBidder string          `json:"highest_bidder,omitempty"`
}

// HasBid reports whether a qualifying bid has been placed.
func (l Listing) HasBid() bool {
	return l.HighestBidder != ""
}

// Clock supplies wall-clock time to the engine. Every operation reads the
// clock at most once so a single call cannot observe two different times.
// This interface enables dependency injection for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
