package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is emitted once per successful mutating engine call and consumed
// by external indexers and front-ends. Every event carries a unique ID.
type Event interface {
	EventName() string
}

// ItemListed is emitted when a new listing is created.
type ItemListed struct {
	ID      string          `json:"id"`
	Item    ItemKey         `json:"item"`
	Seller  string          `json:"seller"`
	Price   decimal.Decimal `json:"price"`
	EndTime time.Time       `json:"end_time"`
}

func (ItemListed) EventName() string { return "ItemListed" }

// ItemCanceled is emitted when a listing is removed without a sale:
// either an explicit cancel or a settlement that found no bids.
type ItemCanceled struct {
	ID   string  `json:"id"`
	Item ItemKey `json:"item"`
}

func (ItemCanceled) EventName() string { return "ItemCanceled" }

// HighestBidIncreased is emitted when a qualifying bid is accepted.
type HighestBidIncreased struct {
	ID     string          `json:"id"`
	Item   ItemKey         `json:"item"`
	Bidder string          `json:"bidder"`
	Amount decimal.Decimal `json:"amount"`
}

func (HighestBidIncreased) EventName() string { return "HighestBidIncreased" }

// AuctionEnded is emitted when a listing settles with a winner. Metadata
// is the caller-supplied opaque blob, forwarded untouched.
type AuctionEnded struct {
	ID       string          `json:"id"`
	Item     ItemKey         `json:"item"`
	Seller   string          `json:"seller"`
	Winner   string          `json:"winner"`
	Price    decimal.Decimal `json:"price"`
	Metadata []byte          `json:"metadata,omitempty"`
}

func (AuctionEnded) EventName() string { return "AuctionEnded" }

// EventSink receives engine events. Publish is called synchronously from
// inside the emitting operation; slow sinks should hand off internally.
type EventSink interface {
	Publish(evt Event)
}
