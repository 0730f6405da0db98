package core

import "github.com/shopspring/decimal"

// Change is the complete set of durable effects of one engine operation.
// A Store must apply it atomically: either every part is persisted or
// none is.
type Change struct {
	// PutListing inserts or replaces a listing.
	PutListing *ListingChange

	// DeleteListing removes a listing.
	DeleteListing *ItemKey

	// Balances are absolute post-operation ledger balances.
	Balances []BalanceChange
}

type ListingChange struct {
	Item    ItemKey
	Listing Listing
}

type BalanceChange struct {
	Account string
	Balance decimal.Decimal
}

// Store persists engine state. The Listing Registry and Proceeds Ledger
// are the durable store of record; the engine writes through on every
// mutating operation and fails the operation if the write fails.
type Store interface {
	Apply(change Change) error
}
