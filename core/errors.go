package core

import "errors"

// Stable failure conditions surfaced by the engine. Callers test with
// errors.Is; the wire layer maps them to stable names via Kind. None of
// these are retried automatically.
var (
	ErrAlreadyListed       = errors.New("item is already listed")
	ErrNotListed           = errors.New("item is not listed")
	ErrNotApproved         = errors.New("item is not approved for transfer by the engine")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrTimeMustBeAboveZero = errors.New("bidding time must be above zero")
	ErrAuctionAlreadyEnded = errors.New("auction already ended")
	ErrAuctionNotYetEnded  = errors.New("auction not yet ended")
	ErrOnlyNotOwner        = errors.New("seller may not bid on own listing")
	ErrBidNotHighEnough    = errors.New("bid not high enough")
	ErrNoProceeds          = errors.New("no proceeds to withdraw")
	ErrTransferFailed      = errors.New("item transfer failed")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrAlreadyListed, "AlreadyListed"},
	{ErrNotListed, "NotListed"},
	{ErrNotApproved, "NotApproved"},
	{ErrNotOwner, "NotOwner"},
	{ErrTimeMustBeAboveZero, "TimeMustBeAboveZero"},
	{ErrAuctionAlreadyEnded, "AuctionAlreadyEnded"},
	{ErrAuctionNotYetEnded, "AuctionNotYetEnded"},
	{ErrOnlyNotOwner, "OnlyNotOwner"},
	{ErrBidNotHighEnough, "BidNotHighEnough"},
	{ErrNoProceeds, "NoProceeds"},
	{ErrTransferFailed, "TransferFailed"},
}

// Kind returns the stable name for an engine failure, or "Internal" for
// anything that is not one of the engine's declared conditions.
func Kind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
