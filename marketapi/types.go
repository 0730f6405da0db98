// Package marketapi defines the wire format spoken by marketd: one JSON
// request per connection, one JSON response back.
package marketapi

import (
	"encoding/base64"
	"time"

	"github.com/urbex-io/auctionhouse/core"
)

// Request type values accepted by marketd.
const (
	TypePing             = "ping"
	TypeList             = "list"
	TypeCancel           = "cancel"
	TypeBid              = "bid"
	TypeSettle           = "settle"
	TypeWithdraw         = "withdraw"
	TypeGetListing       = "get_listing"
	TypeGetProceeds      = "get_proceeds"
	TypeGetHighestBidder = "get_highest_bidder"
	TypeGetDeployer      = "get_deployer"

	// Served only when marketd runs with the in-process ownership
	// registry (no ownership.base_url configured).
	TypeDevMint    = "dev_mint"
	TypeDevApprove = "dev_approve"
)

// MetadataBase64 is caller-supplied opaque settlement metadata, base64
// encoded for JSON transport. The engine forwards the decoded bytes
// untouched.
type MetadataBase64 string

// Decode returns the raw metadata bytes.
func (m MetadataBase64) Decode() ([]byte, error) {
	if m == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(string(m))
}

// EncodeMetadata wraps raw metadata bytes for transport.
func EncodeMetadata(b []byte) MetadataBase64 {
	if len(b) == 0 {
		return ""
	}
	return MetadataBase64(base64.StdEncoding.EncodeToString(b))
}

// Request is the single envelope for all marketd calls. Which fields are
// required depends on Type; amounts travel as decimal strings.
type Request struct {
	Type       string `json:"type"`
	Caller     string `json:"caller,omitempty"`
	Collection string `json:"collection,omitempty"`
	TokenID    uint64 `json:"token_id,omitempty"`

	// list
	StartingPrice   string `json:"starting_price,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`

	// bid
	Amount string `json:"amount,omitempty"`

	// settle
	Metadata MetadataBase64 `json:"metadata,omitempty"`

	// get_proceeds
	Account string `json:"account,omitempty"`
}

// Item returns the item key addressed by the request.
func (r Request) Item() core.ItemKey {
	return core.ItemKey{Collection: r.Collection, TokenID: r.TokenID}
}

// ListingView is the JSON projection of a core.Listing.
type ListingView struct {
	Collection    string `json:"collection"`
	TokenID       uint64 `json:"token_id"`
	Seller        string `json:"seller"`
	Price         string `json:"price"`
	EndTime       int64  `json:"end_time"` // unix seconds
	HighestBidder string `json:"highest_bidder,omitempty"`
}

// NewListingView projects a core listing for transport.
func NewListingView(item core.ItemKey, l core.Listing) *ListingView {
	return &ListingView{
		Collection:    item.Collection,
		TokenID:       item.TokenID,
		Seller:        l.Seller,
		Price:         l.Price.String(),
		EndTime:       l.EndTime.Unix(),
		HighestBidder: l.HighestBidder,
	}
}

// EndsAt returns the listing deadline as a time.
func (v *ListingView) EndsAt() time.Time {
	return time.Unix(v.EndTime, 0).UTC()
}

// Response is the single envelope for all marketd replies. Error carries
// the stable error kind (AlreadyListed, NotListed, ...) when Success is
// false.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Listing       *ListingView `json:"listing,omitempty"`
	Proceeds      string       `json:"proceeds,omitempty"`
	HighestBidder string       `json:"highest_bidder,omitempty"`
	Deployer      string       `json:"deployer,omitempty"`
	Withdrawn     string       `json:"withdrawn,omitempty"`
}

// OK builds a success response for a request type.
func OK(reqType string) Response {
	return Response{Type: reqType + "_response", Success: true}
}

// Fail builds a failure response carrying the stable error kind.
func Fail(reqType string, err error) Response {
	return Response{
		Type:    reqType + "_response",
		Success: false,
		Error:   core.Kind(err),
		Message: err.Error(),
	}
}
