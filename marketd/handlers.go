package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/urbex-io/auctionhouse/core"
	"github.com/urbex-io/auctionhouse/marketapi"
	"github.com/urbex-io/auctionhouse/ownership"
)

// requestHandlers maps wire requests onto engine operations. devRegistry
// is non-nil only when marketd runs with the in-process ownership
// registry; the dev_* requests are rejected otherwise.
type requestHandlers struct {
	engine      *core.Engine
	devRegistry *ownership.MemoryRegistry
}

func (h *requestHandlers) handle(req marketapi.Request) marketapi.Response {
	ctx := context.Background()

	switch req.Type {
	case marketapi.TypePing:
		resp := marketapi.OK(req.Type)
		resp.Message = "pong"
		return resp
	case marketapi.TypeList:
		return h.handleList(ctx, req)
	case marketapi.TypeCancel:
		return h.handleCancel(ctx, req)
	case marketapi.TypeBid:
		return h.handleBid(ctx, req)
	case marketapi.TypeSettle:
		return h.handleSettle(ctx, req)
	case marketapi.TypeWithdraw:
		return h.handleWithdraw(ctx, req)
	case marketapi.TypeGetListing:
		return h.handleGetListing(req)
	case marketapi.TypeGetProceeds:
		return h.handleGetProceeds(req)
	case marketapi.TypeGetHighestBidder:
		return h.handleGetHighestBidder(req)
	case marketapi.TypeGetDeployer:
		resp := marketapi.OK(req.Type)
		resp.Deployer = h.engine.GetDeployer()
		return resp
	case marketapi.TypeDevMint:
		return h.handleDevMint(req)
	case marketapi.TypeDevApprove:
		return h.handleDevApprove(req)
	default:
		return badRequest(req.Type, fmt.Sprintf("unknown request type %q", req.Type))
	}
}

func (h *requestHandlers) handleList(ctx context.Context, req marketapi.Request) marketapi.Response {
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	price, err := decimal.NewFromString(req.StartingPrice)
	if err != nil {
		return badRequest(req.Type, fmt.Sprintf("starting_price %q is not a decimal", req.StartingPrice))
	}
	if price.IsNegative() {
		return badRequest(req.Type, fmt.Sprintf("starting_price %s is negative", price))
	}
	duration := time.Duration(req.DurationSeconds) * time.Second

	if err := h.engine.ListItem(ctx, req.Caller, req.Item(), price, duration); err != nil {
		return marketapi.Fail(req.Type, err)
	}
	resp := marketapi.OK(req.Type)
	resp.Message = fmt.Sprintf("listed %s at %s", req.Item(), price)
	return resp
}

func (h *requestHandlers) handleCancel(ctx context.Context, req marketapi.Request) marketapi.Response {
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	if err := h.engine.CancelListing(ctx, req.Caller, req.Item()); err != nil {
		return marketapi.Fail(req.Type, err)
	}
	return marketapi.OK(req.Type)
}

func (h *requestHandlers) handleBid(ctx context.Context, req marketapi.Request) marketapi.Response {
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest(req.Type, fmt.Sprintf("amount %q is not a decimal", req.Amount))
	}
	if err := h.engine.PlaceBid(ctx, req.Caller, req.Item(), amount); err != nil {
		return marketapi.Fail(req.Type, err)
	}
	return marketapi.OK(req.Type)
}

func (h *requestHandlers) handleSettle(ctx context.Context, req marketapi.Request) marketapi.Response {
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	metadata, err := req.Metadata.Decode()
	if err != nil {
		return badRequest(req.Type, "metadata is not valid base64")
	}
	if err := h.engine.EndAuction(ctx, req.Caller, req.Item(), metadata); err != nil {
		return marketapi.Fail(req.Type, err)
	}
	return marketapi.OK(req.Type)
}

func (h *requestHandlers) handleWithdraw(ctx context.Context, req marketapi.Request) marketapi.Response {
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	amount, err := h.engine.WithdrawProceeds(ctx, req.Caller)
	if err != nil {
		return marketapi.Fail(req.Type, err)
	}
	resp := marketapi.OK(req.Type)
	resp.Withdrawn = amount.String()
	return resp
}

func (h *requestHandlers) handleGetListing(req marketapi.Request) marketapi.Response {
	listing, ok := h.engine.GetListing(req.Item())
	if !ok {
		return marketapi.Fail(req.Type, fmt.Errorf("get listing %s: %w", req.Item(), core.ErrNotListed))
	}
	resp := marketapi.OK(req.Type)
	resp.Listing = marketapi.NewListingView(req.Item(), listing)
	return resp
}

func (h *requestHandlers) handleGetProceeds(req marketapi.Request) marketapi.Response {
	account := req.Account
	if account == "" {
		account = req.Caller
	}
	if account == "" {
		return badRequest(req.Type, "account or caller is required")
	}
	resp := marketapi.OK(req.Type)
	resp.Proceeds = h.engine.GetProceeds(account).String()
	return resp
}

func (h *requestHandlers) handleGetHighestBidder(req marketapi.Request) marketapi.Response {
	// Single registry read; a second lookup could race a concurrent
	// cancel or settle.
	listing, ok := h.engine.GetListing(req.Item())
	if !ok {
		return marketapi.Fail(req.Type, fmt.Errorf("get highest bidder for %s: %w", req.Item(), core.ErrNotListed))
	}
	resp := marketapi.OK(req.Type)
	if listing.HasBid() {
		resp.HighestBidder = listing.HighestBidder
	}
	return resp
}

func (h *requestHandlers) handleDevMint(req marketapi.Request) marketapi.Response {
	if h.devRegistry == nil {
		return badRequest(req.Type, "dev requests require the in-process ownership registry")
	}
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	if err := h.devRegistry.Mint(req.Item(), req.Caller); err != nil {
		return marketapi.Fail(req.Type, err)
	}
	return marketapi.OK(req.Type)
}

func (h *requestHandlers) handleDevApprove(req marketapi.Request) marketapi.Response {
	if h.devRegistry == nil {
		return badRequest(req.Type, "dev requests require the in-process ownership registry")
	}
	if req.Caller == "" {
		return badRequest(req.Type, "caller is required")
	}
	if err := h.devRegistry.Approve(req.Item(), req.Caller, h.engine.GetDeployer()); err != nil {
		return marketapi.Fail(req.Type, err)
	}
	return marketapi.OK(req.Type)
}

func badRequest(reqType, message string) marketapi.Response {
	return marketapi.Response{
		Type:    reqType + "_response",
		Success: false,
		Error:   "BadRequest",
		Message: message,
	}
}
