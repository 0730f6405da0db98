package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnershipRegistry is the external registry of record for item
// ownership. The engine consumes exactly three capabilities: approval
// lookup, owner lookup, and the actual transfer at settlement.
// This interface enables dependency injection for testing.
type OwnershipRegistry interface {
	// IsApproved reports whether actor is currently approved to move the
	// item on behalf of its owner.
	IsApproved(ctx context.Context, item ItemKey, actor string) (bool, error)

	// OwnerOf returns the identity of the item's current owner.
	OwnerOf(ctx context.Context, item ItemKey) (string, error)

	// Transfer moves the item from its current owner to the recipient.
	// Transfer must succeed as a no-op when the recipient already owns
	// the item: settlement retries a store failure that struck after the
	// transfer had gone through, and that retry re-issues the same
	// transfer.
	Transfer(ctx context.Context, item ItemKey, from, to string) error
}

// PayoutSink releases withdrawn funds to an external party. It is the
// only path by which value leaves the engine.
type PayoutSink interface {
	Pay(ctx context.Context, to string, amount decimal.Decimal) error
}

// Engine owns the Listing Registry and Proceeds Ledger and performs the
// five mutating operations against them. The four listing operations are
// serialized per item key and withdraw per account; operations on
// different keys run concurrently.
//
// Every mutating operation is atomic: the full change set is persisted
// to the store, then applied in memory, then its event is emitted. A
// failed precondition, collaborator call, or store write leaves all
// state exactly as it was.
type Engine struct {
	deployer  string
	ownership OwnershipRegistry
	payout    PayoutSink
	events    EventSink
	store     Store
	clock     Clock

	registry *ListingRegistry
	ledger   *ProceedsLedger

	mu           sync.Mutex
	keyLocks     map[ItemKey]*sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithStore sets the durable store written through on every mutation.
func WithStore(s Store) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithEventSink sets the sink receiving one event per successful
// mutating call.
func WithEventSink(s EventSink) EngineOption {
	return func(e *Engine) { e.events = s }
}

// WithPayoutSink sets the sink that releases withdrawn funds. Without
// one, withdraw only debits the ledger and reports the amount; actual
// fund movement is then the caller's responsibility.
func WithPayoutSink(s PayoutSink) EngineOption {
	return func(e *Engine) { e.payout = s }
}

// NewEngine creates an engine operating as deployer, the identity the
// ownership registry must have approved before an item can be listed.
func NewEngine(deployer string, ownership OwnershipRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		deployer:     deployer,
		ownership:    ownership,
		clock:        realClock{},
		registry:     NewListingRegistry(),
		ledger:       NewProceedsLedger(),
		keyLocks:     make(map[ItemKey]*sync.Mutex),
		accountLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore loads previously persisted state. Call once, before the engine
// starts taking operations.
func (e *Engine) Restore(listings map[ItemKey]Listing, balances map[string]decimal.Decimal) {
	for item, listing := range listings {
		e.registry.Put(item, listing)
	}
	for account, balance := range balances {
		e.ledger.SetBalance(account, balance)
	}
}

// ListItem creates a new listing for an item the caller owns. The item
// must currently be approved for transfer by the engine's operating
// identity; later revocation does not invalidate the listing.
func (e *Engine) ListItem(ctx context.Context, caller string, item ItemKey, startingPrice decimal.Decimal, duration time.Duration) error {
	if startingPrice.IsNegative() {
		return fmt.Errorf("starting price %s is negative", startingPrice)
	}

	unlock := e.lockKey(item)
	defer unlock()

	if _, ok := e.registry.Get(item); ok {
		return fmt.Errorf("list %s: %w", item, ErrAlreadyListed)
	}
	if duration <= 0 {
		return fmt.Errorf("list %s: %w", item, ErrTimeMustBeAboveZero)
	}

	owner, err := e.ownership.OwnerOf(ctx, item)
	if err != nil {
		return fmt.Errorf("look up owner of %s: %w", item, err)
	}
	if owner != caller {
		return fmt.Errorf("list %s: caller %s, owner %s: %w", item, caller, owner, ErrNotOwner)
	}

	approved, err := e.ownership.IsApproved(ctx, item, e.deployer)
	if err != nil {
		return fmt.Errorf("check approval for %s: %w", item, err)
	}
	if !approved {
		return fmt.Errorf("list %s: %w", item, ErrNotApproved)
	}

	now := e.clock.Now()
	listing := Listing{
		Seller:  caller,
		Price:   startingPrice,
		EndTime: now.Add(duration),
	}

	if err := e.persist(Change{PutListing: &ListingChange{Item: item, Listing: listing}}); err != nil {
		return err
	}
	e.registry.Put(item, listing)

	e.emit(ItemListed{
		ID:      uuid.NewString(),
		Item:    item,
		Seller:  caller,
		Price:   startingPrice,
		EndTime: listing.EndTime,
	})
	return nil
}

// CancelListing removes a listing. Only the seller may cancel, at any
// time before settlement; a late cancel after the deadline races an
// equally late settle, and whichever acquires the key first wins. If a
// highest bidder exists their committed amount is refunded through the
// ledger.
func (e *Engine) CancelListing(ctx context.Context, caller string, item ItemKey) error {
	unlock := e.lockKey(item)
	defer unlock()

	listing, ok := e.registry.Get(item)
	if !ok {
		return fmt.Errorf("cancel %s: %w", item, ErrNotListed)
	}
	if caller != listing.Seller {
		return fmt.Errorf("cancel %s: caller %s is not the seller: %w", item, caller, ErrNotOwner)
	}

	change := Change{DeleteListing: &item}
	if listing.HasBid() {
		unlockAccount := e.lockAccount(listing.HighestBidder)
		defer unlockAccount()
		refunded := e.ledger.Balance(listing.HighestBidder).Add(listing.Price)
		change.Balances = []BalanceChange{{Account: listing.HighestBidder, Balance: refunded}}
	}

	if err := e.persist(change); err != nil {
		return err
	}
	if listing.HasBid() {
		e.ledger.Credit(listing.HighestBidder, listing.Price)
	}
	e.registry.Delete(item)

	e.emit(ItemCanceled{ID: uuid.NewString(), Item: item})
	return nil
}

// PlaceBid accepts a bid strictly above the current price. The amount is
// received alongside the call and held by the engine; a displaced
// highest bidder is refunded their full prior commitment through the
// ledger.
func (e *Engine) PlaceBid(ctx context.Context, caller string, item ItemKey, amount decimal.Decimal) error {
	unlock := e.lockKey(item)
	defer unlock()

	listing, ok := e.registry.Get(item)
	if !ok {
		return fmt.Errorf("bid on %s: %w", item, ErrNotListed)
	}

	now := e.clock.Now()
	if !now.Before(listing.EndTime) {
		return fmt.Errorf("bid on %s: %w", item, ErrAuctionAlreadyEnded)
	}
	if caller == listing.Seller {
		return fmt.Errorf("bid on %s: %w", item, ErrOnlyNotOwner)
	}
	if !amount.GreaterThan(listing.Price) {
		return fmt.Errorf("bid of %s on %s at price %s: %w", amount, item, listing.Price, ErrBidNotHighEnough)
	}

	updated := listing
	updated.Price = amount
	updated.HighestBidder = caller

	change := Change{PutListing: &ListingChange{Item: item, Listing: updated}}
	if listing.HasBid() {
		unlockAccount := e.lockAccount(listing.HighestBidder)
		defer unlockAccount()
		refunded := e.ledger.Balance(listing.HighestBidder).Add(listing.Price)
		change.Balances = []BalanceChange{{Account: listing.HighestBidder, Balance: refunded}}
	}

	if err := e.persist(change); err != nil {
		return err
	}
	if listing.HasBid() {
		e.ledger.Credit(listing.HighestBidder, listing.Price)
	}
	e.registry.Put(item, updated)

	e.emit(HighestBidIncreased{
		ID:     uuid.NewString(),
		Item:   item,
		Bidder: caller,
		Amount: amount,
	})
	return nil
}

// EndAuction settles a listing whose deadline has passed. Any caller may
// trigger it. With a highest bidder, the item is transferred to the
// winner, the seller is credited the final price, and an AuctionEnded
// event carries the caller-supplied metadata untouched. With no bids the
// listing is simply removed. A failed ownership transfer aborts the
// whole settlement; the listing stays and settlement can be retried.
func (e *Engine) EndAuction(ctx context.Context, caller string, item ItemKey, metadata []byte) error {
	unlock := e.lockKey(item)
	defer unlock()

	listing, ok := e.registry.Get(item)
	if !ok {
		return fmt.Errorf("settle %s: %w", item, ErrNotListed)
	}

	now := e.clock.Now()
	if now.Before(listing.EndTime) {
		return fmt.Errorf("settle %s: ends at %s: %w", item, listing.EndTime.Format(time.RFC3339), ErrAuctionNotYetEnded)
	}

	if !listing.HasBid() {
		if err := e.persist(Change{DeleteListing: &item}); err != nil {
			return err
		}
		e.registry.Delete(item)
		e.emit(ItemCanceled{ID: uuid.NewString(), Item: item})
		return nil
	}

	winner := listing.HighestBidder
	if err := e.ownership.Transfer(ctx, item, listing.Seller, winner); err != nil {
		return fmt.Errorf("settle %s: transfer to %s: %w: %v", item, winner, ErrTransferFailed, err)
	}

	unlockAccount := e.lockAccount(listing.Seller)
	defer unlockAccount()
	credited := e.ledger.Balance(listing.Seller).Add(listing.Price)

	change := Change{
		DeleteListing: &item,
		Balances:      []BalanceChange{{Account: listing.Seller, Balance: credited}},
	}
	if err := e.persist(change); err != nil {
		return err
	}
	e.ledger.Credit(listing.Seller, listing.Price)
	e.registry.Delete(item)

	e.emit(AuctionEnded{
		ID:       uuid.NewString(),
		Item:     item,
		Seller:   listing.Seller,
		Winner:   winner,
		Price:    listing.Price,
		Metadata: metadata,
	})
	return nil
}

// WithdrawProceeds pays out the caller's full ledger balance and returns
// the amount withdrawn. The balance is zeroed before the payout runs, so
// a nested withdrawal triggered during the transfer observes zero and
// fails with NoProceeds. If the payout itself fails the balance is
// restored.
func (e *Engine) WithdrawProceeds(ctx context.Context, caller string) (decimal.Decimal, error) {
	unlockAccount := e.lockAccount(caller)

	amount := e.ledger.Balance(caller)
	if !amount.IsPositive() {
		unlockAccount()
		return decimal.Zero, fmt.Errorf("withdraw for %s: %w", caller, ErrNoProceeds)
	}

	if err := e.persist(Change{Balances: []BalanceChange{{Account: caller, Balance: decimal.Zero}}}); err != nil {
		unlockAccount()
		return decimal.Zero, err
	}
	e.ledger.Zero(caller)
	unlockAccount()

	if e.payout == nil {
		return amount, nil
	}
	if err := e.payout.Pay(ctx, caller, amount); err != nil {
		restoreErr := e.restoreBalance(caller, amount)
		return decimal.Zero, errors.Join(fmt.Errorf("pay %s to %s: %w", amount, caller, err), restoreErr)
	}
	return amount, nil
}

// restoreBalance credits back a zeroed balance after a failed payout.
// The in-memory credit happens even if the store write fails: losing
// durability is recoverable, losing the funds is not.
func (e *Engine) restoreBalance(account string, amount decimal.Decimal) error {
	unlockAccount := e.lockAccount(account)
	defer unlockAccount()

	restored := e.ledger.Balance(account).Add(amount)
	err := e.persist(Change{Balances: []BalanceChange{{Account: account, Balance: restored}}})
	e.ledger.Credit(account, amount)
	return err
}

// GetListing returns the active listing for an item, if any.
func (e *Engine) GetListing(item ItemKey) (Listing, bool) {
	return e.registry.Get(item)
}

// GetProceeds returns the withdrawable balance for an account.
func (e *Engine) GetProceeds(account string) decimal.Decimal {
	return e.ledger.Balance(account)
}

// GetHighestBidder returns the current highest bidder for an item, if a
// qualifying bid has been placed.
func (e *Engine) GetHighestBidder(item ItemKey) (string, bool) {
	listing, ok := e.registry.Get(item)
	if !ok || !listing.HasBid() {
		return "", false
	}
	return listing.HighestBidder, true
}

// GetDeployer returns the engine's operating identity, fixed at
// construction.
func (e *Engine) GetDeployer() string {
	return e.deployer
}

func (e *Engine) persist(change Change) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Apply(change); err != nil {
		return fmt.Errorf("persist state change: %w", err)
	}
	return nil
}

func (e *Engine) emit(evt Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}

// lockKey serializes the four listing operations per item key.
func (e *Engine) lockKey(item ItemKey) func() {
	e.mu.Lock()
	m, ok := e.keyLocks[item]
	if !ok {
		m = &sync.Mutex{}
		e.keyLocks[item] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// lockAccount serializes balance changes per account. Key locks are
// always acquired before account locks, and each operation holds at most
// one account lock, so the ordering cannot deadlock.
func (e *Engine) lockAccount(account string) func() {
	e.mu.Lock()
	m, ok := e.accountLocks[account]
	if !ok {
		m = &sync.Mutex{}
		e.accountLocks[account] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}
