package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

// fakeClock is a settable time source for deterministic deadline tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubOwnership is an in-memory ownership registry with a switchable
// transfer failure for settlement abort tests.
type stubOwnership struct {
	mu           sync.Mutex
	owners       map[ItemKey]string
	approvals    map[ItemKey]map[string]bool
	failTransfer bool
	transfers    int
}

func newStubOwnership() *stubOwnership {
	return &stubOwnership{
		owners:    make(map[ItemKey]string),
		approvals: make(map[ItemKey]map[string]bool),
	}
}

func (o *stubOwnership) mint(item ItemKey, owner string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owners[item] = owner
}

func (o *stubOwnership) approve(item ItemKey, actor string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.approvals[item] == nil {
		o.approvals[item] = make(map[string]bool)
	}
	o.approvals[item][actor] = true
}

func (o *stubOwnership) IsApproved(_ context.Context, item ItemKey, actor string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.approvals[item][actor], nil
}

func (o *stubOwnership) OwnerOf(_ context.Context, item ItemKey) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owners[item]
	if !ok {
		return "", fmt.Errorf("unknown item %s", item)
	}
	return owner, nil
}

func (o *stubOwnership) Transfer(_ context.Context, item ItemKey, from, to string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failTransfer {
		return fmt.Errorf("registry unavailable")
	}
	if o.owners[item] == to {
		return nil
	}
	if o.owners[item] != from {
		return fmt.Errorf("item %s not owned by %s", item, from)
	}
	o.owners[item] = to
	o.transfers++
	delete(o.approvals, item)
	return nil
}

// captureSink records every emitted event.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventName())
	}
	return out
}

func (s *captureSink) last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

const (
	deployer = "0xdeployer"
	seller   = "0xseller"
	bidderA  = "0xbidder-a"
	bidderB  = "0xbidder-b"
)

var (
	vehicles = "urbe-vehicles"
	item0    = ItemKey{Collection: vehicles, TokenID: 0}
	hour     = time.Hour
)

func eth(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type engineFixture struct {
	engine    *Engine
	clock     *fakeClock
	ownership *stubOwnership
	sink      *captureSink
}

func newFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	clock := newFakeClock()
	ownership := newStubOwnership()
	sink := &captureSink{}
	ownership.mint(item0, seller)
	ownership.approve(item0, deployer)

	all := append([]EngineOption{WithClock(clock), WithEventSink(sink)}, opts...)
	return &engineFixture{
		engine:    NewEngine(deployer, ownership, all...),
		clock:     clock,
		ownership: ownership,
		sink:      sink,
	}
}

func (f *engineFixture) list(t *testing.T, startingPrice string, duration time.Duration) {
	t.Helper()
	assert.NoError(t, f.engine.ListItem(context.Background(), seller, item0, eth(startingPrice), duration))
}

func TestListItem_AlreadyListed(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	err := f.engine.ListItem(context.Background(), seller, item0, eth("0"), hour)
	check.True(t, errors.Is(err, ErrAlreadyListed))
	check.Equal(t, "AlreadyListed", Kind(err))
}

func TestListItem_NeedsApproval(t *testing.T) {
	f := newFixture(t)
	item := ItemKey{Collection: vehicles, TokenID: 7}
	f.ownership.mint(item, seller)

	err := f.engine.ListItem(context.Background(), seller, item, eth("0"), hour)
	check.True(t, errors.Is(err, ErrNotApproved))

	_, ok := f.engine.GetListing(item)
	check.False(t, ok)
}

func TestListItem_TimeMustBeAboveZero(t *testing.T) {
	f := newFixture(t)

	err := f.engine.ListItem(context.Background(), seller, item0, eth("0"), 0)
	check.True(t, errors.Is(err, ErrTimeMustBeAboveZero))
}

func TestListItem_OnlyOwner(t *testing.T) {
	f := newFixture(t)

	err := f.engine.ListItem(context.Background(), bidderA, item0, eth("0"), hour)
	check.True(t, errors.Is(err, ErrNotOwner))
}

func TestListItem_RecordsSellerPriceAndDeadline(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0.1", hour)

	listing, ok := f.engine.GetListing(item0)
	assert.True(t, ok)
	check.Equal(t, seller, listing.Seller)
	check.True(t, listing.Price.Equal(eth("0.1")))
	check.True(t, listing.EndTime.Equal(f.clock.Now().Add(hour)))
	check.False(t, listing.HasBid())

	check.Equal(t, []string{"ItemListed"}, f.sink.names())
	listed, ok := f.sink.last().(ItemListed)
	assert.True(t, ok)
	check.Equal(t, item0, listed.Item)
	check.NotEqual(t, "", listed.ID)
}

func TestCancelListing_OnlySeller(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0.1", hour)

	err := f.engine.CancelListing(context.Background(), bidderA, item0)
	check.True(t, errors.Is(err, ErrNotOwner))

	_, ok := f.engine.GetListing(item0)
	check.True(t, ok)
}

func TestCancelListing_NotListed(t *testing.T) {
	f := newFixture(t)

	err := f.engine.CancelListing(context.Background(), seller, item0)
	check.True(t, errors.Is(err, ErrNotListed))
}

func TestCancelListing_RemovesListingAndEmits(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0.1", hour)

	assert.NoError(t, f.engine.CancelListing(context.Background(), seller, item0))
	check.Equal(t, []string{"ItemListed", "ItemCanceled"}, f.sink.names())

	err := f.engine.CancelListing(context.Background(), seller, item0)
	check.True(t, errors.Is(err, ErrNotListed))
}

func TestCancelListing_RefundsHighestBidder(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1")))

	assert.NoError(t, f.engine.CancelListing(context.Background(), seller, item0))
	check.True(t, f.engine.GetProceeds(bidderA).Equal(eth("0.1")))
}

func TestCancelListing_AllowedAfterDeadline(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", time.Second)
	f.clock.Advance(2 * time.Second)

	assert.NoError(t, f.engine.CancelListing(context.Background(), seller, item0))
}

func TestPlaceBid_OnlyNotOwner(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	err := f.engine.PlaceBid(context.Background(), seller, item0, eth("0.1"))
	check.True(t, errors.Is(err, ErrOnlyNotOwner))
}

func TestPlaceBid_NotListed(t *testing.T) {
	f := newFixture(t)

	err := f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1"))
	check.True(t, errors.Is(err, ErrNotListed))
}

func TestPlaceBid_AuctionAlreadyEnded(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", time.Second)
	f.clock.Advance(2 * time.Second)

	err := f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1"))
	check.True(t, errors.Is(err, ErrAuctionAlreadyEnded))
}

func TestPlaceBid_MustExceedCurrentPrice(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0.1", hour)

	// Equal to the current price is not a strict improvement.
	err := f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1"))
	check.True(t, errors.Is(err, ErrBidNotHighEnough))

	err = f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.05"))
	check.True(t, errors.Is(err, ErrBidNotHighEnough))
}

func TestPlaceBid_ZeroStartAcceptsAnyPositiveFirstBid(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.001")))

	bidder, ok := f.engine.GetHighestBidder(item0)
	assert.True(t, ok)
	check.Equal(t, bidderA, bidder)
}

func TestPlaceBid_RefundsDisplacedBidder(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0.1", hour)

	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.3")))
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderB, item0, eth("0.5")))

	// The displaced bidder reclaims exactly their full prior commitment.
	check.True(t, f.engine.GetProceeds(bidderA).Equal(eth("0.3")))
	check.True(t, f.engine.GetProceeds(bidderB).IsZero())
	check.True(t, f.engine.GetProceeds(seller).IsZero())

	listing, ok := f.engine.GetListing(item0)
	assert.True(t, ok)
	check.Equal(t, bidderB, listing.HighestBidder)
	check.True(t, listing.Price.Equal(eth("0.5")))
}

func TestPlaceBid_EmitsHighestBidIncreased(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1")))

	evt, ok := f.sink.last().(HighestBidIncreased)
	assert.True(t, ok)
	check.Equal(t, bidderA, evt.Bidder)
	check.True(t, evt.Amount.Equal(eth("0.1")))
}

func TestPlaceBid_PriceMonotonicallyNonDecreasing(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	prev := decimal.Zero
	amounts := []string{"0.1", "0.2", "0.35", "1", "2.5"}
	for i, a := range amounts {
		bidder := fmt.Sprintf("0xbidder-%d", i)
		assert.NoError(t, f.engine.PlaceBid(context.Background(), bidder, item0, eth(a)))
		listing, ok := f.engine.GetListing(item0)
		assert.True(t, ok)
		check.True(t, listing.Price.GreaterThanOrEqual(prev))
		check.Equal(t, bidder, listing.HighestBidder)
		prev = listing.Price
	}
}

func TestEndAuction_NotListed(t *testing.T) {
	f := newFixture(t)

	err := f.engine.EndAuction(context.Background(), seller, item0, nil)
	check.True(t, errors.Is(err, ErrNotListed))
}

func TestEndAuction_NotYetEnded(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	err := f.engine.EndAuction(context.Background(), seller, item0, nil)
	check.True(t, errors.Is(err, ErrAuctionNotYetEnded))
}

func TestEndAuction_CreditsSellerAndTransfersItem(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", time.Second)
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1")))
	f.clock.Advance(2 * time.Second)

	metadata := []byte(`{"title":"Test auction"}`)
	// Settlement is permissionless once the deadline has passed.
	assert.NoError(t, f.engine.EndAuction(context.Background(), bidderB, item0, metadata))

	check.True(t, f.engine.GetProceeds(seller).Equal(eth("0.1")))
	owner, err := f.ownership.OwnerOf(context.Background(), item0)
	assert.NoError(t, err)
	check.Equal(t, bidderA, owner)

	evt, ok := f.sink.last().(AuctionEnded)
	assert.True(t, ok)
	check.Equal(t, bidderA, evt.Winner)
	check.Equal(t, string(metadata), string(evt.Metadata))

	err = f.engine.CancelListing(context.Background(), seller, item0)
	check.True(t, errors.Is(err, ErrNotListed))
}

func TestEndAuction_NoBidsClosesWithoutTransfer(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", time.Second)
	f.clock.Advance(2 * time.Second)

	assert.NoError(t, f.engine.EndAuction(context.Background(), seller, item0, nil))

	owner, err := f.ownership.OwnerOf(context.Background(), item0)
	assert.NoError(t, err)
	check.Equal(t, seller, owner)
	check.Equal(t, 0, f.ownership.transfers)
	check.True(t, f.engine.GetProceeds(seller).IsZero())

	err = f.engine.CancelListing(context.Background(), seller, item0)
	check.True(t, errors.Is(err, ErrNotListed))
}

func TestEndAuction_TransferFailureAbortsSettlement(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", time.Second)
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1")))
	f.clock.Advance(2 * time.Second)

	f.ownership.failTransfer = true
	err := f.engine.EndAuction(context.Background(), bidderA, item0, nil)
	check.True(t, errors.Is(err, ErrTransferFailed))

	// No ledger credit, listing intact, settlement retryable.
	check.True(t, f.engine.GetProceeds(seller).IsZero())
	_, ok := f.engine.GetListing(item0)
	check.True(t, ok)

	f.ownership.failTransfer = false
	assert.NoError(t, f.engine.EndAuction(context.Background(), bidderA, item0, nil))
	check.True(t, f.engine.GetProceeds(seller).Equal(eth("0.1")))
}

// flakyStore fails a configurable number of Apply calls, then succeeds.
type flakyStore struct {
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = n
}

func (s *flakyStore) Apply(Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return fmt.Errorf("disk full")
	}
	return nil
}

func TestEndAuction_StoreFailureAfterTransferIsRetryable(t *testing.T) {
	store := &flakyStore{}
	f := newFixture(t, WithStore(store))
	f.list(t, "0", time.Second)
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("1")))
	f.clock.Advance(2 * time.Second)

	// The store write that follows a successful transfer fails: the
	// winner already owns the item, but the listing and the in-flight
	// funds must stay untouched.
	store.failNext(1)
	err := f.engine.EndAuction(context.Background(), bidderA, item0, nil)
	check.Error(t, err)
	check.False(t, errors.Is(err, ErrTransferFailed))

	owner, err := f.ownership.OwnerOf(context.Background(), item0)
	assert.NoError(t, err)
	check.Equal(t, bidderA, owner)
	check.True(t, f.engine.GetProceeds(seller).IsZero())
	_, ok := f.engine.GetListing(item0)
	check.True(t, ok)

	// The retried transfer is a no-op once the winner owns the item, so
	// the retry completes the settlement: seller credited exactly once,
	// winner not refunded, listing gone.
	assert.NoError(t, f.engine.EndAuction(context.Background(), bidderA, item0, nil))
	check.True(t, f.engine.GetProceeds(seller).Equal(eth("1")))
	check.True(t, f.engine.GetProceeds(bidderA).IsZero())
	check.Equal(t, 1, f.ownership.transfers)

	err = f.engine.CancelListing(context.Background(), seller, item0)
	check.True(t, errors.Is(err, ErrNotListed))
	check.True(t, f.engine.ledger.Total().Equal(eth("1")))
}

// blockingPayout parks Pay until released, so a test can run a nested
// withdrawal while the first payout is in flight.
type blockingPayout struct {
	entered chan struct{}
	release chan struct{}
	paid    []decimal.Decimal
	mu      sync.Mutex
}

func (p *blockingPayout) Pay(_ context.Context, to string, amount decimal.Decimal) error {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, amount)
	return nil
}

type failingPayout struct{}

func (failingPayout) Pay(context.Context, string, decimal.Decimal) error {
	return fmt.Errorf("payment rail down")
}

func TestWithdrawProceeds_NoProceeds(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.WithdrawProceeds(context.Background(), seller)
	check.True(t, errors.Is(err, ErrNoProceeds))
}

func TestWithdrawProceeds_PaysFullBalanceOnce(t *testing.T) {
	payout := &blockingPayout{}
	f := newFixture(t, WithPayoutSink(payout))
	f.list(t, "0", time.Second)
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("0.1")))
	f.clock.Advance(2 * time.Second)
	assert.NoError(t, f.engine.EndAuction(context.Background(), seller, item0, nil))

	amount, err := f.engine.WithdrawProceeds(context.Background(), seller)
	assert.NoError(t, err)
	check.True(t, amount.Equal(eth("0.1")))
	check.True(t, f.engine.GetProceeds(seller).IsZero())

	_, err = f.engine.WithdrawProceeds(context.Background(), seller)
	check.True(t, errors.Is(err, ErrNoProceeds))
}

func TestWithdrawProceeds_NestedWithdrawalSeesZero(t *testing.T) {
	payout := &blockingPayout{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, WithPayoutSink(payout))
	f.engine.Restore(nil, map[string]decimal.Decimal{bidderA: eth("1")})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.WithdrawProceeds(context.Background(), bidderA)
		done <- err
	}()

	<-payout.entered
	// First withdrawal is mid-payout: the balance must already be zero.
	_, err := f.engine.WithdrawProceeds(context.Background(), bidderA)
	check.True(t, errors.Is(err, ErrNoProceeds))

	close(payout.release)
	assert.NoError(t, <-done)
	check.Equal(t, 1, len(payout.paid))
	check.True(t, payout.paid[0].Equal(eth("1")))
}

func TestWithdrawProceeds_FailedPayoutRestoresBalance(t *testing.T) {
	f := newFixture(t, WithPayoutSink(failingPayout{}))
	f.engine.Restore(nil, map[string]decimal.Decimal{bidderA: eth("2")})

	_, err := f.engine.WithdrawProceeds(context.Background(), bidderA)
	check.Error(t, err)
	check.True(t, f.engine.GetProceeds(bidderA).Equal(eth("2")))
}

func TestConservation_AcrossFullLifecycle(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	received := decimal.Zero
	for i, a := range []string{"1", "2", "3.5"} {
		bidder := fmt.Sprintf("0xbidder-%d", i)
		assert.NoError(t, f.engine.PlaceBid(context.Background(), bidder, item0, eth(a)))
		received = received.Add(eth(a))
	}

	// While the auction is live, everything received is either refunded
	// into the ledger or still in flight as the highest bid.
	listing, ok := f.engine.GetListing(item0)
	assert.True(t, ok)
	inFlight := listing.Price
	check.True(t, f.engine.ledger.Total().Add(inFlight).Equal(received))

	f.clock.Advance(2 * hour)
	assert.NoError(t, f.engine.EndAuction(context.Background(), seller, item0, nil))

	// After settlement nothing is in flight.
	check.True(t, f.engine.ledger.Total().Equal(received))

	withdrawn, err := f.engine.WithdrawProceeds(context.Background(), seller)
	assert.NoError(t, err)
	check.True(t, f.engine.ledger.Total().Add(withdrawn).Equal(received))
}

func TestScenario_TwoBiddersFromSpec(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item0, eth("1")))
	assert.NoError(t, f.engine.PlaceBid(context.Background(), bidderB, item0, eth("2")))

	check.True(t, f.engine.GetProceeds(seller).IsZero())
	check.True(t, f.engine.GetProceeds(bidderA).Equal(eth("1")))

	listing, ok := f.engine.GetListing(item0)
	assert.True(t, ok)
	check.Equal(t, bidderB, listing.HighestBidder)
	check.True(t, listing.Price.Equal(eth("2")))
}

func TestGetDeployer(t *testing.T) {
	f := newFixture(t)
	check.Equal(t, deployer, f.engine.GetDeployer())
}

func TestConcurrentBids_SingleWinnerPerKey(t *testing.T) {
	f := newFixture(t)
	f.list(t, "0", hour)

	const bidders = 32
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := decimal.NewFromInt(int64(i + 1))
			// Losing bids fail with BidNotHighEnough; that is expected.
			_ = f.engine.PlaceBid(context.Background(), fmt.Sprintf("0xbidder-%d", i), item0, amount)
		}(i)
	}
	wg.Wait()

	listing, ok := f.engine.GetListing(item0)
	assert.True(t, ok)
	check.True(t, listing.HasBid())

	// The accepted sequence was strictly increasing, so everything the
	// engine holds beyond the winning bid sits in displaced bidders'
	// ledger balances: winner's balance is zero, and each credited
	// balance was a previously accepted price below the winner's.
	check.True(t, f.engine.GetProceeds(listing.HighestBidder).IsZero())
	for account, balance := range f.engine.ledger.Snapshot() {
		check.NotEqual(t, listing.HighestBidder, account)
		check.True(t, balance.LessThan(listing.Price))
	}
}

func TestConcurrentOps_DifferentKeysDoNotInterfere(t *testing.T) {
	f := newFixture(t)

	const items = 16
	for i := 0; i < items; i++ {
		item := ItemKey{Collection: vehicles, TokenID: uint64(i + 100)}
		f.ownership.mint(item, seller)
		f.ownership.approve(item, deployer)
	}

	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := ItemKey{Collection: vehicles, TokenID: uint64(i + 100)}
			check.NoError(t, f.engine.ListItem(context.Background(), seller, item, eth("0"), hour))
			check.NoError(t, f.engine.PlaceBid(context.Background(), bidderA, item, eth("0.5")))
		}(i)
	}
	wg.Wait()

	for i := 0; i < items; i++ {
		item := ItemKey{Collection: vehicles, TokenID: uint64(i + 100)}
		bidder, ok := f.engine.GetHighestBidder(item)
		assert.True(t, ok)
		check.Equal(t, bidderA, bidder)
	}
}
