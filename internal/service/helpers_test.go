package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"auction-service/internal/auth"
	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	farmer    = auth.Caller{ID: 1, Role: auth.RoleFarmer}
	neighbour = auth.Caller{ID: 2, Role: auth.RoleFarmer}
	customerX = auth.Caller{ID: 10, Role: auth.RoleCustomer}
	customerY = auth.Caller{ID: 11, Role: auth.RoleCustomer}
	agentZ    = auth.Caller{ID: 100, Role: auth.RoleDeliveryAgent}
	agentW    = auth.Caller{ID: 101, Role: auth.RoleDeliveryAgent}
	retired   = auth.Caller{ID: 102, Role: auth.RoleDeliveryAgent}
)

type recordedEvent struct {
	Key  string
	Type string
	Raw  []byte
}

type recordingProducer struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingProducer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var base models.BaseEvent
	if err := json.Unmarshal(raw, &base); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, recordedEvent{Key: key, Type: base.EventType, Raw: raw})
	p.mu.Unlock()
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *recordingProducer) last(t *testing.T, eventType string, into interface{}) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			require.NoError(t, json.Unmarshal(p.events[i].Raw, into))
			return
		}
	}
	t.Fatalf("no %s event published", eventType)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	repo     *memory.Store
	events   *recordingProducer
	clock    *fakeClock
	codes    *LocalCodeStore
	auctions *AuctionService
	bidding  *BiddingEngine
	resolver *Resolver
	postsale *PostSaleService
	lastCode string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:   memory.NewStore(time.Second),
		events: &recordingProducer{},
		clock:  &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		codes:  NewLocalCodeStore(),
	}
	publisher := broker.NewEventPublisher(f.events)

	f.resolver = NewResolver(f.repo, publisher, 10)
	f.bidding = NewBiddingEngine(f.repo, publisher)
	f.bidding.SetClock(f.clock.Now)
	f.auctions = NewAuctionService(f.repo, f.resolver, nil, nil, publisher, "USD")
	f.auctions.SetClock(f.clock.Now)
	f.postsale = NewPostSaleService(f.repo, f.codes, publisher, PostSaleConfig{
		RequireDeliveryCode: true,
		DeliveryCodeTTL:     10 * time.Minute,
	})
	f.postsale.SetClock(f.clock.Now)
	f.postsale.generateCode = func() (string, error) {
		code, err := generateDeliveryCode()
		f.lastCode = code
		return code, err
	}

	ctx := context.Background()
	require.NoError(t, f.repo.CreateDeliveryAgent(ctx, &models.DeliveryAgent{ID: agentZ.ID, Name: "Agent Z", Active: true}))
	require.NoError(t, f.repo.CreateDeliveryAgent(ctx, &models.DeliveryAgent{ID: agentW.ID, Name: "Agent W", Active: true}))
	require.NoError(t, f.repo.CreateDeliveryAgent(ctx, &models.DeliveryAgent{ID: retired.ID, Name: "Retired", Active: false}))
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// createAuction lists an active auction at starting price 100 that ends in an hour
func (f *fixture) createAuction(t *testing.T) *models.Auction {
	t.Helper()
	a, err := f.auctions.CreateAuction(context.Background(), farmer, CreateAuctionRequest{
		ProductName:   "Alphonso mangoes",
		Quantity:      dec("200"),
		Unit:          "kg",
		StartingPrice: dec("100"),
		Currency:      "USD",
		EndTime:       f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) bid(t *testing.T, caller auth.Caller, auctionID int64, amount string) {
	t.Helper()
	_, err := f.bidding.PlaceBid(context.Background(), caller, auctionID, dec(amount))
	require.NoError(t, err)
}

// soldTo runs an auction to completion with winner as the top bidder
func (f *fixture) soldTo(t *testing.T, winner auth.Caller) *models.Auction {
	t.Helper()
	a := f.createAuction(t)
	f.bid(t, winner, a.ID, "150")
	f.clock.Advance(2 * time.Hour)
	_, err := f.resolver.ResolveExpired(context.Background(), f.clock.Now())
	require.NoError(t, err)
	got, err := f.repo.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusCompleted, got.Status)
	return got
}

func (f *fixture) paid(t *testing.T, winner auth.Caller) *models.Auction {
	t.Helper()
	a := f.soldTo(t, winner)
	paid, err := f.postsale.Pay(context.Background(), winner, a.ID, PayRequest{
		ShippingAddress: "12 Market Road, Nairobi",
		ContactPhone:    "+254700000000",
	})
	require.NoError(t, err)
	return paid
}
