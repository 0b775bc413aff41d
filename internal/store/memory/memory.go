// Package memory is a process-local implementation of the store contract.
// It backs the service and HTTP tests and DB_DRIVER=memory. Row locks are
// per-auction and held until the transaction ends. Writes made inside a
// transaction stay private to it until commit, so readers only ever see
// committed state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/store"
)

type Store struct {
	mu          sync.Mutex
	lockTimeout time.Duration

	auctions  map[int64]*models.Auction
	rowLocks  map[int64]chan struct{}
	bids      map[int64][]models.Bid
	tracking  map[int64][]models.TrackingEntry
	transfers map[int64][]models.AgentTransfer
	agents    map[int64]models.DeliveryAgent
	processed map[string]string

	lastAuctionID  int64
	lastBidID      int64
	lastTrackingID int64
	lastTransferID int64
	lastAgentID    int64
}

// NewStore returns an empty store. A zero lockTimeout waits until ctx is done.
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		lockTimeout: lockTimeout,
		auctions:    make(map[int64]*models.Auction),
		rowLocks:    make(map[int64]chan struct{}),
		bids:        make(map[int64][]models.Bid),
		tracking:    make(map[int64][]models.TrackingEntry),
		transfers:   make(map[int64][]models.AgentTransfer),
		agents:      make(map[int64]models.DeliveryAgent),
		processed:   make(map[string]string),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Migrate is a no-op; the schema is the set of maps above.
func (s *Store) Migrate(ctx context.Context) error { return nil }

func (s *Store) rowLock(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[id] = l
	}
	return l
}

// tryLockRow takes the row lock only if it is free
func (s *Store) tryLockRow(id int64) (chan struct{}, bool) {
	l := s.rowLock(id)
	select {
	case l <- struct{}{}:
		return l, true
	default:
		return nil, false
	}
}

func (s *Store) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) ListAuctionsBySeller(ctx context.Context, sellerID int64) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Auction{}
	for _, a := range s.auctions {
		if a.SellerID == sellerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListOpenAuctions(ctx context.Context, asOf time.Time) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Auction{}
	for _, a := range s.auctions {
		open := a.Status == models.AuctionStatusActive || a.Status == models.AuctionStatusScheduled
		if open && a.EndTime.After(asOf) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	var expired []*models.Auction
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusActive && !a.EndTime.After(now) {
			expired = append(expired, a)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].EndTime.Equal(expired[j].EndTime) {
			return expired[i].EndTime.Before(expired[j].EndTime)
		}
		return expired[i].ID < expired[j].ID
	})
	s.mu.Unlock()

	ids := []int64{}
	for _, a := range expired {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// ActivateScheduled promotes scheduled auctions whose start time has passed.
// Rows locked by a transaction are skipped and picked up by a later sweep.
func (s *Store) ActivateScheduled(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	var due []int64
	for id, a := range s.auctions {
		if a.Status == models.AuctionStatusScheduled && !a.StartTime.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	var n int64
	for _, id := range due {
		l, ok := s.tryLockRow(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if a, ok := s.auctions[id]; ok && a.Status == models.AuctionStatusScheduled {
			row := clone(a)
			row.Status = models.AuctionStatusActive
			row.UpdatedAt = time.Now()
			s.auctions[id] = row
			n++
		}
		s.mu.Unlock()
		<-l
	}
	return n, nil
}

func (s *Store) ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bids := append([]models.Bid{}, s.bids[auctionID]...)
	sortBids(bids)
	return bids, nil
}

func (s *Store) ListTracking(ctx context.Context, auctionID int64) ([]models.TrackingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TrackingEntry{}, s.tracking[auctionID]...), nil
}

func (s *Store) ListTransfers(ctx context.Context, auctionID int64) ([]models.AgentTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AgentTransfer{}, s.transfers[auctionID]...), nil
}

// CreateDeliveryAgent registers a fulfilment agent
func (s *Store) CreateDeliveryAgent(ctx context.Context, agent *models.DeliveryAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.ID == 0 {
		s.lastAgentID++
		agent.ID = s.lastAgentID
	} else if agent.ID > s.lastAgentID {
		s.lastAgentID = agent.ID
	}
	s.agents[agent.ID] = *agent
	return nil
}

func (s *Store) IsActiveAgent(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	return ok && agent.Active, nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; ok {
		return false, nil
	}
	s.processed[eventID] = eventType
	return true, nil
}

func clone(a *models.Auction) *models.Auction {
	c := *a
	return &c
}

func sortBids(bids []models.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if c := bids[i].Amount.Cmp(bids[j].Amount); c != 0 {
			return c > 0
		}
		if !bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
			return bids[i].CreatedAt.Before(bids[j].CreatedAt)
		}
		return bids[i].ID < bids[j].ID
	})
}
