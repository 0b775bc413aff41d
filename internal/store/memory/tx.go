package memory

import (
	"context"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/store"

	"github.com/shopspring/decimal"
)

// WithTx runs fn holding whatever row locks it takes until fn returns.
// Writes are buffered in the transaction and applied in one step under the
// store mutex on commit; an error from fn discards them.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx := newMemTx(s)
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s    *Store
	held map[int64]chan struct{}

	// rows holds this transaction's version of every auction it wrote
	rows    map[int64]*models.Auction
	deleted map[int64]bool
	bids    map[int64][]models.Bid
	redo    []func()
}

func newMemTx(s *Store) *memTx {
	return &memTx{
		s:       s,
		held:    make(map[int64]chan struct{}),
		rows:    make(map[int64]*models.Auction),
		deleted: make(map[int64]bool),
		bids:    make(map[int64][]models.Bid),
	}
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, apply := range t.redo {
		apply()
	}
	t.redo = nil
}

func (t *memTx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

func (t *memTx) acquire(ctx context.Context, id int64) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	l := t.s.rowLock(id)

	var timeout <-chan time.Time
	if t.s.lockTimeout > 0 {
		timer := time.NewTimer(t.s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l <- struct{}{}:
		t.held[id] = l
		return nil
	case <-timeout:
		return store.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) tryAcquire(id int64) bool {
	if _, ok := t.held[id]; ok {
		return true
	}
	l, ok := t.s.tryLockRow(id)
	if ok {
		t.held[id] = l
	}
	return ok
}

func (t *memTx) drop(id int64) {
	if l, ok := t.held[id]; ok {
		<-l
		delete(t.held, id)
	}
}

// read returns the row as this transaction sees it: its own pending version
// first, then the last committed one.
func (t *memTx) read(id int64) (*models.Auction, bool) {
	if t.deleted[id] {
		return nil, false
	}
	if a, ok := t.rows[id]; ok {
		return clone(a), true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.auctions[id]
	if !ok {
		return nil, false
	}
	return clone(a), true
}

func (t *memTx) LockAuction(ctx context.Context, id int64) (*models.Auction, error) {
	if _, ok := t.read(id); !ok {
		return nil, store.ErrNotFound
	}
	if err := t.acquire(ctx, id); err != nil {
		return nil, err
	}
	a, ok := t.read(id)
	if !ok {
		t.drop(id)
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (t *memTx) LockExpiredAuction(ctx context.Context, id int64, now time.Time) (*models.Auction, error) {
	if !t.tryAcquire(id) {
		return nil, store.ErrNotFound
	}
	a, ok := t.read(id)
	if !ok || a.Status != models.AuctionStatusActive || a.EndTime.After(now) {
		t.drop(id)
		return nil, store.ErrNotFound
	}
	return a, nil
}

// nextID hands out an id from one of the store's sequences. Like a database
// sequence it is not given back on rollback.
func (t *memTx) nextID(seq *int64) int64 {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	*seq++
	return *seq
}

func (t *memTx) InsertAuction(ctx context.Context, a *models.Auction) error {
	now := time.Now()
	a.ID = t.nextID(&t.s.lastAuctionID)
	a.CreatedAt = now
	a.UpdatedAt = now
	t.put(clone(a))
	return nil
}

// put stages row as the transaction's version of the auction.
func (t *memTx) put(row *models.Auction) {
	id := row.ID
	t.rows[id] = row
	committed := clone(row)
	t.redo = append(t.redo, func() { t.s.auctions[id] = committed })
}

// update applies mutate to the transaction's copy of the row.
func (t *memTx) update(id int64, mutate func(a *models.Auction)) error {
	a, ok := t.read(id)
	if !ok {
		return store.ErrNotFound
	}
	mutate(a)
	a.UpdatedAt = time.Now()
	t.put(a)
	return nil
}

func (t *memTx) ActivateAuction(ctx context.Context, id int64) error {
	return t.update(id, func(a *models.Auction) {
		if a.Status == models.AuctionStatusScheduled {
			a.Status = models.AuctionStatusActive
		}
	})
}

func (t *memTx) HighestBid(ctx context.Context, auctionID int64) (*models.Bid, error) {
	if t.deleted[auctionID] {
		return nil, nil
	}
	t.s.mu.Lock()
	bids := append([]models.Bid{}, t.s.bids[auctionID]...)
	t.s.mu.Unlock()
	bids = append(bids, t.bids[auctionID]...)
	if len(bids) == 0 {
		return nil, nil
	}
	sortBids(bids)
	top := bids[0]
	return &top, nil
}

func (t *memTx) InsertBid(ctx context.Context, b *models.Bid) error {
	b.ID = t.nextID(&t.s.lastBidID)
	bid := *b
	auctionID := b.AuctionID
	t.bids[auctionID] = append(t.bids[auctionID], bid)
	t.redo = append(t.redo, func() {
		t.s.bids[auctionID] = append(t.s.bids[auctionID], bid)
	})
	return nil
}

func (t *memTx) UpdateCurrentBid(ctx context.Context, auctionID int64, amount decimal.Decimal) error {
	return t.update(auctionID, func(a *models.Auction) { a.CurrentBid = amount })
}

func (t *memTx) ResolveAuction(ctx context.Context, id int64, status string, winnerID *int64) error {
	return t.update(id, func(a *models.Auction) {
		a.Status = status
		a.WinnerID = copyID(winnerID)
	})
}

func (t *memTx) MarkPaid(ctx context.Context, id int64, address, phone string, paidAt time.Time) error {
	return t.update(id, func(a *models.Auction) {
		a.PaymentStatus = models.PaymentStatusPaid
		a.PaidAt = &paidAt
		a.ShippingAddress = address
		a.ContactPhone = phone
	})
}

func (t *memTx) UpdateShipping(ctx context.Context, id int64, u store.ShippingUpdate) error {
	return t.update(id, func(a *models.Auction) {
		a.ShippingStatus = u.Status
		if u.DeliveryAgentID != nil {
			a.DeliveryAgentID = copyID(u.DeliveryAgentID)
		}
		if u.HubStaffID != nil {
			a.HubStaffID = copyID(u.HubStaffID)
		}
		if u.TrackingNumber != nil {
			a.TrackingNumber = *u.TrackingNumber
		}
	})
}

func (t *memTx) AppendTracking(ctx context.Context, e *models.TrackingEntry) error {
	e.ID = t.nextID(&t.s.lastTrackingID)
	entry := *e
	t.redo = append(t.redo, func() {
		t.s.tracking[entry.AuctionID] = append(t.s.tracking[entry.AuctionID], entry)
	})
	return nil
}

func (t *memTx) InsertTransfer(ctx context.Context, tr *models.AgentTransfer) error {
	tr.ID = t.nextID(&t.s.lastTransferID)
	transfer := *tr
	t.redo = append(t.redo, func() {
		t.s.transfers[transfer.AuctionID] = append(t.s.transfers[transfer.AuctionID], transfer)
	})
	return nil
}

func (t *memTx) DeleteAuction(ctx context.Context, id int64) error {
	if _, ok := t.read(id); !ok {
		return store.ErrNotFound
	}
	t.deleted[id] = true
	delete(t.rows, id)
	delete(t.bids, id)
	t.redo = append(t.redo, func() {
		delete(t.s.bids, id)
		delete(t.s.tracking, id)
		delete(t.s.transfers, id)
		delete(t.s.auctions, id)
	})
	return nil
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
