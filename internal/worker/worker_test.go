package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/service"
	"auction-service/internal/store"
	"auction-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	err      error
	acquired int
	extended int
	released int
}

func (l *fakeLock) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.held = true
	l.acquired++
	return "token", true, nil
}

func (l *fakeLock) ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extended++
	return l.held, nil
}

func (l *fakeLock) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

func seedExpired(t *testing.T, repo *memory.Store, n int, endedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		err := repo.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertAuction(ctx, &models.Auction{
				SellerID:       1,
				ProductName:    "Groundnuts",
				Quantity:       decimal.NewFromInt(10),
				StartingPrice:  decimal.NewFromInt(5),
				CurrentBid:     decimal.NewFromInt(5),
				Currency:       "USD",
				StartTime:      endedAt.Add(-time.Hour),
				EndTime:        endedAt,
				Status:         models.AuctionStatusActive,
				PaymentStatus:  models.PaymentStatusPending,
				ShippingStatus: models.ShippingStatusPending,
			})
		})
		require.NoError(t, err)
	}
}

func newResolver(repo *memory.Store) *service.Resolver {
	return service.NewResolver(repo, broker.NewEventPublisher(broker.NewLocalBus(100)), 10)
}

func TestExpiryWorker_SweepTakesLock(t *testing.T) {
	repo := memory.NewStore(time.Second)
	seedExpired(t, repo, 3, time.Now().Add(-time.Minute))

	lock := &fakeLock{}
	w := NewExpiryWorker(newResolver(repo), lock, time.Minute, 0)

	res, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Cancelled)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestExpiryWorker_SkipsWhenLockHeld(t *testing.T) {
	repo := memory.NewStore(time.Second)
	seedExpired(t, repo, 2, time.Now().Add(-time.Minute))

	lock := &fakeLock{held: true}
	w := NewExpiryWorker(newResolver(repo), lock, time.Minute, 0)

	res, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Resolved())

	ids, err := repo.ListExpiredAuctionIDs(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestExpiryWorker_SweepsWhenLockErrors(t *testing.T) {
	repo := memory.NewStore(time.Second)
	seedExpired(t, repo, 1, time.Now().Add(-time.Minute))

	w := NewExpiryWorker(newResolver(repo), &fakeLock{err: errors.New("redis down")}, time.Minute, 0)

	res, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
}

func TestExpiryWorker_StartAndStop(t *testing.T) {
	repo := memory.NewStore(time.Second)
	w := NewExpiryWorker(newResolver(repo), nil, 10*time.Millisecond, 0)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	seedExpired(t, repo, 2, time.Now())
	assert.Eventually(t, func() bool {
		ids, err := repo.ListExpiredAuctionIDs(context.Background(), time.Now(), 10)
		return err == nil && len(ids) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type recordingSender struct {
	mu    sync.Mutex
	users []int64
}

func (s *recordingSender) Send(ctx context.Context, userID int64, subject, body string) error {
	s.mu.Lock()
	s.users = append(s.users, userID)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func TestNotificationWorker_DeliversFromBus(t *testing.T) {
	repo := memory.NewStore(time.Second)
	bus := broker.NewLocalBus(16)
	publisher := broker.NewEventPublisher(bus)
	sender := &recordingSender{}

	w := NewNotificationWorker(bus, service.NewNotifier(repo, sender))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	winner := int64(10)
	event := &models.AuctionResolvedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeAuctionCompleted),
		AuctionID:   1,
		SellerID:    1,
		WinnerID:    &winner,
		FinalAmount: decimal.NewFromInt(150),
		Currency:    "USD",
	}
	require.NoError(t, publisher.PublishAuctionResolved(ctx, event))
	// redelivery of the same event must not notify twice
	require.NoError(t, publisher.PublishAuctionResolved(ctx, event))
	require.NoError(t, publisher.PublishBidPlaced(ctx, &models.BidPlacedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeBidPlaced),
		AuctionID: 1,
	}))

	assert.Eventually(t, func() bool { return sender.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, sender.count())

	require.NoError(t, w.Stop())
}
