package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/service"
	"auction-service/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "auction:sweep:lock"

// SweepLock keeps concurrent instances from sweeping at the same moment.
// Row locks already make sweeps safe; the lock only saves duplicate work.
type SweepLock interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// ExpiryWorker periodically resolves auctions whose end time has passed
type ExpiryWorker struct {
	resolver *service.Resolver
	lock     SweepLock
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewExpiryWorker creates a new expiry worker. lock may be nil.
func NewExpiryWorker(resolver *service.Resolver, lock SweepLock, interval, lockTTL time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}
	return &ExpiryWorker{
		resolver: resolver,
		lock:     lock,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   util.Component("worker.expiry"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start sweeps once immediately and then on every tick until ctx is
// cancelled or Stop is called
func (w *ExpiryWorker) Start(ctx context.Context) error {
	log.Println("Starting expiry worker...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one resolution pass. It returns a zero result without
// sweeping when another instance holds the sweep lock.
func (w *ExpiryWorker) Sweep(ctx context.Context) (service.SweepResult, error) {
	if w.lock != nil {
		token, ok, err := w.lock.AcquireLock(ctx, sweepLockKey, w.lockTTL)
		switch {
		case err != nil:
			w.logger.Warn("Sweep lock unavailable, sweeping anyway", zap.Error(err))
		case !ok:
			w.logger.Debug("Sweep lock held elsewhere, skipping")
			return service.SweepResult{}, nil
		default:
			stop := w.keepLock(ctx, token)
			defer func() {
				stop()
				if err := w.lock.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
					w.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	return w.resolver.ResolveExpired(ctx, w.now())
}

// keepLock extends the sweep lock at half its TTL until the returned func is called
func (w *ExpiryWorker) keepLock(ctx context.Context, token string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := w.lock.ExtendLock(ctx, sweepLockKey, token, w.lockTTL)
				if err != nil || !ok {
					w.logger.Warn("Lost sweep lock during sweep", zap.Bool("extended", ok), zap.Error(err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Stop stops the worker; an in-flight sweep sees its context cancelled
func (w *ExpiryWorker) Stop() error {
	log.Println("Stopping expiry worker...")
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}

// NotificationWorker turns auction events from the bus into user notifications
type NotificationWorker struct {
	subscriber   broker.Subscriber
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(subscriber broker.Subscriber, notifier *service.Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnAuctionResolved(notifier.HandleAuctionResolved)
	eventHandler.OnAuctionPaid(notifier.HandleAuctionPaid)
	eventHandler.OnShippingUpdated(notifier.HandleShippingUpdated)
	eventHandler.OnDeliveryCodeIssued(notifier.HandleDeliveryCodeIssued)

	return &NotificationWorker{
		subscriber:   subscriber,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.subscriber.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.subscriber.Close()
}
