package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"auction-service/config"
	"auction-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("Integration test - set INTEGRATION_TESTS=1 to run against postgres")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s, err := NewStore(config.DatabaseConfig{
		URL:             fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})
	return s
}

func insertAuction(t *testing.T, s *Store, start, end time.Time) *models.Auction {
	t.Helper()
	a := &models.Auction{
		SellerID:       1,
		ProductName:    "Basmati rice",
		Quantity:       decimal.NewFromInt(50),
		Unit:           "kg",
		StartingPrice:  decimal.NewFromInt(100),
		CurrentBid:     decimal.NewFromInt(100),
		Currency:       "USD",
		StartTime:      start,
		EndTime:        end,
		Status:         models.AuctionStatusActive,
		PaymentStatus:  models.PaymentStatusPending,
		ShippingStatus: models.ShippingStatusPending,
	}
	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertAuction(context.Background(), a)
	})
	require.NoError(t, err)
	require.NotZero(t, a.ID)
	return a
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestHighestBidTieBreak(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := insertAuction(t, s, now.Add(-time.Hour), now.Add(time.Hour))

	err := s.WithTx(ctx, func(tx Tx) error {
		for i, customer := range []int64{10, 11, 12} {
			amount := decimal.NewFromInt(150)
			if customer == 10 {
				amount = decimal.NewFromInt(120)
			}
			if err := tx.InsertBid(ctx, &models.Bid{
				AuctionID:  a.ID,
				CustomerID: customer,
				Amount:     amount,
				CreatedAt:  now.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var top *models.Bid
	err = s.WithTx(ctx, func(tx Tx) error {
		var err error
		top, err = tx.HighestBid(ctx, a.ID)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.Equal(t, int64(11), top.CustomerID)

	bids, err := s.ListBids(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 3)
	assert.Equal(t, int64(11), bids[0].CustomerID)
}

func TestLockExpiredAuctionSkipsLockedRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := insertAuction(t, s, now.Add(-2*time.Hour), now.Add(-time.Minute))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockAuction(ctx, a.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockExpiredAuction(ctx, a.ID, now)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	close(release)
	require.NoError(t, <-done)

	err = s.WithTx(ctx, func(tx Tx) error {
		row, err := tx.LockExpiredAuction(ctx, a.ID, now)
		if err != nil {
			return err
		}
		return tx.ResolveAuction(ctx, row.ID, models.AuctionStatusCancelled, nil)
	})
	require.NoError(t, err)

	got, err := s.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusCancelled, got.Status)
	assert.Nil(t, got.WinnerID)
}

func TestLockAuctionTimesOut(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := insertAuction(t, s, now.Add(-time.Hour), now.Add(time.Hour))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockAuction(ctx, a.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockAuction(ctx, a.ID)
		return err
	})
	close(release)
	require.NoError(t, <-done)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestDeleteAuctionCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := insertAuction(t, s, now.Add(-time.Hour), now.Add(time.Hour))

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertBid(ctx, &models.Bid{AuctionID: a.ID, CustomerID: 5, Amount: decimal.NewFromInt(110), CreatedAt: now}); err != nil {
			return err
		}
		return tx.AppendTracking(ctx, &models.TrackingEntry{AuctionID: a.ID, Status: "note", CreatedAt: now})
	})
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error { return tx.DeleteAuction(ctx, a.ID) }))

	_, err = s.GetAuction(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	bids, err := s.ListBids(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestActivateScheduledAndListOpen(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := insertAuction(t, s, now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.ResolveAuction(ctx, a.ID, models.AuctionStatusScheduled, nil)
	}))

	n, err := s.ActivateScheduled(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	open, err := s.ListOpenAuctions(ctx, now)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AuctionStatusActive, open[0].Status)
}

func TestShippingUpdateKeepsUnsetColumns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := insertAuction(t, s, now.Add(-time.Hour), now.Add(time.Hour))

	agent := &models.DeliveryAgent{Name: "Agent Z", Active: true}
	require.NoError(t, s.CreateDeliveryAgent(ctx, agent))

	active, err := s.IsActiveAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, active)

	tracking := "TRK-1"
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateShipping(ctx, a.ID, ShippingUpdate{Status: models.ShippingStatusShippedPending, DeliveryAgentID: &agent.ID}); err != nil {
			return err
		}
		return tx.UpdateShipping(ctx, a.ID, ShippingUpdate{Status: models.ShippingStatusShipped, TrackingNumber: &tracking})
	}))

	got, err := s.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShippingStatusShipped, got.ShippingStatus)
	assert.True(t, got.IsAssignedAgent(agent.ID))
	assert.Equal(t, "TRK-1", got.TrackingNumber)
}

func TestMarkEventProcessed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.MarkEventProcessed(ctx, "evt-1", models.EventTypeBidPlaced)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkEventProcessed(ctx, "evt-1", models.EventTypeBidPlaced)
	require.NoError(t, err)
	assert.False(t, second)

	seen, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestActivateScheduledSkipsLockedRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := insertAuction(t, s, now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.ResolveAuction(ctx, a.ID, models.AuctionStatusScheduled, nil)
	}))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockAuction(ctx, a.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	n, err := s.ActivateScheduled(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "a locked row is left for the next sweep")

	close(release)
	require.NoError(t, <-done)

	n, err = s.ActivateScheduled(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
