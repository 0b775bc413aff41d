package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"auction-service/internal/redisclient"
)

// CodeStore keeps the hashed one-time delivery code per auction.
// Get returns redisclient.ErrCodeNotFound once the code is gone or expired.
// Saving a code resets its attempt count; deleting it drops the count too.
type CodeStore interface {
	SaveDeliveryCode(ctx context.Context, auctionID int64, hash string, ttl time.Duration) error
	GetDeliveryCode(ctx context.Context, auctionID int64) (string, error)
	DeleteDeliveryCode(ctx context.Context, auctionID int64) error
	CountCodeAttempt(ctx context.Context, auctionID int64, ttl time.Duration) (int64, error)
}

type localCode struct {
	hash      string
	attempts  int64
	expiresAt time.Time
}

// LocalCodeStore is the process-local CodeStore used when Redis is disabled
type LocalCodeStore struct {
	mu    sync.Mutex
	codes map[int64]localCode
}

func NewLocalCodeStore() *LocalCodeStore {
	return &LocalCodeStore{codes: make(map[int64]localCode)}
}

func (s *LocalCodeStore) SaveDeliveryCode(ctx context.Context, auctionID int64, hash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[auctionID] = localCode{hash: hash, expiresAt: time.Now().Add(ttl)}
	return nil
}

// CountCodeAttempt records one guess against the live code. The count lives
// and dies with the code, so ttl is unused here.
func (s *LocalCodeStore) CountCodeAttempt(ctx context.Context, auctionID int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[auctionID]
	if !ok {
		return 0, redisclient.ErrCodeNotFound
	}
	c.attempts++
	s.codes[auctionID] = c
	return c.attempts, nil
}

func (s *LocalCodeStore) GetDeliveryCode(ctx context.Context, auctionID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[auctionID]
	if !ok || time.Now().After(c.expiresAt) {
		delete(s.codes, auctionID)
		return "", redisclient.ErrCodeNotFound
	}
	return c.hash, nil
}

func (s *LocalCodeStore) DeleteDeliveryCode(ctx context.Context, auctionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, auctionID)
	return nil
}

// generateDeliveryCode returns a uniformly random 6-digit code
func generateDeliveryCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate delivery code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
