package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

var ErrCodeNotFound = errors.New("delivery code not found or expired")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection for readiness probes
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock takes a distributed lock and returns the owner token.
// ok is false when someone else holds it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ExtendLock refreshes the TTL of a lock the caller still owns
func (c *Client) ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	res, err := c.extendScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock script failed: %w", err)
	}
	return res == 1, nil
}

// ReleaseLock releases the lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// GetRates returns cached exchange rates for base. ok is false on a miss.
func (c *Client) GetRates(ctx context.Context, base string) (rates map[string]decimal.Decimal, ok bool, err error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf("fx:%s", base)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(raw, &rates); err != nil {
		return nil, false, fmt.Errorf("decode cached rates: %w", err)
	}
	return rates, true, nil
}

// SetRates caches exchange rates for base
func (c *Client) SetRates(ctx context.Context, base string, rates map[string]decimal.Decimal, ttl time.Duration) error {
	raw, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf("fx:%s", base), raw, ttl).Err()
}

// SaveDeliveryCode stores the hashed delivery code, replacing any earlier one
// and clearing its attempt counter
func (c *Client) SaveDeliveryCode(ctx context.Context, auctionID int64, hash string, ttl time.Duration) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, deliveryCodeKey(auctionID), hash, ttl)
		pipe.Del(ctx, deliveryAttemptsKey(auctionID))
		return nil
	})
	return err
}

// GetDeliveryCode returns the stored hash or ErrCodeNotFound
func (c *Client) GetDeliveryCode(ctx context.Context, auctionID int64) (string, error) {
	hash, err := c.rdb.Get(ctx, deliveryCodeKey(auctionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	return hash, err
}

// DeleteDeliveryCode consumes the delivery code
func (c *Client) DeleteDeliveryCode(ctx context.Context, auctionID int64) error {
	return c.rdb.Del(ctx, deliveryCodeKey(auctionID), deliveryAttemptsKey(auctionID)).Err()
}

// CountCodeAttempt increments the guess counter for the auction's code and
// returns the new count. The counter expires with ttl.
func (c *Client) CountCodeAttempt(ctx context.Context, auctionID int64, ttl time.Duration) (int64, error) {
	key := deliveryAttemptsKey(auctionID)
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func deliveryCodeKey(auctionID int64) string {
	return fmt.Sprintf("delivery_code:%d", auctionID)
}

func deliveryAttemptsKey(auctionID int64) string {
	return fmt.Sprintf("delivery_code_attempts:%d", auctionID)
}
