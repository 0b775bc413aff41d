package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"auction-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateSource fetches exchange rates quoted against base
type RateSource interface {
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// RateCache stores fetched rates between requests
type RateCache interface {
	GetRates(ctx context.Context, base string) (map[string]decimal.Decimal, bool, error)
	SetRates(ctx context.Context, base string, rates map[string]decimal.Decimal, ttl time.Duration) error
}

// HTTPRateSource reads {"rates": {...}} from <url>/<BASE>
type HTTPRateSource struct {
	url    string
	client *http.Client
}

func NewHTTPRateSource(url string) *HTTPRateSource {
	return &HTTPRateSource{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPRateSource) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", s.url, base), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if len(body.Rates) == 0 {
		return nil, fmt.Errorf("fetch rates: empty rate table for %s", base)
	}
	return body.Rates, nil
}

// fallbackUSDRates is used when the provider and the cache are both unavailable
var fallbackUSDRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"EUR": decimal.RequireFromString("0.92"),
	"GBP": decimal.RequireFromString("0.79"),
	"INR": decimal.RequireFromString("83.10"),
	"KES": decimal.RequireFromString("129.50"),
	"NGN": decimal.RequireFromString("1550.00"),
	"BDT": decimal.RequireFromString("117.00"),
	"PKR": decimal.RequireFromString("278.00"),
}

// CurrencyConverter converts amounts for display. It never takes part in
// bid comparison.
type CurrencyConverter struct {
	source RateSource
	cache  RateCache
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]cachedRates
}

type cachedRates struct {
	rates     map[string]decimal.Decimal
	expiresAt time.Time
}

// NewCurrencyConverter creates a converter. source and cache may be nil.
func NewCurrencyConverter(source RateSource, cache RateCache, ttl time.Duration) *CurrencyConverter {
	return &CurrencyConverter{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: util.Component("currency"),
		local:  make(map[string]cachedRates),
	}
}

// Convert returns amount expressed in to, rounded to cents
func (c *CurrencyConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	rates := c.rates(ctx, from)
	if rate, ok := rates[to]; ok && rate.IsPositive() {
		return amount.Mul(rate).Round(2), nil
	}

	fromRate, okFrom := fallbackUSDRates[from]
	toRate, okTo := fallbackUSDRates[to]
	if !okFrom || !okTo {
		return decimal.Zero, validationError("unsupported currency conversion %s to %s", from, to)
	}
	return amount.Div(fromRate).Mul(toRate).Round(2), nil
}

func (c *CurrencyConverter) rates(ctx context.Context, base string) map[string]decimal.Decimal {
	c.mu.RLock()
	entry, ok := c.local[base]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.rates
	}

	if c.cache != nil {
		rates, hit, err := c.cache.GetRates(ctx, base)
		if err != nil {
			c.logger.Warn("Rate cache read failed", zap.String("base", base), zap.Error(err))
		} else if hit {
			c.remember(base, rates)
			return rates
		}
	}

	if c.source == nil {
		return nil
	}
	rates, err := c.source.FetchRates(ctx, base)
	if err != nil {
		c.logger.Warn("Rate provider unavailable, using fallback table", zap.String("base", base), zap.Error(err))
		return nil
	}

	c.remember(base, rates)
	if c.cache != nil {
		if err := c.cache.SetRates(ctx, base, rates, c.ttl); err != nil {
			c.logger.Warn("Rate cache write failed", zap.String("base", base), zap.Error(err))
		}
	}
	return rates
}

func (c *CurrencyConverter) remember(base string, rates map[string]decimal.Decimal) {
	ttl := c.ttl
	if ttl <= 0 || ttl > time.Minute {
		ttl = time.Minute
	}
	c.mu.Lock()
	c.local[base] = cachedRates{rates: rates, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}
