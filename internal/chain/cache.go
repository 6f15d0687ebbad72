// Package chain provides a per-expiry option chain cache with single-flight
// fetch deduplication and bounded retry of transient failures.
package chain

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

const cacheKeyFormat = "2006-01-02"

// Fetcher retrieves an option chain from the brokerage data API.
type Fetcher interface {
	GetOptionChain(ctx context.Context, expiry time.Time) (models.ChainSnapshot, error)
}

// RetryConfig bounds the retry loop for transient fetch failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches the engine's production retry policy.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Cache memoizes chain snapshots per expiry for the duration of one decision
// cycle. Concurrent callers asking for the same expiry share one in-flight
// fetch; distinct expiries fetch independently.
type Cache struct {
	fetcher Fetcher
	logger  *logrus.Logger
	retry   RetryConfig

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]models.ChainSnapshot

	// sleep is replaced in tests to keep backoff deterministic.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCache creates a chain cache over the given fetcher.
func NewCache(fetcher Fetcher, logger *logrus.Logger, retry ...RetryConfig) *Cache {
	cfg := DefaultRetryConfig
	if len(retry) > 0 {
		cfg = retry[0]
	}
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		retry:   cfg,
		entries: make(map[string]models.ChainSnapshot),
		sleep:   sleepCtx,
	}
}

// Get returns the chain snapshot for expiry, fetching it at most once no
// matter how many callers arrive while the fetch is in flight. All callers
// of one flight receive the same snapshot or the same error.
func (c *Cache) Get(ctx context.Context, expiry time.Time) (models.ChainSnapshot, error) {
	key := expiry.Format(cacheKeyFormat)

	c.mu.RLock()
	snap, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have populated
		// the entry between the read above and this call.
		c.mu.RLock()
		cached, hit := c.entries[key]
		c.mu.RUnlock()
		if hit {
			return cached, nil
		}

		fetched, err := c.fetchWithRetry(ctx, expiry)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return models.ChainSnapshot{}, err
	}
	if shared {
		c.logger.WithField("expiry", key).Debug("chain: shared in-flight fetch result")
	}
	return v.(models.ChainSnapshot), nil
}

// Invalidate drops every cached entry. Called at the start of each decision
// cycle: strikes and open interest move continuously, and a stale chain risks
// a mispriced strategy.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]models.ChainSnapshot)
	c.mu.Unlock()
}

// fetchWithRetry retries transient failures with multiplicative backoff and
// jitter. Auth and NotFound errors propagate immediately.
func (c *Cache) fetchWithRetry(ctx context.Context, expiry time.Time) (models.ChainSnapshot, error) {
	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.ChainSnapshot{}, fmt.Errorf("chain fetch canceled: %w", err)
		}

		snap, err := c.fetcher.GetOptionChain(ctx, expiry)
		if err == nil {
			return snap, nil
		}
		lastErr = err

		if !broker.IsTransient(err) || attempt == c.retry.MaxRetries {
			break
		}

		c.logger.WithError(err).Warnf("chain: transient fetch failure (attempt %d/%d), retrying in %v",
			attempt+1, c.retry.MaxRetries+1, backoff)
		if err := c.sleep(ctx, backoff); err != nil {
			return models.ChainSnapshot{}, fmt.Errorf("chain fetch canceled during backoff: %w", err)
		}
		backoff = c.nextBackoff(backoff)
	}

	return models.ChainSnapshot{}, fmt.Errorf("chain fetch for %s failed: %w",
		expiry.Format(cacheKeyFormat), lastErr)
}

func (c *Cache) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
