package reference

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/circuit"
	"consentvault/pkg/platform/sentinel"
)

const (
	keyPrefix = "policy:brief:"
	// absentMarker caches an unknown id so repeated misses skip the backend.
	absentMarker = "-"
)

// CachedReference fronts a Reference with Redis. Concurrent misses for the
// same id collapse into one backend call. Redis failures fall through to the
// backend; once they repeat, the breaker opens and Redis is only probed
// occasionally until it recovers.
type CachedReference struct {
	next        Reference
	rdb         redis.Cmdable
	ttl         time.Duration
	negativeTTL time.Duration
	group       singleflight.Group
	breaker     *circuit.Breaker
	logger      *slog.Logger

	// fetchTimeout bounds a shared backend fetch, which outlives any single caller.
	fetchTimeout time.Duration
}

type CachedOption func(*CachedReference)

func WithBreaker(b *circuit.Breaker) CachedOption {
	return func(c *CachedReference) { c.breaker = b }
}

func WithCacheLogger(l *slog.Logger) CachedOption {
	return func(c *CachedReference) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFetchTimeout bounds the backend fetch shared by collapsed misses.
func WithFetchTimeout(d time.Duration) CachedOption {
	return func(c *CachedReference) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func NewCachedReference(next Reference, rdb redis.Cmdable, ttl, negativeTTL time.Duration, opts ...CachedOption) *CachedReference {
	c := &CachedReference{
		next:         next,
		rdb:          rdb,
		ttl:          ttl,
		negativeTTL:  negativeTTL,
		breaker:      circuit.New("policy-cache", circuit.WithCooldown(5*time.Second)),
		logger:       slog.Default(),
		fetchTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// observe feeds a Redis outcome to the breaker. redis.Nil is a healthy miss.
func (c *CachedReference) observe(ctx context.Context, op string, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "policy cache recovered", "breaker", c.breaker.Name())
		}
		return
	}
	_, change := c.breaker.RecordFailure()
	if change.Opened {
		c.logger.WarnContext(ctx, "policy cache unavailable; reading through to the store",
			"breaker", c.breaker.Name(), "error", err)
		return
	}
	if !c.breaker.IsOpen() {
		c.logger.WarnContext(ctx, "policy cache "+op+" failed", "error", err)
	}
}

func cacheKey(id domain.PolicyID) string {
	return keyPrefix + strconv.FormatInt(int64(id), 10)
}

func (c *CachedReference) Brief(ctx context.Context, id domain.PolicyID) (models.Brief, error) {
	key := cacheKey(id)

	if c.breaker.Allow() {
		raw, err := c.rdb.Get(ctx, key).Result()
		c.observe(ctx, "read", err)
		if err == nil {
			if b, found, ok := c.decode(ctx, key, raw); ok {
				if !found {
					return models.Brief{}, sentinel.ErrNotFound
				}
				return b, nil
			}
		}
	}

	// The flight is shared, so it must not inherit one caller's cancellation.
	// Each caller still stops waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		b, err := c.next.Brief(fctx, id)
		switch {
		case err == nil:
			c.store(fctx, key, b)
		case errors.Is(err, sentinel.ErrNotFound):
			c.storeAbsent(fctx, key)
		}
		return b, err
	})
	select {
	case <-ctx.Done():
		return models.Brief{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Brief{}, res.Err
		}
		return res.Val.(models.Brief), nil
	}
}

func (c *CachedReference) Briefs(ctx context.Context, ids []domain.PolicyID) (map[domain.PolicyID]models.Brief, error) {
	out := make(map[domain.PolicyID]models.Brief, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}

	missing := ids
	var vals []any
	var err error
	if c.breaker.Allow() {
		vals, err = c.rdb.MGet(ctx, keys...).Result()
		c.observe(ctx, "multi-read", err)
	}
	if err == nil && vals != nil {
		missing = nil
		for i, v := range vals {
			s, isString := v.(string)
			if !isString {
				missing = append(missing, ids[i])
				continue
			}
			b, found, ok := c.decode(ctx, keys[i], s)
			switch {
			case !ok:
				missing = append(missing, ids[i])
			case found:
				out[ids[i]] = b
			}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.Briefs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		if b, ok := fetched[id]; ok {
			out[id] = b
			c.store(ctx, cacheKey(id), b)
		}
	}
	return out, nil
}

// decode returns ok=false for unreadable entries, which are treated as misses.
func (c *CachedReference) decode(ctx context.Context, key, raw string) (b models.Brief, found, ok bool) {
	if raw == absentMarker {
		return models.Brief{}, false, true
	}
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		c.logger.WarnContext(ctx, "policy cache entry unreadable", "key", key, "error", err)
		return models.Brief{}, false, false
	}
	return b, true, true
}

func (c *CachedReference) store(ctx context.Context, key string, b models.Brief) {
	payload, err := json.Marshal(b)
	if err != nil || c.breaker.IsOpen() {
		return
	}
	c.observe(ctx, "write", c.rdb.Set(ctx, key, payload, c.ttl).Err())
}

func (c *CachedReference) storeAbsent(ctx context.Context, key string) {
	if c.negativeTTL <= 0 || c.breaker.IsOpen() {
		return
	}
	c.observe(ctx, "write", c.rdb.Set(ctx, key, absentMarker, c.negativeTTL).Err())
}

// Invalidate drops cached entries for ids, e.g. after a policy is published
// under a previously missing id.
func (c *CachedReference) Invalidate(ctx context.Context, ids ...domain.PolicyID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
