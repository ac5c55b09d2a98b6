package reference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/circuit"
)

// unreachableRedis points at a port nothing listens on.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCachedReferenceFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	breaker := circuit.New("test", circuit.WithFailureThreshold(3), circuit.WithCooldown(time.Hour))
	cached := NewCachedReference(seededStore(t), unreachableRedis(t), time.Minute, time.Minute, WithBreaker(breaker))

	b, err := cached.Brief(ctx, 1)
	require.NoError(t, err, "lookups read through to the store")
	assert.Equal(t, "1.0.0", b.Version)
	assert.False(t, breaker.IsOpen())

	_, err = cached.Brief(ctx, 1)
	require.NoError(t, err)
	assert.True(t, breaker.IsOpen(), "repeated redis failures open the breaker")

	briefs, err := cached.Briefs(ctx, []domain.PolicyID{1, 2})
	require.NoError(t, err)
	assert.Len(t, briefs, 1)
}

func TestCachedReferenceSharedFetchSurvivesCallerCancellation(t *testing.T) {
	breaker := circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	breaker.RecordFailure()
	require.True(t, breaker.IsOpen())
	cached := NewCachedReference(slowReference{delay: 100 * time.Millisecond}, unreachableRedis(t),
		time.Minute, time.Minute, WithBreaker(breaker), WithFetchTimeout(time.Second))

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	var wg sync.WaitGroup
	var errA, errB error
	var briefB models.Brief
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = cached.Brief(ctxA, 1)
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		defer wg.Done()
		briefB, errB = cached.Brief(context.Background(), 1)
	}()
	time.Sleep(5 * time.Millisecond)
	cancelA()
	wg.Wait()

	require.ErrorIs(t, errA, context.Canceled)
	require.NoError(t, errB, "a cancelled caller must not fail others sharing the fetch")
	assert.Equal(t, domain.PolicyID(1), briefB.ID)
}
