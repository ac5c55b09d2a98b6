package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentvault/internal/keystore"
	"consentvault/internal/platform/metrics"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/tx"
	"consentvault/pkg/requestcontext"
)

func newKeys(t *testing.T) *keystore.Service {
	t.Helper()
	wrapper, err := keystore.NewWrapper(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	return keystore.NewService(keystore.NewInMemoryStore(), wrapper, tx.NewShardedRunner(time.Second))
}

func TestForget(t *testing.T) {
	ctx := requestcontext.WithSubjectID(context.Background(), 42)

	t.Run("first forget then repeat", func(t *testing.T) {
		keys := newKeys(t)
		m := metrics.New(prometheus.NewRegistry())
		svc := New(keys, WithMetrics(m))

		_, err := keys.ResolvePseudonym(ctx, 42)
		require.NoError(t, err)

		res, err := svc.Forget(ctx, 42)
		require.NoError(t, err)
		assert.False(t, res.AlreadyForgotten)

		res, err = svc.Forget(ctx, 42)
		require.NoError(t, err)
		assert.True(t, res.AlreadyForgotten)

		assert.InDelta(t, 1, testutil.ToFloat64(m.SubjectsForgotten.WithLabelValues("first")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.SubjectsForgotten.WithLabelValues("repeat")), 0)

		_, err = keys.ResolvePseudonym(ctx, 42)
		assert.ErrorIs(t, err, keystore.ErrSubjectErased)
	})

	t.Run("never seen subject", func(t *testing.T) {
		res, err := New(newKeys(t)).Forget(ctx, 42)
		require.NoError(t, err)
		assert.True(t, res.AlreadyForgotten)
	})

	t.Run("concurrent forgets report one first", func(t *testing.T) {
		keys := newKeys(t)
		svc := New(keys)
		_, err := keys.ResolvePseudonym(ctx, 42)
		require.NoError(t, err)

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			firsts int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := svc.Forget(ctx, 42)
				if err != nil {
					return
				}
				if !res.AlreadyForgotten {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, firsts)
	})

	t.Run("erase failure surfaces", func(t *testing.T) {
		_, err := New(failingEraser{}).Forget(ctx, 42)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

type failingEraser struct{}

func (failingEraser) Erase(context.Context, domain.SubjectID) (bool, error) {
	return false, dErrors.Wrap(errors.New("db down"), dErrors.CodeInternal, "failed to erase subject key")
}
