package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompetitionLocks(t *testing.T) {
	ctx := context.Background()

	t.Run("serializes one competition", func(t *testing.T) {
		l := newCompetitionLocks()
		var (
			wg      sync.WaitGroup
			inside  atomic.Int32
			overlap atomic.Bool
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.lock(ctx, 1)
				if !assert.NoError(t, err) {
					return
				}
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				unlock()
			}()
		}
		wg.Wait()
		assert.False(t, overlap.Load())
		assert.Zero(t, l.len(), "idle locks are dropped")
	})

	t.Run("competitions are independent", func(t *testing.T) {
		l := newCompetitionLocks()
		unlock, err := l.lock(ctx, 1)
		require.NoError(t, err)
		defer unlock()

		other, err := l.lock(ctx, 2)
		require.NoError(t, err)
		other()
	})

	t.Run("waiting honours the context", func(t *testing.T) {
		l := newCompetitionLocks()
		unlock, err := l.lock(ctx, 1)
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err = l.lock(cctx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		assert.Zero(t, l.len())
	})
}
