package walleta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenCache(t *testing.T) {
	t.Run("CachesUntilBuffer", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
		var calls int32
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			n := atomic.AddInt32(&calls, 1)
			return fmt.Sprintf("token-%d", n), 5 * time.Minute, nil
		}, clock.Now)

		tok, err := cache.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-1", tok)

		clock.Advance(3 * time.Minute)
		tok, _ = cache.Token(context.Background())
		assert.Equal(t, "token-1", tok)

		// 4m01s in: less than 60s left, so the token is refreshed.
		clock.Advance(61 * time.Second)
		tok, _ = cache.Token(context.Background())
		assert.Equal(t, "token-2", tok)
		assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	})

	t.Run("ExplicitRefresh", func(t *testing.T) {
		clock := &fakeClock{now: time.Now()}
		var calls int32
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			n := atomic.AddInt32(&calls, 1)
			return fmt.Sprintf("token-%d", n), time.Hour, nil
		}, clock.Now)

		_, _ = cache.Token(context.Background())
		tok, err := cache.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-2", tok)

		cache.Invalidate()
		tok, _ = cache.Token(context.Background())
		assert.Equal(t, "token-3", tok)
	})

	t.Run("FetchError", func(t *testing.T) {
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			return "", 0, errors.New("unauthorized")
		}, nil)

		_, err := cache.Token(context.Background())
		assert.Error(t, err)
	})

	t.Run("ConcurrentCallersGetValidToken", func(t *testing.T) {
		var calls int32
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			n := atomic.AddInt32(&calls, 1)
			time.Sleep(5 * time.Millisecond)
			return fmt.Sprintf("token-%d", n), time.Hour, nil
		}, nil)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := cache.Token(context.Background())
				assert.NoError(t, err)
				assert.NotEmpty(t, tok)
			}()
		}
		wg.Wait()

		tok, err := cache.Token(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, tok)
		assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
	})
}
