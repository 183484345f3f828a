package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  maxRetries,
		BaseBackoff: 1 * time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		JitterFn: func(d time.Duration) time.Duration {
			return 0
		},
	}
}

func TestRetry(t *testing.T) {
	t.Run("success_on_first_attempt", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastPolicy(3), func(attempt int) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("success_after_retry", func(t *testing.T) {
		var seen []int
		err := Retry(context.Background(), fastPolicy(3), func(attempt int) error {
			seen = append(seen, attempt)
			if attempt < 2 {
				return errors.New("failed")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("exhaust_retries", func(t *testing.T) {
		attempts := 0
		boom := errors.New("always fails")

		err := Retry(context.Background(), fastPolicy(2), func(int) error {
			attempts++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, attempts, "first attempt plus two retries")
	})

	t.Run("permanent_error_stops_immediately", func(t *testing.T) {
		attempts := 0
		boom := errors.New("bad config")

		err := Retry(context.Background(), fastPolicy(5), func(int) error {
			attempts++
			return Permanent(boom)
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context_cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		policy := fastPolicy(5)
		policy.BaseBackoff = time.Second
		policy.MaxBackoff = time.Second

		err := Retry(ctx, policy, func(int) error {
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("backoff_capped", func(t *testing.T) {
		policy := RetryPolicy{
			MaxRetries:  3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  2 * time.Millisecond,
			JitterFn:    func(d time.Duration) time.Duration { return d },
		}

		start := time.Now()
		_ = Retry(context.Background(), policy, func(int) error {
			return errors.New("fail")
		})
		assert.Less(t, time.Since(start), 150*time.Millisecond)
	})
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
