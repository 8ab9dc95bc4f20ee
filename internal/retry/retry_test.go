package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/models"
)

func fastPolicy(tries uint) Policy {
	return Policy{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "counter", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsPersistenceErrorWhenExhausted(t *testing.T) {
	calls := 0
	cause := errors.New("disk full")
	err := Do(context.Background(), fastPolicy(2), "counter", func() error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, models.IsPersistence(err))
	assert.ErrorIs(t, err, cause)
}

func TestDoDoesNotRetryMissingRows(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "counter", func() error {
		calls++
		return models.ErrNotFound
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, models.IsPersistence(err))
}
