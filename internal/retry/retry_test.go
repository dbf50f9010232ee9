package retry_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/retry"
	"github.com/scrypster/memorycore/pkg/types"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Logger:       log.New(&bytes.Buffer{}),
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), "save", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorUnchanged(t *testing.T) {
	last := types.NewStorageOperationError("save", errors.New("disk full"))
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), "save", func(context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier failure")
	})
	assert.Same(t, last, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ValidationErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(5), "save", func(context.Context) error {
		calls++
		return types.NewInvalidMemoryError("content", "must not be empty")
	})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, 1, calls)
}

func TestDo_NotFoundErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(5), "update", func(context.Context) error {
		calls++
		return types.NewNotFoundError("m1", "t1")
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(1), "save", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(10)
	p.InitialDelay = time.Hour
	p.MaxDelay = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retry.Do(ctx, p, "save", func(context.Context) error {
			calls++
			return errors.New("unavailable")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.EqualError(t, err, "unavailable")
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}

func TestDo_LogsEachRetry(t *testing.T) {
	var buf bytes.Buffer
	p := fastPolicy(3)
	p.Logger = log.New(&buf)

	_ = retry.Do(context.Background(), p, "save", func(context.Context) error {
		return errors.New("nope")
	})

	out := buf.String()
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("retrying operation")))
	assert.Contains(t, out, "op=save")
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := retry.DoValue(context.Background(), fastPolicy(3), "count", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFromConfig(t *testing.T) {
	p := retry.FromConfig(config.Default().Retry, nil)
	assert.Equal(t, retry.DefaultPolicy().MaxAttempts, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}
